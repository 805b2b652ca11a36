package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/civicid/backend/internal/db"
	"github.com/civicid/backend/internal/model"
	"github.com/civicid/backend/internal/observability"
)

// verifyLinkMaxAge bounds how long an emailed verification link stays
// usable.
const verifyLinkMaxAge = 7 * 24 * time.Hour

type AccountRepo interface {
	CreateUser(ctx context.Context, email, givenName, familyName, passwordHash string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
	MarkEmailVerified(ctx context.Context, userID string) error
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
}

// AccountService covers registration and the email-verification handshake.
// New accounts start unverified; the verification token is derived from the
// stored password hash so changing the password invalidates old links.
type AccountService struct {
	repo   AccountRepo
	logger *observability.Logger
	now    func() time.Time
}

func NewAccountService(repo AccountRepo, logger *observability.Logger) *AccountService {
	return &AccountService{repo: repo, logger: logger, now: time.Now}
}

// Register creates an unverified account and returns it together with the
// verification token that would be emailed to the user.
func (s *AccountService) Register(ctx context.Context, req model.RegisterRequest) (*model.User, string, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, "", ErrMissingCredentials
	}

	if _, err := s.repo.GetUserByEmail(ctx, email); err == nil {
		return nil, "", ErrConflict
	} else if !db.IsNoRows(err) {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	user, err := s.repo.CreateUser(ctx, email, req.GivenName, req.FamilyName, string(hash))
	if err != nil {
		return nil, "", err
	}

	token, err := s.verifyToken(user, s.now())
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("user registered", map[string]any{"user": user.ID, "email": email})
	return user, token, nil
}

// VerifyEmail validates a verification token and marks the account
// verified. Any malformed, stale or mismatched token yields ErrInvalidLink
// without detail.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) (*model.User, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidLink
	}
	parts := strings.SplitN(string(raw), "/", 3)
	if len(parts) != 3 {
		return nil, ErrInvalidLink
	}
	email, tsPart, mac := parts[0], parts[1], parts[2]

	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return nil, ErrInvalidLink
	}
	issued := time.Unix(ts, 0)
	if s.now().Sub(issued) > verifyLinkMaxAge || issued.After(s.now()) {
		return nil, ErrInvalidLink
	}

	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(email))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrInvalidLink
		}
		return nil, err
	}

	digest, err := base64.RawURLEncoding.DecodeString(mac)
	if err != nil {
		return nil, ErrInvalidLink
	}
	if bcrypt.CompareHashAndPassword(digest, verifyMaterial(user, ts)) != nil {
		s.logger.Warn("email verification failed", map[string]any{"user": user.ID})
		return nil, ErrInvalidLink
	}

	if !user.EmailVerified {
		if err := s.repo.MarkEmailVerified(ctx, user.ID); err != nil {
			return nil, err
		}
		user.EmailVerified = true
		s.logger.Info("email verified", map[string]any{"user": user.ID})
	}
	return user, nil
}

// UpdatePassword replaces the password after checking the current one,
// which resets the expiry clock and invalidates outstanding verify links.
func (s *AccountService) UpdatePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return ErrMissingCredentials
	}
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if db.IsNoRows(err) {
			return ErrInvalidCredentials
		}
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)) != nil {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePasswordHash(ctx, userID, string(hash)); err != nil {
		return err
	}
	s.logger.Info("password updated", map[string]any{"user": userID})
	return nil
}

func (s *AccountService) verifyToken(user *model.User, now time.Time) (string, error) {
	ts := now.Unix()
	digest, err := bcrypt.GenerateFromPassword(verifyMaterial(user, ts), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	payload := fmt.Sprintf("%s/%d/%s", user.Email, ts, base64.RawURLEncoding.EncodeToString(digest))
	return base64.RawURLEncoding.EncodeToString([]byte(payload)), nil
}

// verifyMaterial compresses the token inputs to a fixed-size digest;
// bcrypt refuses inputs longer than 72 bytes.
func verifyMaterial(user *model.User, ts int64) []byte {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s%d%s", user.PasswordHash, ts, user.ID)))
	return sum[:]
}
