package service

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/civicid/backend/internal/db"
	"github.com/civicid/backend/internal/model"
	"github.com/civicid/backend/internal/observability"
)

type UserRepo interface {
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
}

// CredentialsService validates email+password pairs. All logins go through
// Verify, which applies the precondition chain in a fixed order and logs the
// precise internal reason while surfacing deliberately generic errors.
type CredentialsService struct {
	repo   UserRepo
	flood  *FloodService
	logger *observability.Logger
	now    func() time.Time
}

func NewCredentialsService(repo UserRepo, flood *FloodService, logger *observability.Logger) *CredentialsService {
	return &CredentialsService{repo: repo, flood: flood, logger: logger, now: time.Now}
}

func (s *CredentialsService) Verify(ctx context.Context, email, password string) (*model.User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	email = strings.ToLower(strings.TrimSpace(email))

	locked, err := s.flood.IsLocked(ctx, model.FloodKindLogin, email)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, ErrTooManyAttempts
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if db.IsNoRows(err) {
			// Indistinguishable from a wrong password so the endpoint
			// cannot be used to enumerate accounts.
			s.logger.Warn("login failed", map[string]any{"email": email, "reason": "user_not_found"})
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.EmailVerified {
		s.logger.Warn("login failed", map[string]any{"user": user.ID, "reason": "email_not_verified"})
		return nil, ErrEmailNotVerified
	}

	if user.PasswordExpired(s.now()) {
		s.logger.Warn("login failed", map[string]any{"user": user.ID, "reason": "password_expired"})
		return nil, ErrPasswordExpired
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if err := s.flood.RecordFailure(ctx, model.FloodKindLogin, email); err != nil {
			return nil, err
		}
		s.logger.Warn("login failed", map[string]any{"user": user.ID, "reason": "password_mismatch"})
		return nil, ErrInvalidCredentials
	}

	return user, nil
}
