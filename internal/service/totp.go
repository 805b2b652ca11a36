package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/civicid/backend/internal/config"
	"github.com/civicid/backend/internal/db"
	"github.com/civicid/backend/internal/model"
	"github.com/civicid/backend/internal/observability"
)

const (
	totpPeriod = 30
	totpDigits = 6
)

type TrustedDeviceRepo interface {
	UpsertTrustedDevice(ctx context.Context, userID, uaHash, secret string, expiresAt time.Time) error
	GetTrustedDevice(ctx context.Context, userID, uaHash string) (*model.TrustedDevice, error)
}

// TOTPService runs the second-factor challenge and the trusted-device
// exemption around it.
type TOTPService struct {
	repo   TrustedDeviceRepo
	flood  *FloodService
	cfg    config.TOTPConfig
	logger *observability.Logger
	now    func() time.Time
}

func NewTOTPService(repo TrustedDeviceRepo, flood *FloodService, cfg config.TOTPConfig, logger *observability.Logger) *TOTPService {
	return &TOTPService{repo: repo, flood: flood, cfg: cfg, logger: logger, now: time.Now}
}

// RequiresChallenge reports whether user must present a one-time code.
// False when TOTP is disabled on the account, or when trustSecret matches a
// non-expired trusted device recorded for this user agent.
func (s *TOTPService) RequiresChallenge(ctx context.Context, user *model.User, userAgent, trustSecret string) (bool, error) {
	if !user.TOTPEnabled {
		return false, nil
	}
	if trustSecret == "" {
		return true, nil
	}

	device, err := s.repo.GetTrustedDevice(ctx, user.ID, DeviceFingerprint(userAgent))
	if err != nil {
		if db.IsNoRows(err) {
			return true, nil
		}
		return false, err
	}
	if s.now().After(device.ExpiresAt) {
		return true, nil
	}
	if subtle.ConstantTimeCompare([]byte(device.Secret), []byte(trustSecret)) != 1 {
		return true, nil
	}
	return false, nil
}

// Challenge validates a submitted one-time code. The flood lockout check
// runs before the code is looked at, mirroring the login chain.
func (s *TOTPService) Challenge(ctx context.Context, user *model.User, code string) error {
	locked, err := s.flood.IsLocked(ctx, model.FloodKindTOTP, user.ID)
	if err != nil {
		return err
	}
	if locked {
		return ErrTooManyAttempts
	}

	ok, err := s.verifyCode(user.TOTPSecret, code)
	if err != nil {
		return err
	}
	if !ok {
		if err := s.flood.RecordFailure(ctx, model.FloodKindTOTP, user.ID); err != nil {
			return err
		}
		s.logger.Warn("totp challenge failed", map[string]any{"user": user.ID})
		return ErrInvalidTOTP
	}
	return nil
}

// TrustDevice records the current browser as exempt from TOTP prompts and
// returns the secret the caller should set as a long-lived cookie.
func (s *TOTPService) TrustDevice(ctx context.Context, user *model.User, userAgent string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)

	expiresAt := s.now().Add(s.cfg.TrustTTL)
	if err := s.repo.UpsertTrustedDevice(ctx, user.ID, DeviceFingerprint(userAgent), secret, expiresAt); err != nil {
		return "", err
	}
	return secret, nil
}

func (s *TOTPService) ProvisionURI(secret, account string) string {
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s&period=%d&digits=%d&algorithm=SHA1",
		s.cfg.Issuer, account, secret, s.cfg.Issuer, totpPeriod, totpDigits)
}

func (s *TOTPService) verifyCode(secretBase32, code string) (bool, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != totpDigits {
		return false, nil
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return false, nil
		}
	}

	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secretBase32))
	if err != nil {
		return false, fmt.Errorf("decode totp secret: %w", err)
	}

	baseCounter := s.now().Unix() / totpPeriod
	for step := -s.cfg.Skew; step <= s.cfg.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated := hotpCode(secret, counter)
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

func hotpCode(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	return fmt.Sprintf("%06d", bin%1000000)
}

var uaDigits = regexp.MustCompile(`[0-9]+`)

// DeviceFingerprint derives the trusted-device key from a user agent.
// Digit runs collapse to "#" before hashing so patch-level version bumps
// map to the same device instead of piling up new entries.
func DeviceFingerprint(userAgent string) string {
	normalized := uaDigits.ReplaceAllString(strings.ToLower(strings.TrimSpace(userAgent)), "#")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
