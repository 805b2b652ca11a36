package service

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/civicid/backend/internal/config"
	"github.com/civicid/backend/internal/db"
	"github.com/civicid/backend/internal/model"
	"github.com/civicid/backend/internal/observability"
)

type BearerTokenRepo interface {
	UpsertBearerToken(ctx context.Context, token, userID string, blacklisted bool) (*model.BearerToken, error)
	GetBearerToken(ctx context.Context, token string) (*model.BearerToken, error)
	ListBearerTokens(ctx context.Context, userID string) ([]model.BearerToken, error)
}

// Claims is the signed payload of every token this service issues. ID is
// the owning account; URL is only set on signed download requests.
type Claims struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies bearer tokens with an RSA key pair.
// Signing is asymmetric so relying parties can verify tokens against the
// public key published at /oauth/jwks without holding signing material.
type TokenService struct {
	repo       BearerTokenRepo
	privateKey *rsa.PrivateKey
	keyID      string
	issuer     string
	logger     *observability.Logger
}

func NewTokenService(repo BearerTokenRepo, cfg config.AuthConfig, issuer string, logger *observability.Logger) (*TokenService, error) {
	if cfg.PrivateKeyPEM == "" {
		return nil, errors.New("JWT_PRIVATE_KEY is required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse JWT_PRIVATE_KEY: %w", err)
	}

	return &TokenService{
		repo:       repo,
		privateKey: key,
		keyID:      cfg.KeyID,
		issuer:     issuer,
		logger:     logger,
	}, nil
}

// Issue signs a token for userID. When exp is nil the token never expires on
// its own; it is recorded as an API key so it can be blacklisted later.
// Tokens with an expiry are ephemeral and are never persisted, which makes
// them irrevocable before natural expiry.
func (s *TokenService) Issue(ctx context.Context, userID string, exp *time.Time) (string, error) {
	claims := Claims{
		ID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if exp != nil {
		claims.ExpiresAt = jwt.NewNumericDate(*exp)
	}

	signed, err := s.sign(claims)
	if err != nil {
		return "", err
	}

	if exp == nil {
		if _, err := s.repo.UpsertBearerToken(ctx, signed, userID, false); err != nil {
			return "", err
		}
		s.logger.Warn("created an API key", map[string]any{"user": userID})
	}
	return signed, nil
}

// IssueSignedURL creates a short-lived token bound to url, used to sign
// file download requests.
func (s *TokenService) IssueSignedURL(userID, url string, ttl time.Duration) (string, error) {
	now := time.Now()
	return s.sign(Claims{
		ID:  userID,
		URL: url,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
}

// IssueIDToken builds the OpenID Connect id_token for an authorization-code
// exchange.
func (s *TokenService) IssueIDToken(user *model.User, clientID, nonce string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":            s.issuer,
		"sub":            user.ID,
		"aud":            clientID,
		"iat":            now.Unix(),
		"exp":            now.Add(ttl).Unix(),
		"name":           user.Name(),
		"email":          user.Email,
		"email_verified": user.EmailVerified,
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keyID
	return token.SignedString(s.privateKey)
}

func (s *TokenService) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keyID
	return token.SignedString(s.privateKey)
}

// Verify checks signature and structure. Expiry failures surface as
// ErrExpiredToken, everything else as ErrInvalidToken.
func (s *TokenService) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrInvalidToken
		}
		return &s.privateKey.PublicKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IsValid verifies the token and, when a stored record exists for it,
// requires the blacklist flag to be clear.
func (s *TokenService) IsValid(ctx context.Context, tokenStr string) (*Claims, error) {
	claims, err := s.Verify(tokenStr)
	if err != nil {
		return nil, err
	}

	record, err := s.repo.GetBearerToken(ctx, tokenStr)
	if err != nil {
		if db.IsNoRows(err) {
			return claims, nil
		}
		return nil, err
	}
	if record.Blacklisted {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Blacklist revokes a stored API key. Only the account that generated the
// token may blacklist it, except for admins.
func (s *TokenService) Blacklist(ctx context.Context, tokenStr, requestingUserID string, admin bool) (*model.BearerToken, error) {
	claims, err := s.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.ID != requestingUserID && !admin {
		s.logger.Warn("blacklist refused for non-owner", map[string]any{"user": requestingUserID})
		return nil, ErrForbidden
	}

	record, err := s.repo.UpsertBearerToken(ctx, tokenStr, claims.ID, true)
	if err != nil {
		return nil, err
	}
	s.logger.Info("token blacklisted", map[string]any{"user": requestingUserID})
	return record, nil
}

func (s *TokenService) ListForUser(ctx context.Context, userID string) ([]model.BearerToken, error) {
	return s.repo.ListBearerTokens(ctx, userID)
}

// JWK is the public signing key in JSON Web Key form.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

func (s *TokenService) JWKS() JWKS {
	pub := &s.privateKey.PublicKey
	return JWKS{Keys: []JWK{{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: s.keyID,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
}
