package service

import "errors"

// Policy rejections. None of these are retryable; transient storage errors
// are returned as-is (wrapped) so callers can tell the two apart.
var (
	ErrMissingCredentials = errors.New("missing email or password")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrTooManyAttempts    = errors.New("account locked because of too many attempts")
	ErrEmailNotVerified   = errors.New("email address not verified")
	ErrPasswordExpired    = errors.New("password is expired")
	ErrInvalidTOTP        = errors.New("invalid totp code")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token is expired")
	ErrForbidden          = errors.New("forbidden")
	ErrClientNotFound     = errors.New("oauth client not found")
	ErrRedirectMismatch   = errors.New("redirect uri does not match client registration")
	ErrInvalidGrant       = errors.New("invalid grant")
	ErrInvalidClientAuth  = errors.New("invalid client authentication")
	ErrInvalidLink        = errors.New("invalid or expired confirmation link")
	ErrConflict           = errors.New("conflict")
)
