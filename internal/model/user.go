package model

import "time"

// PasswordMaxAge is how long a password stays valid before logins are
// refused and a reset is forced.
const PasswordMaxAge = 183 * 24 * time.Hour

type User struct {
	ID                string
	Email             string
	GivenName         string
	FamilyName        string
	PasswordHash      string
	EmailVerified     bool
	PasswordUpdatedAt time.Time
	TOTPEnabled       bool
	TOTPSecret        string
	IsAdmin           bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (u *User) Name() string {
	if u.GivenName == "" {
		return u.FamilyName
	}
	if u.FamilyName == "" {
		return u.GivenName
	}
	return u.GivenName + " " + u.FamilyName
}

// PasswordExpired reports whether the stored password is older than
// PasswordMaxAge. A zero PasswordUpdatedAt counts as expired.
func (u *User) PasswordExpired(now time.Time) bool {
	return now.Sub(u.PasswordUpdatedAt) > PasswordMaxAge
}

type TrustedDevice struct {
	ID        int64
	UserID    string
	UAHash    string
	Secret    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// PublicUser is the sanitized shape returned on authentication responses.
// The password hash and TOTP secret never leave the service layer.
type PublicUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	IsAdmin       bool   `json:"is_admin"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name(),
		GivenName:     u.GivenName,
		FamilyName:    u.FamilyName,
		EmailVerified: u.EmailVerified,
		IsAdmin:       u.IsAdmin,
	}
}
