package model

import "time"

type Client struct {
	ID           int64
	ClientID     string
	Secret       string
	Name         string
	RedirectURI  string
	RedirectURIs []string
	CreatedAt    time.Time
}

// AllowsRedirect reports whether uri exactly matches the registered
// redirect URI or one of the registered alternates.
func (c *Client) AllowsRedirect(uri string) bool {
	if uri == c.RedirectURI {
		return true
	}
	for _, alt := range c.RedirectURIs {
		if uri == alt {
			return true
		}
	}
	return false
}

const (
	OAuthTokenCode    = "code"
	OAuthTokenRefresh = "refresh"
)

type OAuthToken struct {
	Token       string
	Kind        string
	ClientID    string
	UserID      string
	Scope       string
	Nonce       string
	RedirectURI string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

type FloodEntry struct {
	ID        int64
	Kind      string
	Identity  string
	CreatedAt time.Time
}

const (
	FloodKindLogin = "login"
	FloodKindTOTP  = "totp"
)
