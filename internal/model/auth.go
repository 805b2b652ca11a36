package model

// AuthRequest is the body of POST /jsonwebtoken and POST /admintoken.
// Exp is an optional unix-seconds expiry claim; when absent the issued
// token is stored as a revocable API key.
type AuthRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Exp      int64  `json:"exp,omitempty"`
}

type AuthResponse struct {
	User  PublicUser `json:"user"`
	Token string     `json:"token"`
}

type TokenRequest struct {
	Token string `json:"token"`
}

type SignRequest struct {
	URL string `json:"url"`
}

type SignResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

// LoginForm is the browser login form. The OAuth fields are carried through
// the login and TOTP steps so the flow can resume at /oauth/authorize.
type LoginForm struct {
	Email        string `form:"email"`
	Password     string `form:"password"`
	TOTP         string `form:"x-hid-totp"`
	TrustDevice  string `form:"x-hid-totp-trust"`
	ClientID     string `form:"client_id"`
	RedirectURI  string `form:"redirect_uri"`
	ResponseType string `form:"response_type"`
	Scope        string `form:"scope"`
	State        string `form:"state"`
	Nonce        string `form:"nonce"`
}

// AccessTokenResponse is the OAuth2 token endpoint response.
type AccessTokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
