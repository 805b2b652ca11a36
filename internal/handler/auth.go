package handler

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/civicid/backend/internal/config"
	"github.com/civicid/backend/internal/model"
	"github.com/civicid/backend/internal/observability"
	"github.com/civicid/backend/internal/service"
	"github.com/civicid/backend/internal/session"
	"github.com/civicid/backend/internal/template"
)

// trustCookieName holds the per-device secret that lets a browser skip the
// TOTP challenge on later logins.
const trustCookieName = "civicid_trust"

type AuthHandler struct {
	credentials *service.CredentialsService
	totp        *service.TOTPService
	tokens      *service.TokenService
	accounts    *service.AccountService
	users       service.UserRepo
	sessions    *session.Store
	sessionCfg  config.SessionConfig
	totpCfg     config.TOTPConfig
	signedTTL   time.Duration
	baseURL     string
	logger      *observability.Logger
}

func NewAuthHandler(
	credentials *service.CredentialsService,
	totp *service.TOTPService,
	tokens *service.TokenService,
	accounts *service.AccountService,
	users service.UserRepo,
	sessions *session.Store,
	sessionCfg config.SessionConfig,
	totpCfg config.TOTPConfig,
	authCfg config.AuthConfig,
	baseURL string,
	logger *observability.Logger,
) *AuthHandler {
	return &AuthHandler{
		credentials: credentials,
		totp:        totp,
		tokens:      tokens,
		accounts:    accounts,
		users:       users,
		sessions:    sessions,
		sessionCfg:  sessionCfg,
		totpCfg:     totpCfg,
		signedTTL:   authCfg.SignedURLTTL,
		baseURL:     baseURL,
		logger:      logger,
	}
}

// CreateToken issues a JWT for the caller. Credentials go in the body; a
// request without exp produces a stored API key that stays valid until
// blacklisted. Accounts with TOTP enabled must pass the X-HID-TOTP header
// unless the device is trusted.
func (h *AuthHandler) CreateToken(c *gin.Context) {
	var req model.AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	user, err := h.credentials.Verify(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	if err := h.passTOTPGate(c, user); err != nil {
		writeAuthError(c, err)
		return
	}

	var exp *time.Time
	if req.Exp > 0 {
		at := time.Unix(req.Exp, 0)
		if !at.After(time.Now()) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "exp is in the past"})
			return
		}
		exp = &at
	}

	token, err := h.tokens.Issue(c.Request.Context(), user.ID, exp)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.AuthResponse{User: user.Public(), Token: token})
}

// ListTokens returns the caller's stored API keys, blacklisted ones
// included.
func (h *AuthHandler) ListTokens(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	tokens, err := h.tokens.ListForUser(c.Request.Context(), user.ID)
	if err != nil {
		writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

// RevokeToken blacklists a token. Only the owner (or an admin) may revoke.
func (h *AuthHandler) RevokeToken(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req model.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	record, err := h.tokens.Blacklist(c.Request.Context(), req.Token, user.ID, user.IsAdmin)
	if err != nil {
		writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// AdminToken issues a token for an admin account. The caller is already
// bearer-authenticated; non-admins get a 403.
func (h *AuthHandler) AdminToken(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if !user.IsAdmin {
		writeAuthError(c, service.ErrForbidden)
		return
	}

	var req model.AuthRequest
	_ = c.ShouldBindJSON(&req)

	var exp *time.Time
	if req.Exp > 0 {
		at := time.Unix(req.Exp, 0)
		if !at.After(time.Now()) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "exp is in the past"})
			return
		}
		exp = &at
	}

	token, err := h.tokens.Issue(c.Request.Context(), user.ID, exp)
	if err != nil {
		writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.AuthResponse{User: user.Public(), Token: token})
}

// Login handles the browser form. It runs the credential chain, then the
// TOTP step when needed, and finally either resumes a pending OAuth flow or
// returns the user. An interrupted TOTP step leaves a half-open session that
// only this endpoint can complete.
func (h *AuthHandler) Login(c *gin.Context) {
	var form model.LoginForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if sid, err := c.Cookie(h.sessionCfg.CookieName); err == nil {
		if state, err := h.sessions.Get(c.Request.Context(), sid); err == nil && state.AwaitingTOTP() {
			h.loginTOTPStep(c, sid, state, form)
			return
		}
	}

	user, err := h.credentials.Verify(c.Request.Context(), form.Email, form.Password)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	if user.TOTPEnabled {
		trustSecret, _ := c.Cookie(trustCookieName)
		required, err := h.totp.RequiresChallenge(c.Request.Context(), user, c.GetHeader("User-Agent"), trustSecret)
		if err != nil {
			writeAuthError(c, err)
			return
		}
		if required {
			if form.TOTP == "" {
				sid, err := h.sessions.Create(c.Request.Context(), session.State{UserID: user.ID})
				if err != nil {
					writeAuthError(c, err)
					return
				}
				h.setSessionCookie(c, sid)
				c.JSON(http.StatusOK, gin.H{"status": "totp_required"})
				return
			}
			if err := h.totp.Challenge(c.Request.Context(), user, form.TOTP); err != nil {
				writeAuthError(c, err)
				return
			}
			h.maybeTrustDevice(c, user, form)
		}
	}

	sid, err := h.sessions.Create(c.Request.Context(), session.State{UserID: user.ID, TOTP: true})
	if err != nil {
		writeAuthError(c, err)
		return
	}
	h.setSessionCookie(c, sid)
	h.finishLogin(c, user, form)
}

func (h *AuthHandler) loginTOTPStep(c *gin.Context, sid string, state session.State, form model.LoginForm) {
	user, err := h.users.GetUserByID(c.Request.Context(), state.UserID)
	if err != nil {
		writeAuthError(c, service.ErrInvalidCredentials)
		return
	}
	if form.TOTP == "" {
		c.JSON(http.StatusOK, gin.H{"status": "totp_required"})
		return
	}
	if err := h.totp.Challenge(c.Request.Context(), user, form.TOTP); err != nil {
		writeAuthError(c, err)
		return
	}
	h.maybeTrustDevice(c, user, form)

	state.TOTP = true
	if err := h.sessions.Set(c.Request.Context(), sid, state); err != nil {
		writeAuthError(c, err)
		return
	}
	h.finishLogin(c, user, form)
}

func (h *AuthHandler) maybeTrustDevice(c *gin.Context, user *model.User, form model.LoginForm) {
	if form.TrustDevice == "" {
		return
	}
	secret, err := h.totp.TrustDevice(c.Request.Context(), user, c.GetHeader("User-Agent"))
	if err != nil {
		h.logger.Error("could not trust device", map[string]any{"user": user.ID, "error": err.Error()})
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(trustCookieName, secret, int(h.totpCfg.TrustTTL.Seconds()), "/", "", h.sessionCfg.CookieSecure, true)
}

func (h *AuthHandler) finishLogin(c *gin.Context, user *model.User, form model.LoginForm) {
	if form.ClientID != "" {
		q := url.Values{}
		q.Set("client_id", form.ClientID)
		q.Set("redirect_uri", form.RedirectURI)
		q.Set("response_type", form.ResponseType)
		if form.Scope != "" {
			q.Set("scope", form.Scope)
		}
		if form.State != "" {
			q.Set("state", form.State)
		}
		if form.Nonce != "" {
			q.Set("nonce", form.Nonce)
		}
		c.Redirect(http.StatusFound, "/oauth/authorize?"+q.Encode())
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user.Public()})
}

// Logout drops the session and clears the cookie. The trust cookie stays,
// a logout is not a reason to distrust the device.
func (h *AuthHandler) Logout(c *gin.Context) {
	if sid, err := c.Cookie(h.sessionCfg.CookieName); err == nil {
		_ = h.sessions.Delete(c.Request.Context(), sid)
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessionCfg.CookieName, "", -1, "/", "", h.sessionCfg.CookieSecure, true)
	c.Redirect(http.StatusFound, "/")
}

// SignURL issues a short-lived token bound to a single URL so the link can
// be shared without exposing the caller's bearer token.
func (h *AuthHandler) SignURL(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req model.SignRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid url"})
		return
	}

	token, err := h.tokens.IssueSignedURL(user.ID, req.URL, h.signedTTL)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	q := parsed.Query()
	q.Set("token", token)
	parsed.RawQuery = q.Encode()
	c.JSON(http.StatusOK, model.SignResponse{Token: token, URL: parsed.String()})
}

// Register creates an unverified account. The verification link is logged
// where a mailer would pick it up.
func (h *AuthHandler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	user, token, err := h.accounts.Register(c.Request.Context(), req)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	// No mailer is wired up yet, so the rendered email lands in the log.
	userData := template.UserDataFromModel(user)
	body := template.RenderBody(template.VerifyEmailBody, &userData, &template.LinkData{
		URL:       h.baseURL + "/verify?token=" + token,
		ExpiresAt: time.Now().Add(7 * 24 * time.Hour),
	})
	h.logger.Info("verification email", map[string]any{
		"user": user.ID,
		"to":   user.Email,
		"body": body,
	})
	c.JSON(http.StatusCreated, gin.H{"user": user.Public()})
}

// Verify consumes an emailed verification token.
func (h *AuthHandler) Verify(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		var req model.TokenRequest
		if err := c.ShouldBindJSON(&req); err == nil {
			token = req.Token
		}
	}
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid link"})
		return
	}
	user, err := h.accounts.VerifyEmail(c.Request.Context(), token)
	if err != nil {
		writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user.Public()})
}

func (h *AuthHandler) passTOTPGate(c *gin.Context, user *model.User) error {
	if !user.TOTPEnabled {
		return nil
	}
	trustSecret, _ := c.Cookie(trustCookieName)
	if trustSecret == "" {
		trustSecret = c.GetHeader("X-HID-TOTP-TRUST")
	}
	required, err := h.totp.RequiresChallenge(c.Request.Context(), user, c.GetHeader("User-Agent"), trustSecret)
	if err != nil {
		return err
	}
	if !required {
		return nil
	}
	code := c.GetHeader("X-HID-TOTP")
	if code == "" {
		return service.ErrInvalidTOTP
	}
	return h.totp.Challenge(c.Request.Context(), user, code)
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, sid string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessionCfg.CookieName, sid, int(h.sessionCfg.TTL.Seconds()), "/", "", h.sessionCfg.CookieSecure, true)
}

func writeAuthError(c *gin.Context, err error) {
	switch err {
	case service.ErrMissingCredentials:
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing credentials"})
	case service.ErrInvalidCredentials:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case service.ErrEmailNotVerified:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "email not verified"})
	case service.ErrPasswordExpired:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "password expired"})
	case service.ErrInvalidTOTP:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid totp code"})
	case service.ErrTooManyAttempts:
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts"})
	case service.ErrInvalidToken, service.ErrExpiredToken:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case service.ErrForbidden:
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case service.ErrConflict:
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
	case service.ErrInvalidLink:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid link"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
	}
}
