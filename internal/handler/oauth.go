package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/civicid/backend/internal/config"
	"github.com/civicid/backend/internal/service"
	"github.com/civicid/backend/internal/session"
)

type OAuthHandler struct {
	oauth      *service.OAuthService
	tokens     *service.TokenService
	sessions   *session.Store
	sessionCfg config.SessionConfig
	baseURL    string
}

func NewOAuthHandler(oauth *service.OAuthService, tokens *service.TokenService, sessions *session.Store, sessionCfg config.SessionConfig, baseURL string) *OAuthHandler {
	return &OAuthHandler{
		oauth:      oauth,
		tokens:     tokens,
		sessions:   sessions,
		sessionCfg: sessionCfg,
		baseURL:    baseURL,
	}
}

// Authorize is the entry point of the authorization-code flow. Depending on
// session and consent state it redirects to the client, to the login page,
// or returns the consent prompt.
func (h *OAuthHandler) Authorize(c *gin.Context) {
	req := service.AuthorizeRequest{
		ClientID:     c.Query("client_id"),
		RedirectURI:  c.Query("redirect_uri"),
		ResponseType: c.Query("response_type"),
		Scope:        c.Query("scope"),
		State:        c.Query("state"),
		Nonce:        c.Query("nonce"),
		Prompt:       c.Query("prompt"),
	}

	result, err := h.oauth.Authorize(c.Request.Context(), h.sessionState(c), req)
	if err != nil {
		writeOAuthError(c, err)
		return
	}
	h.writeAuthorizeResult(c, result)
}

// Decision completes the consent prompt. The transaction id binds the POST
// to the Authorize call that produced the prompt.
func (h *OAuthHandler) Decision(c *gin.Context) {
	state := h.sessionState(c)
	if !state.Authenticated() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	transactionID := c.PostForm("transaction_id")
	allow := c.PostForm("decision") == "allow"

	result, err := h.oauth.Decide(c.Request.Context(), state, transactionID, allow)
	if err != nil {
		writeOAuthError(c, err)
		return
	}
	h.writeAuthorizeResult(c, result)
}

// AccessToken is the OAuth2 token endpoint. Client credentials come from
// HTTP Basic or the form body.
func (h *OAuthHandler) AccessToken(c *gin.Context) {
	req := service.ExchangeRequest{
		GrantType:    c.PostForm("grant_type"),
		Code:         c.PostForm("code"),
		RefreshToken: c.PostForm("refresh_token"),
		RedirectURI:  c.PostForm("redirect_uri"),
		ClientID:     c.PostForm("client_id"),
		ClientSecret: c.PostForm("client_secret"),
	}
	if id, secret, ok := c.Request.BasicAuth(); ok {
		req.ClientID = id
		req.ClientSecret = secret
	}

	response, err := h.oauth.Exchange(c.Request.Context(), req)
	if err != nil {
		writeOAuthError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(http.StatusOK, response)
}

// OpenIDConfiguration serves the discovery document.
func (h *OAuthHandler) OpenIDConfiguration(c *gin.Context) {
	c.JSON(http.StatusOK, h.oauth.OpenIDConfiguration(h.baseURL))
}

// JWKS publishes the signing public key.
func (h *OAuthHandler) JWKS(c *gin.Context) {
	c.JSON(http.StatusOK, h.tokens.JWKS())
}

// UserInfo returns the profile of the bearer-authenticated user.
func (h *OAuthHandler) UserInfo(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, user.Public())
}

func (h *OAuthHandler) sessionState(c *gin.Context) session.State {
	sid, err := c.Cookie(h.sessionCfg.CookieName)
	if err != nil {
		return session.State{}
	}
	state, err := h.sessions.Get(c.Request.Context(), sid)
	if err != nil {
		return session.State{}
	}
	return state
}

func (h *OAuthHandler) writeAuthorizeResult(c *gin.Context, result *service.AuthorizeResult) {
	switch result.Decision {
	case service.DecisionPrompt:
		c.JSON(http.StatusOK, gin.H{
			"client_name":    result.ClientName,
			"transaction_id": result.TransactionID,
		})
	case service.DecisionConfigProblem:
		body := gin.H{"error": "the application configuration is invalid"}
		if result.BackURL != "" {
			body["back"] = result.BackURL
		}
		c.JSON(http.StatusBadRequest, body)
	default:
		c.Redirect(http.StatusFound, result.RedirectURL)
	}
}

func writeOAuthError(c *gin.Context, err error) {
	switch err {
	case service.ErrInvalidClientAuth:
		c.Header("WWW-Authenticate", `Basic realm="oauth"`)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
	case service.ErrInvalidGrant, service.ErrRedirectMismatch:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant"})
	case service.ErrForbidden:
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
	}
}
