package service

import (
	"context"
	"crypto/subtle"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/civicid/backend/internal/config"
	"github.com/civicid/backend/internal/db"
	"github.com/civicid/backend/internal/model"
	"github.com/civicid/backend/internal/observability"
	"github.com/civicid/backend/internal/session"
)

type OAuthRepo interface {
	GetClientByClientID(ctx context.Context, clientID string) (*model.Client, error)
	CreateOAuthToken(ctx context.Context, token *model.OAuthToken) error
	ConsumeOAuthToken(ctx context.Context, token, kind string) (*model.OAuthToken, error)
	GetOAuthToken(ctx context.Context, token, kind string) (*model.OAuthToken, error)
	AddAuthorizedClient(ctx context.Context, userID, clientID string) error
	HasAuthorizedClient(ctx context.Context, userID, clientID string) (bool, error)
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
}

// AuthorizeRequest carries the query parameters of GET /oauth/authorize.
type AuthorizeRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	Scope        string
	State        string
	Nonce        string
	Prompt       string
}

type AuthorizeDecision int

const (
	// DecisionError redirects back to the caller with an OAuth error code.
	DecisionError AuthorizeDecision = iota
	// DecisionLogin sends the user to the login page, preserving the OAuth
	// parameters so the flow can resume.
	DecisionLogin
	// DecisionApproved redirects to the client with a fresh authorization
	// code.
	DecisionApproved
	// DecisionPrompt asks the user to allow or deny the client.
	DecisionPrompt
	// DecisionConfigProblem shows the generic configuration-problem message;
	// the precise cause is only logged.
	DecisionConfigProblem
)

type AuthorizeResult struct {
	Decision      AuthorizeDecision
	RedirectURL   string
	ClientName    string
	TransactionID string
	// BackURL is the origin of the failing redirect URI when it could be
	// derived, so the error page can offer a way back.
	BackURL string
}

// OAuthService implements the authorization-code grant: client validation,
// consent tracking, code issuance and the code/refresh exchange. It holds no
// state between requests beyond the transaction entries in the session
// store.
type OAuthService struct {
	repo     OAuthRepo
	tokens   *TokenService
	sessions *session.Store
	cfg      config.OAuthConfig
	access   time.Duration
	logger   *observability.Logger
}

func NewOAuthService(repo OAuthRepo, tokens *TokenService, sessions *session.Store, cfg config.OAuthConfig, accessTTL time.Duration, logger *observability.Logger) *OAuthService {
	return &OAuthService{
		repo:     repo,
		tokens:   tokens,
		sessions: sessions,
		cfg:      cfg,
		access:   accessTTL,
		logger:   logger,
	}
}

// Authorize runs the user-facing entry point of the OAuth flow up to the
// allow/deny prompt, auto-approving when consent is already on record.
func (s *OAuthService) Authorize(ctx context.Context, sess session.State, req AuthorizeRequest) (*AuthorizeResult, error) {
	// The missing response_type check happens before anything else,
	// including the session check.
	if req.ResponseType == "" {
		s.logger.Warn("authorization rejected", map[string]any{
			"client_id": req.ClientID,
			"reason":    "missing_response_type",
		})
		return &AuthorizeResult{
			Decision:    DecisionError,
			RedirectURL: errorRedirect(req, "invalid_request"),
		}, nil
	}

	if !sess.Authenticated() || req.Prompt == "login" {
		if req.Prompt == "none" {
			return &AuthorizeResult{
				Decision:    DecisionError,
				RedirectURL: errorRedirect(req, "login_required"),
			}, nil
		}
		s.logger.Info("authorize without session, redirecting to login", map[string]any{
			"client_id": req.ClientID,
		})
		return &AuthorizeResult{
			Decision:    DecisionLogin,
			RedirectURL: loginRedirect(req),
		}, nil
	}

	client, err := s.repo.GetClientByClientID(ctx, req.ClientID)
	if err != nil {
		if db.IsNoRows(err) {
			s.logger.Warn("authorization rejected", map[string]any{
				"client_id": req.ClientID,
				"reason":    "client_not_found",
			})
			return &AuthorizeResult{Decision: DecisionConfigProblem}, nil
		}
		return nil, err
	}

	if !client.AllowsRedirect(req.RedirectURI) {
		s.logger.Warn("authorization rejected", map[string]any{
			"client_id":    req.ClientID,
			"redirect_uri": req.RedirectURI,
			"reason":       "redirect_mismatch",
		})
		result := &AuthorizeResult{Decision: DecisionConfigProblem}
		if parsed, err := url.Parse(req.RedirectURI); err == nil && parsed.Scheme != "" && parsed.Host != "" {
			result.BackURL = parsed.Scheme + "://" + parsed.Host
		}
		return result, nil
	}

	authorized, err := s.repo.HasAuthorizedClient(ctx, sess.UserID, client.ClientID)
	if err != nil {
		return nil, err
	}
	if authorized {
		return s.approve(ctx, session.PendingAuthorization{
			UserID:      sess.UserID,
			ClientID:    client.ClientID,
			RedirectURI: req.RedirectURI,
			Scope:       req.Scope,
			State:       req.State,
			Nonce:       req.Nonce,
		})
	}

	if req.Prompt == "none" {
		return &AuthorizeResult{
			Decision:    DecisionError,
			RedirectURL: errorRedirect(req, "interaction_required"),
		}, nil
	}

	transactionID, err := s.sessions.CreateTransaction(ctx, session.PendingAuthorization{
		UserID:      sess.UserID,
		ClientID:    client.ClientID,
		RedirectURI: req.RedirectURI,
		Scope:       req.Scope,
		State:       req.State,
		Nonce:       req.Nonce,
	})
	if err != nil {
		return nil, err
	}

	return &AuthorizeResult{
		Decision:      DecisionPrompt,
		ClientName:    client.Name,
		TransactionID: transactionID,
	}, nil
}

// Decide consumes the pending transaction created by Authorize. Deny sends
// the user to a safe default location without leaking anything to the
// client; allow records consent (idempotently) and issues the code.
func (s *OAuthService) Decide(ctx context.Context, sess session.State, transactionID string, allow bool) (*AuthorizeResult, error) {
	pending, err := s.sessions.ConsumeTransaction(ctx, transactionID)
	if err != nil {
		if err == session.ErrNotFound {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}
	if pending.UserID != sess.UserID {
		return nil, ErrForbidden
	}

	if !allow {
		return &AuthorizeResult{Decision: DecisionApproved, RedirectURL: "/"}, nil
	}

	if err := s.repo.AddAuthorizedClient(ctx, pending.UserID, pending.ClientID); err != nil {
		return nil, err
	}
	s.logger.Info("client added to authorized list", map[string]any{
		"user":      pending.UserID,
		"client_id": pending.ClientID,
	})

	return s.approve(ctx, pending)
}

func (s *OAuthService) approve(ctx context.Context, pending session.PendingAuthorization) (*AuthorizeResult, error) {
	code := uuid.NewString()
	err := s.repo.CreateOAuthToken(ctx, &model.OAuthToken{
		Token:       code,
		Kind:        model.OAuthTokenCode,
		ClientID:    pending.ClientID,
		UserID:      pending.UserID,
		Scope:       pending.Scope,
		Nonce:       pending.Nonce,
		RedirectURI: pending.RedirectURI,
		ExpiresAt:   time.Now().Add(s.cfg.CodeTTL),
	})
	if err != nil {
		return nil, err
	}

	redirect, err := url.Parse(pending.RedirectURI)
	if err != nil {
		return nil, ErrRedirectMismatch
	}
	q := redirect.Query()
	q.Set("code", code)
	if pending.State != "" {
		q.Set("state", pending.State)
	}
	redirect.RawQuery = q.Encode()

	return &AuthorizeResult{Decision: DecisionApproved, RedirectURL: redirect.String()}, nil
}

// ExchangeRequest is the token endpoint input after the handler has
// resolved client credentials from either HTTP Basic or the POST body.
type ExchangeRequest struct {
	GrantType    string
	Code         string
	RefreshToken string
	RedirectURI  string
	ClientID     string
	ClientSecret string
}

// Exchange swaps an authorization code or refresh token for an access
// token. Codes are consumed atomically so a replayed code fails.
func (s *OAuthService) Exchange(ctx context.Context, req ExchangeRequest) (*model.AccessTokenResponse, error) {
	if req.ClientID == "" || req.ClientSecret == "" {
		s.logger.Warn("token exchange rejected", map[string]any{"reason": "missing_client_auth"})
		return nil, ErrInvalidClientAuth
	}

	client, err := s.repo.GetClientByClientID(ctx, req.ClientID)
	if err != nil {
		if db.IsNoRows(err) {
			s.logger.Warn("token exchange rejected", map[string]any{
				"client_id": req.ClientID,
				"reason":    "client_not_found",
			})
			return nil, ErrInvalidClientAuth
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(client.Secret), []byte(req.ClientSecret)) != 1 {
		s.logger.Warn("token exchange rejected", map[string]any{
			"client_id": req.ClientID,
			"reason":    "secret_mismatch",
		})
		return nil, ErrInvalidClientAuth
	}

	var grant *model.OAuthToken
	switch {
	case req.GrantType == "refresh_token" || (req.Code == "" && req.RefreshToken != ""):
		grant, err = s.repo.GetOAuthToken(ctx, req.RefreshToken, model.OAuthTokenRefresh)
	case req.Code != "":
		grant, err = s.repo.ConsumeOAuthToken(ctx, req.Code, model.OAuthTokenCode)
	default:
		return nil, ErrInvalidGrant
	}
	if err != nil {
		if db.IsNoRows(err) {
			s.logger.Warn("token exchange rejected", map[string]any{
				"client_id": req.ClientID,
				"reason":    "grant_not_found",
			})
			return nil, ErrInvalidGrant
		}
		return nil, err
	}

	if grant.ClientID != client.ClientID {
		return nil, ErrInvalidGrant
	}
	if time.Now().After(grant.ExpiresAt) {
		return nil, ErrInvalidGrant
	}
	if grant.Kind == model.OAuthTokenCode && grant.RedirectURI != "" && req.RedirectURI != "" && grant.RedirectURI != req.RedirectURI {
		return nil, ErrInvalidGrant
	}

	user, err := s.repo.GetUserByID(ctx, grant.UserID)
	if err != nil {
		return nil, err
	}

	exp := time.Now().Add(s.access)
	accessToken, err := s.tokens.Issue(ctx, user.ID, &exp)
	if err != nil {
		return nil, err
	}

	response := &model.AccessTokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.access.Seconds()),
	}

	if grant.Kind == model.OAuthTokenCode {
		refresh := uuid.NewString()
		err = s.repo.CreateOAuthToken(ctx, &model.OAuthToken{
			Token:     refresh,
			Kind:      model.OAuthTokenRefresh,
			ClientID:  client.ClientID,
			UserID:    user.ID,
			Scope:     grant.Scope,
			Nonce:     grant.Nonce,
			ExpiresAt: time.Now().Add(s.cfg.RefreshTTL),
		})
		if err != nil {
			return nil, err
		}
		response.RefreshToken = refresh
	}

	if hasScope(grant.Scope, "openid") {
		idToken, err := s.tokens.IssueIDToken(user, client.ClientID, grant.Nonce, s.access)
		if err != nil {
			return nil, err
		}
		response.IDToken = idToken
	}

	s.logger.Info("access token issued", map[string]any{
		"client_id": client.ClientID,
		"user":      user.ID,
		"grant":     grant.Kind,
	})
	return response, nil
}

func hasScope(scope, want string) bool {
	for _, part := range strings.Fields(scope) {
		if part == want {
			return true
		}
	}
	return false
}

func errorRedirect(req AuthorizeRequest, code string) string {
	redirect, err := url.Parse(req.RedirectURI)
	if err != nil {
		return "/"
	}
	q := redirect.Query()
	q.Set("error", code)
	if req.State != "" {
		q.Set("state", req.State)
	}
	if req.Scope != "" {
		q.Set("scope", req.Scope)
	}
	if req.Nonce != "" {
		q.Set("nonce", req.Nonce)
	}
	redirect.RawQuery = q.Encode()
	return redirect.String()
}

func loginRedirect(req AuthorizeRequest) string {
	q := url.Values{}
	q.Set("redirect", "/oauth/authorize")
	q.Set("client_id", req.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("response_type", req.ResponseType)
	if req.State != "" {
		q.Set("state", req.State)
	}
	if req.Scope != "" {
		q.Set("scope", req.Scope)
	}
	if req.Nonce != "" {
		q.Set("nonce", req.Nonce)
	}
	return "/?" + q.Encode() + "#login"
}

// OpenIDConfiguration is the discovery document served at
// /.well-known/openid-configuration.
type OpenIDConfiguration struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	TokenEndpointAuthMethods         []string `json:"token_endpoint_auth_methods_supported"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
}

func (s *OAuthService) OpenIDConfiguration(baseURL string) OpenIDConfiguration {
	return OpenIDConfiguration{
		Issuer:                           baseURL,
		AuthorizationEndpoint:            baseURL + "/oauth/authorize",
		TokenEndpoint:                    baseURL + "/oauth/access_token",
		TokenEndpointAuthMethods:         []string{"client_secret_basic", "client_secret_post"},
		UserinfoEndpoint:                 baseURL + "/account.json",
		JWKSURI:                          baseURL + "/oauth/jwks",
		ResponseTypesSupported:           []string{"code", "token", "id_token", "id_token token"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
		ScopesSupported:                  []string{"openid", "email", "profile"},
		ClaimsSupported: []string{
			"iss", "sub", "aud", "exp", "iat",
			"name", "given_name", "family_name",
			"email", "email_verified", "updated_at",
		},
	}
}
