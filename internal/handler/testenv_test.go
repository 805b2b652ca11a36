package handler

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/civicid/backend/internal/config"
	"github.com/civicid/backend/internal/model"
	"github.com/civicid/backend/internal/observability"
	"github.com/civicid/backend/internal/service"
	"github.com/civicid/backend/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// memRepo is the in-memory stand-in for the postgres layer.
type memRepo struct {
	mu          sync.Mutex
	users       map[string]*model.User
	emails      map[string]string
	devices     map[string]*model.TrustedDevice
	flood       []model.FloodEntry
	bearer      map[string]*model.BearerToken
	clients     map[string]*model.Client
	oauthTokens map[string]*model.OAuthToken
	consents    map[string]bool
	nextID      int
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:       make(map[string]*model.User),
		emails:      make(map[string]string),
		devices:     make(map[string]*model.TrustedDevice),
		bearer:      make(map[string]*model.BearerToken),
		clients:     make(map[string]*model.Client),
		oauthTokens: make(map[string]*model.OAuthToken),
		consents:    make(map[string]bool),
	}
}

func (m *memRepo) addUser(user *model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *user
	m.users[user.ID] = &copied
	m.emails[user.Email] = user.ID
}

func (m *memRepo) addClient(client *model.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *client
	m.clients[client.ClientID] = &copied
}

func (m *memRepo) CreateUser(ctx context.Context, email, givenName, familyName, passwordHash string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	user := &model.User{
		ID:                fmt.Sprintf("user-%d", m.nextID),
		Email:             email,
		GivenName:         givenName,
		FamilyName:        familyName,
		PasswordHash:      passwordHash,
		PasswordUpdatedAt: time.Now(),
		CreatedAt:         time.Now(),
	}
	m.users[user.ID] = user
	m.emails[email] = user.ID
	return user, nil
}

func (m *memRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.emails[email]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *m.users[id]
	return &copied, nil
}

func (m *memRepo) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *user
	return &copied, nil
}

func (m *memRepo) MarkEmailVerified(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[userID]; ok {
		user.EmailVerified = true
	}
	return nil
}

func (m *memRepo) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[userID]; ok {
		user.PasswordHash = passwordHash
		user.PasswordUpdatedAt = time.Now()
	}
	return nil
}

func (m *memRepo) UpsertTrustedDevice(ctx context.Context, userID, uaHash, secret string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[userID+"|"+uaHash] = &model.TrustedDevice{
		UserID: userID, UAHash: uaHash, Secret: secret,
		CreatedAt: time.Now(), ExpiresAt: expiresAt,
	}
	return nil
}

func (m *memRepo) GetTrustedDevice(ctx context.Context, userID, uaHash string) (*model.TrustedDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, ok := m.devices[userID+"|"+uaHash]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *device
	return &copied, nil
}

func (m *memRepo) InsertFloodEntry(ctx context.Context, kind, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flood = append(m.flood, model.FloodEntry{Kind: kind, Identity: identity, CreatedAt: time.Now()})
	return nil
}

func (m *memRepo) CountFloodSince(ctx context.Context, kind, identity string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, entry := range m.flood {
		if entry.Kind == kind && entry.Identity == identity && entry.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (m *memRepo) UpsertBearerToken(ctx context.Context, token, userID string, blacklisted bool) (*model.BearerToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.bearer[token]
	if !ok {
		record = &model.BearerToken{Token: token, UserID: userID, CreatedAt: time.Now()}
		m.bearer[token] = record
	}
	record.UserID = userID
	record.Blacklisted = blacklisted
	copied := *record
	return &copied, nil
}

func (m *memRepo) GetBearerToken(ctx context.Context, token string) (*model.BearerToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.bearer[token]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *record
	return &copied, nil
}

func (m *memRepo) ListBearerTokens(ctx context.Context, userID string) ([]model.BearerToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tokens []model.BearerToken
	for _, record := range m.bearer {
		if record.UserID == userID {
			tokens = append(tokens, *record)
		}
	}
	return tokens, nil
}

func (m *memRepo) GetClientByClientID(ctx context.Context, clientID string) (*model.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	client, ok := m.clients[clientID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *client
	return &copied, nil
}

func (m *memRepo) CreateOAuthToken(ctx context.Context, token *model.OAuthToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *token
	copied.CreatedAt = time.Now()
	m.oauthTokens[token.Kind+"|"+token.Token] = &copied
	return nil
}

func (m *memRepo) ConsumeOAuthToken(ctx context.Context, token, kind string) (*model.OAuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.oauthTokens[kind+"|"+token]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	delete(m.oauthTokens, kind+"|"+token)
	return record, nil
}

func (m *memRepo) GetOAuthToken(ctx context.Context, token, kind string) (*model.OAuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.oauthTokens[kind+"|"+token]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *record
	return &copied, nil
}

func (m *memRepo) AddAuthorizedClient(ctx context.Context, userID, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consents[userID+"|"+clientID] = true
	return nil
}

func (m *memRepo) HasAuthorizedClient(ctx context.Context, userID, clientID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consents[userID+"|"+clientID], nil
}

type testEnv struct {
	repo     *memRepo
	router   *gin.Engine
	sessions *session.Store
	tokens   *service.TokenService
	accounts *service.AccountService
	baseURL  string
}

func signingKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

// newTestEnv wires the full router against in-memory storage, mirroring the
// production composition.
func newTestEnv(t *testing.T, baseURL string) *testEnv {
	t.Helper()

	repo := newMemRepo()
	logger := observability.NewLogger()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })
	sessions := session.NewStore(redisClient, time.Hour)

	floodCfg := config.FloodConfig{MaxAttempts: 5, Window: 5 * time.Minute}
	totpCfg := config.TOTPConfig{Issuer: "CivicID", Skew: 1, TrustTTL: 30 * 24 * time.Hour}
	authCfg := config.AuthConfig{
		PrivateKeyPEM: signingKeyPEM(t),
		KeyID:         "test-key",
		AccessTTL:     time.Hour,
		SignedURLTTL:  5 * time.Minute,
	}
	oauthCfg := config.OAuthConfig{CodeTTL: 5 * time.Minute, RefreshTTL: 24 * time.Hour}
	sessionCfg := config.SessionConfig{TTL: time.Hour, CookieName: "civicid_session"}

	flood := service.NewFloodService(repo, floodCfg, logger)
	credentials := service.NewCredentialsService(repo, flood, logger)
	totp := service.NewTOTPService(repo, flood, totpCfg, logger)
	tokens, err := service.NewTokenService(repo, authCfg, baseURL, logger)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	oauth := service.NewOAuthService(repo, tokens, sessions, oauthCfg, authCfg.AccessTTL, logger)
	accounts := service.NewAccountService(repo, logger)

	authHandler := NewAuthHandler(credentials, totp, tokens, accounts, repo, sessions, sessionCfg, totpCfg, authCfg, baseURL, logger)
	oauthHandler := NewOAuthHandler(oauth, tokens, sessions, sessionCfg, baseURL)

	router := gin.New()
	authed := AuthMiddleware(tokens, repo)

	router.GET("/", Root)
	router.GET("/ping", Ping)
	router.POST("/login", authHandler.Login)
	router.GET("/logout", authHandler.Logout)
	router.POST("/register", authHandler.Register)
	router.GET("/verify", authHandler.Verify)
	router.POST("/verify", authHandler.Verify)
	router.POST("/jsonwebtoken", authHandler.CreateToken)
	router.GET("/jsonwebtoken", authed, authHandler.ListTokens)
	router.DELETE("/jsonwebtoken", authed, authHandler.RevokeToken)
	router.POST("/admintoken", authed, authHandler.AdminToken)
	router.POST("/signrequest", authed, authHandler.SignURL)
	router.GET("/oauth/authorize", oauthHandler.Authorize)
	router.POST("/oauth/authorize", oauthHandler.Decision)
	router.POST("/oauth/access_token", oauthHandler.AccessToken)
	router.GET("/oauth/jwks", oauthHandler.JWKS)
	router.GET("/.well-known/openid-configuration", oauthHandler.OpenIDConfiguration)
	router.GET("/account.json", authed, oauthHandler.UserInfo)

	return &testEnv{
		repo:     repo,
		router:   router,
		sessions: sessions,
		tokens:   tokens,
		accounts: accounts,
		baseURL:  baseURL,
	}
}

func (e *testEnv) seedUser(t *testing.T, mutate func(*model.User)) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	user := &model.User{
		ID:                "user-jane",
		Email:             "jane@example.com",
		GivenName:         "Jane",
		FamilyName:        "Doe",
		PasswordHash:      string(hash),
		EmailVerified:     true,
		PasswordUpdatedAt: time.Now(),
	}
	if mutate != nil {
		mutate(user)
	}
	e.repo.addUser(user)
	return user
}
