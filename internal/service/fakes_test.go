package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/civicid/backend/internal/model"
)

// memoryRepo backs the service tests with plain maps. Missing rows are
// reported with pgx.ErrNoRows, same as the real store.
type memoryRepo struct {
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

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		users:       make(map[string]*model.User),
		emails:      make(map[string]string),
		devices:     make(map[string]*model.TrustedDevice),
		bearer:      make(map[string]*model.BearerToken),
		clients:     make(map[string]*model.Client),
		oauthTokens: make(map[string]*model.OAuthToken),
		consents:    make(map[string]bool),
	}
}

func (m *memoryRepo) addUser(user *model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *user
	m.users[user.ID] = &copied
	m.emails[user.Email] = user.ID
}

func (m *memoryRepo) addClient(client *model.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *client
	m.clients[client.ClientID] = &copied
}

func (m *memoryRepo) CreateUser(ctx context.Context, email, givenName, familyName, passwordHash string) (*model.User, error) {
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

func (m *memoryRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.emails[email]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *m.users[id]
	return &copied, nil
}

func (m *memoryRepo) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *user
	return &copied, nil
}

func (m *memoryRepo) MarkEmailVerified(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[userID]; ok {
		user.EmailVerified = true
	}
	return nil
}

func (m *memoryRepo) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[userID]; ok {
		user.PasswordHash = passwordHash
		user.PasswordUpdatedAt = time.Now()
	}
	return nil
}

func (m *memoryRepo) UpsertTrustedDevice(ctx context.Context, userID, uaHash, secret string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[userID+"|"+uaHash] = &model.TrustedDevice{
		UserID:    userID,
		UAHash:    uaHash,
		Secret:    secret,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}
	return nil
}

func (m *memoryRepo) GetTrustedDevice(ctx context.Context, userID, uaHash string) (*model.TrustedDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, ok := m.devices[userID+"|"+uaHash]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *device
	return &copied, nil
}

func (m *memoryRepo) InsertFloodEntry(ctx context.Context, kind, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flood = append(m.flood, model.FloodEntry{Kind: kind, Identity: identity, CreatedAt: time.Now()})
	return nil
}

func (m *memoryRepo) CountFloodSince(ctx context.Context, kind, identity string, since time.Time) (int, error) {
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

func (m *memoryRepo) UpsertBearerToken(ctx context.Context, token, userID string, blacklisted bool) (*model.BearerToken, error) {
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

func (m *memoryRepo) GetBearerToken(ctx context.Context, token string) (*model.BearerToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.bearer[token]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *record
	return &copied, nil
}

func (m *memoryRepo) ListBearerTokens(ctx context.Context, userID string) ([]model.BearerToken, error) {
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

func (m *memoryRepo) GetClientByClientID(ctx context.Context, clientID string) (*model.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	client, ok := m.clients[clientID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *client
	return &copied, nil
}

func (m *memoryRepo) CreateOAuthToken(ctx context.Context, token *model.OAuthToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *token
	copied.CreatedAt = time.Now()
	m.oauthTokens[token.Kind+"|"+token.Token] = &copied
	return nil
}

func (m *memoryRepo) ConsumeOAuthToken(ctx context.Context, token, kind string) (*model.OAuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.oauthTokens[kind+"|"+token]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	delete(m.oauthTokens, kind+"|"+token)
	return record, nil
}

func (m *memoryRepo) GetOAuthToken(ctx context.Context, token, kind string) (*model.OAuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.oauthTokens[kind+"|"+token]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *record
	return &copied, nil
}

func (m *memoryRepo) AddAuthorizedClient(ctx context.Context, userID, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consents[userID+"|"+clientID] = true
	return nil
}

func (m *memoryRepo) HasAuthorizedClient(ctx context.Context, userID, clientID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consents[userID+"|"+clientID], nil
}
