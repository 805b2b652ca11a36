// Package session holds the browser flow state between the login, TOTP and
// OAuth authorize steps. The cookie carries only an opaque id; the state
// itself lives in redis.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("session not found")

const (
	sessionPrefix     = "sess:"
	transactionPrefix = "txn:"

	transactionTTL = 5 * time.Minute
)

// State is the flow marker for one browser session. UserID empty means
// anonymous; UserID set with TOTP false means primary credentials passed but
// the second factor is still outstanding; both set means fully logged in.
type State struct {
	UserID string `json:"user_id"`
	TOTP   bool   `json:"totp"`
}

func (s State) Authenticated() bool {
	return s.UserID != "" && s.TOTP
}

func (s State) AwaitingTOTP() bool {
	return s.UserID != "" && !s.TOTP
}

// PendingAuthorization binds an allow/deny prompt to the request that
// produced it. Consumed exactly once by the decision endpoint.
type PendingAuthorization struct {
	UserID      string `json:"user_id"`
	ClientID    string `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
	Scope       string `json:"scope"`
	State       string `json:"state"`
	Nonce       string `json:"nonce"`
}

type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{redis: client, ttl: ttl}
}

func (s *Store) Create(ctx context.Context, state State) (string, error) {
	sid := uuid.NewString()
	if err := s.Set(ctx, sid, state); err != nil {
		return "", err
	}
	return sid, nil
}

func (s *Store) Get(ctx context.Context, sid string) (State, error) {
	raw, err := s.redis.Get(ctx, sessionPrefix+sid).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, ErrNotFound
		}
		return State{}, err
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, ErrNotFound
	}
	return state, nil
}

func (s *Store) Set(ctx context.Context, sid string, state State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, sessionPrefix+sid, raw, s.ttl).Err()
}

func (s *Store) Delete(ctx context.Context, sid string) error {
	return s.redis.Del(ctx, sessionPrefix+sid).Err()
}

func (s *Store) CreateTransaction(ctx context.Context, pending PendingAuthorization) (string, error) {
	raw, err := json.Marshal(pending)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := s.redis.Set(ctx, transactionPrefix+id, raw, transactionTTL).Err(); err != nil {
		return "", err
	}
	return id, nil
}

// ConsumeTransaction removes and returns the pending authorization so a
// transaction id cannot approve twice.
func (s *Store) ConsumeTransaction(ctx context.Context, id string) (PendingAuthorization, error) {
	raw, err := s.redis.GetDel(ctx, transactionPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return PendingAuthorization{}, ErrNotFound
		}
		return PendingAuthorization{}, err
	}

	var pending PendingAuthorization
	if err := json.Unmarshal(raw, &pending); err != nil {
		return PendingAuthorization{}, ErrNotFound
	}
	return pending, nil
}
