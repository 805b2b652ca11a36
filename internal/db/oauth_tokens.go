package db

import (
	"context"

	"github.com/civicid/backend/internal/model"
)

func (db *Postgres) CreateOAuthToken(ctx context.Context, token *model.OAuthToken) error {
	query := `
		INSERT INTO oauth_tokens (token, kind, client_id, user_id, scope, nonce, redirect_uri, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`
	_, err := db.Pool.Exec(ctx, query,
		token.Token,
		token.Kind,
		token.ClientID,
		token.UserID,
		token.Scope,
		token.Nonce,
		token.RedirectURI,
		token.ExpiresAt,
	)
	return err
}

// ConsumeOAuthToken atomically deletes and returns the matching token row.
// Two concurrent calls for the same token see at most one success, which is
// what makes authorization codes single-use.
func (db *Postgres) ConsumeOAuthToken(ctx context.Context, token, kind string) (*model.OAuthToken, error) {
	query := `
		DELETE FROM oauth_tokens
		WHERE token = $1 AND kind = $2
		RETURNING token, kind, client_id, user_id, scope, nonce, redirect_uri, expires_at, created_at
	`
	return scanOAuthToken(db.Pool.QueryRow(ctx, query, token, kind))
}

// GetOAuthToken reads without consuming. Used for refresh tokens, which stay
// valid across multiple exchanges.
func (db *Postgres) GetOAuthToken(ctx context.Context, token, kind string) (*model.OAuthToken, error) {
	query := `
		SELECT token, kind, client_id, user_id, scope, nonce, redirect_uri, expires_at, created_at
		FROM oauth_tokens
		WHERE token = $1 AND kind = $2
	`
	return scanOAuthToken(db.Pool.QueryRow(ctx, query, token, kind))
}

func scanOAuthToken(row interface{ Scan(...any) error }) (*model.OAuthToken, error) {
	var t model.OAuthToken
	err := row.Scan(
		&t.Token,
		&t.Kind,
		&t.ClientID,
		&t.UserID,
		&t.Scope,
		&t.Nonce,
		&t.RedirectURI,
		&t.ExpiresAt,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
