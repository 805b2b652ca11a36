package db

import "context"

func (db *Postgres) EnsureSchema(ctx context.Context) error {
	queries := []string{
		`
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			email TEXT NOT NULL UNIQUE,
			given_name TEXT NOT NULL DEFAULT '',
			family_name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			email_verified BOOLEAN NOT NULL DEFAULT FALSE,
			password_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			totp_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			totp_secret TEXT NOT NULL DEFAULT '',
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
		`
		CREATE TABLE IF NOT EXISTS trusted_devices (
			id BIGSERIAL PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			ua_hash TEXT NOT NULL,
			secret TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL,
			UNIQUE (user_id, ua_hash)
		)
		`,
		`
		CREATE TABLE IF NOT EXISTS oauth_clients (
			id BIGSERIAL PRIMARY KEY,
			client_id TEXT NOT NULL UNIQUE,
			secret TEXT NOT NULL,
			name TEXT NOT NULL,
			redirect_uri TEXT NOT NULL,
			redirect_uris TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
		`
		CREATE TABLE IF NOT EXISTS authorized_clients (
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			client_id TEXT NOT NULL REFERENCES oauth_clients(client_id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, client_id)
		)
		`,
		`
		CREATE TABLE IF NOT EXISTS oauth_tokens (
			token TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			client_id TEXT NOT NULL,
			user_id UUID NOT NULL,
			scope TEXT NOT NULL DEFAULT '',
			nonce TEXT NOT NULL DEFAULT '',
			redirect_uri TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
		`
		CREATE TABLE IF NOT EXISTS jwt_tokens (
			token TEXT PRIMARY KEY,
			user_id UUID NOT NULL,
			blacklisted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
		`
		CREATE TABLE IF NOT EXISTS flood (
			id BIGSERIAL PRIMARY KEY,
			kind TEXT NOT NULL,
			identity TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
		`CREATE INDEX IF NOT EXISTS flood_kind_identity_created_idx ON flood(kind, identity, created_at)`,
		`CREATE INDEX IF NOT EXISTS jwt_tokens_user_id_idx ON jwt_tokens(user_id)`,
		`CREATE INDEX IF NOT EXISTS oauth_tokens_kind_idx ON oauth_tokens(kind)`,
	}

	for _, query := range queries {
		if _, err := db.Pool.Exec(ctx, query); err != nil {
			return err
		}
	}
	return nil
}
