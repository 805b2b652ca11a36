package db

import (
	"context"

	"github.com/civicid/backend/internal/model"
)

func (db *Postgres) UpsertBearerToken(ctx context.Context, token, userID string, blacklisted bool) (*model.BearerToken, error) {
	query := `
		INSERT INTO jwt_tokens (token, user_id, blacklisted, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (token)
		DO UPDATE SET blacklisted = EXCLUDED.blacklisted
		RETURNING token, user_id, blacklisted, created_at
	`
	var record model.BearerToken
	err := db.Pool.QueryRow(ctx, query, token, userID, blacklisted).Scan(
		&record.Token,
		&record.UserID,
		&record.Blacklisted,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (db *Postgres) GetBearerToken(ctx context.Context, token string) (*model.BearerToken, error) {
	query := `SELECT token, user_id, blacklisted, created_at FROM jwt_tokens WHERE token = $1`
	var record model.BearerToken
	err := db.Pool.QueryRow(ctx, query, token).Scan(
		&record.Token,
		&record.UserID,
		&record.Blacklisted,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (db *Postgres) ListBearerTokens(ctx context.Context, userID string) ([]model.BearerToken, error) {
	query := `
		SELECT token, user_id, blacklisted, created_at
		FROM jwt_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []model.BearerToken
	for rows.Next() {
		var record model.BearerToken
		if err := rows.Scan(&record.Token, &record.UserID, &record.Blacklisted, &record.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, record)
	}
	return tokens, rows.Err()
}
