package db

import (
	"context"

	"github.com/civicid/backend/internal/model"
)

func (db *Postgres) GetClientByClientID(ctx context.Context, clientID string) (*model.Client, error) {
	query := `
		SELECT id, client_id, secret, name, redirect_uri, redirect_uris, created_at
		FROM oauth_clients
		WHERE client_id = $1
	`
	var client model.Client
	err := db.Pool.QueryRow(ctx, query, clientID).Scan(
		&client.ID,
		&client.ClientID,
		&client.Secret,
		&client.Name,
		&client.RedirectURI,
		&client.RedirectURIs,
		&client.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &client, nil
}
