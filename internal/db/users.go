package db

import (
	"context"
	"time"

	"github.com/civicid/backend/internal/model"
)

const userColumns = `id, email, given_name, family_name, password_hash, email_verified,
	password_updated_at, totp_enabled, totp_secret, is_admin, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.GivenName,
		&user.FamilyName,
		&user.PasswordHash,
		&user.EmailVerified,
		&user.PasswordUpdatedAt,
		&user.TOTPEnabled,
		&user.TOTPSecret,
		&user.IsAdmin,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (db *Postgres) CreateUser(ctx context.Context, email, givenName, familyName, passwordHash string) (*model.User, error) {
	query := `
		INSERT INTO users (email, given_name, family_name, password_hash, password_updated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW(), NOW())
		RETURNING ` + userColumns
	return scanUser(db.Pool.QueryRow(ctx, query, email, givenName, familyName, passwordHash))
}

// GetUserByEmail expects an already lowercased email; emails are stored
// lowercased on write.
func (db *Postgres) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(db.Pool.QueryRow(ctx, query, email))
}

func (db *Postgres) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(db.Pool.QueryRow(ctx, query, userID))
}

func (db *Postgres) MarkEmailVerified(ctx context.Context, userID string) error {
	query := `UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`
	_, err := db.Pool.Exec(ctx, query, userID)
	return err
}

func (db *Postgres) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, password_updated_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	_, err := db.Pool.Exec(ctx, query, userID, passwordHash)
	return err
}

func (db *Postgres) UpsertTrustedDevice(ctx context.Context, userID, uaHash, secret string, expiresAt time.Time) error {
	query := `
		INSERT INTO trusted_devices (user_id, ua_hash, secret, created_at, expires_at)
		VALUES ($1, $2, $3, NOW(), $4)
		ON CONFLICT (user_id, ua_hash)
		DO UPDATE SET secret = EXCLUDED.secret, created_at = NOW(), expires_at = EXCLUDED.expires_at
	`
	_, err := db.Pool.Exec(ctx, query, userID, uaHash, secret, expiresAt)
	return err
}

func (db *Postgres) GetTrustedDevice(ctx context.Context, userID, uaHash string) (*model.TrustedDevice, error) {
	query := `
		SELECT id, user_id, ua_hash, secret, created_at, expires_at
		FROM trusted_devices
		WHERE user_id = $1 AND ua_hash = $2
	`
	var device model.TrustedDevice
	err := db.Pool.QueryRow(ctx, query, userID, uaHash).Scan(
		&device.ID,
		&device.UserID,
		&device.UAHash,
		&device.Secret,
		&device.CreatedAt,
		&device.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (db *Postgres) AddAuthorizedClient(ctx context.Context, userID, clientID string) error {
	query := `
		INSERT INTO authorized_clients (user_id, client_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, client_id) DO NOTHING
	`
	_, err := db.Pool.Exec(ctx, query, userID, clientID)
	return err
}

func (db *Postgres) HasAuthorizedClient(ctx context.Context, userID, clientID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM authorized_clients WHERE user_id = $1 AND client_id = $2)`
	var exists bool
	if err := db.Pool.QueryRow(ctx, query, userID, clientID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
