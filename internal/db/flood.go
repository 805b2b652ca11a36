package db

import (
	"context"
	"time"
)

// InsertFloodEntry appends one failed-attempt record. Entries are never
// deleted; they age out of the lockout window and remain for audit.
func (db *Postgres) InsertFloodEntry(ctx context.Context, kind, identity string) error {
	query := `INSERT INTO flood (kind, identity, created_at) VALUES ($1, $2, NOW())`
	_, err := db.Pool.Exec(ctx, query, kind, identity)
	return err
}

func (db *Postgres) CountFloodSince(ctx context.Context, kind, identity string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM flood WHERE kind = $1 AND identity = $2 AND created_at >= $3`
	var count int
	if err := db.Pool.QueryRow(ctx, query, kind, identity, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
