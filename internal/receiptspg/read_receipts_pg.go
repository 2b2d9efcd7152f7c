// Package receiptspg persists read receipts in PostgreSQL for deployments
// where the dashboard shell shares a Postgres instance instead of a local
// sqlite file.
package receiptspg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresReadReceiptStore persists acknowledged-read message identifiers
// in PostgreSQL.
type PostgresReadReceiptStore struct {
	pool *pgxpool.Pool
}

// NewPostgresReadReceiptStore constructs a Postgres store.
func NewPostgresReadReceiptStore(pool *pgxpool.Pool) *PostgresReadReceiptStore {
	return &PostgresReadReceiptStore{pool: pool}
}

// MarkRead inserts one row per identifier, ignoring duplicates.
func (store *PostgresReadReceiptStore) MarkRead(ctx context.Context, messageIDs ...string) error {
	nowUnix := time.Now().UTC().Unix()
	for _, messageID := range messageIDs {
		if messageID == "" {
			continue
		}
		_, execErr := store.pool.Exec(ctx, `
INSERT INTO read_receipts (message_id, read_unix)
VALUES ($1, $2)
ON CONFLICT (message_id) DO NOTHING
`, messageID, nowUnix)
		if execErr != nil {
			return execErr
		}
	}
	return nil
}

// IsRead checks for the identifier's row.
func (store *PostgresReadReceiptStore) IsRead(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	row := store.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM read_receipts WHERE message_id = $1)
`, messageID)
	if scanErr := row.Scan(&exists); scanErr != nil {
		return false, scanErr
	}
	return exists, nil
}

// ReadIDs returns every acknowledged identifier.
func (store *PostgresReadReceiptStore) ReadIDs(ctx context.Context) ([]string, error) {
	rows, queryErr := store.pool.Query(ctx, `
SELECT message_id FROM read_receipts
`)
	if queryErr != nil {
		return nil, queryErr
	}
	defer rows.Close()
	var identifiers []string
	for rows.Next() {
		var messageID string
		if scanErr := rows.Scan(&messageID); scanErr != nil {
			return nil, scanErr
		}
		identifiers = append(identifiers, messageID)
	}
	return identifiers, rows.Err()
}

// Clear deletes all rows.
func (store *PostgresReadReceiptStore) Clear(ctx context.Context) error {
	_, execErr := store.pool.Exec(ctx, `
DELETE FROM read_receipts
`)
	return execErr
}
