package receiptspg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS read_receipts (
    message_id TEXT PRIMARY KEY,
    read_unix BIGINT NOT NULL
);
`)
	return err
}
