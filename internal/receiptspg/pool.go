package receiptspg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The shell holds a single session, so receipt traffic is one or two
// statements per user action. A couple of connections absorbs the burst
// of a mark-all-read; anything more would sit idle.
const (
	poolMinConns          = 1
	poolMaxConns          = 3
	poolMaxConnIdleTime   = 5 * time.Minute
	poolMaxConnLifetime   = time.Hour
	poolHealthCheckPeriod = time.Minute
)

// BuildPool creates a pgx pool sized for the read receipt workload.
func BuildPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	config.MinConns = poolMinConns
	config.MaxConns = poolMaxConns
	config.MaxConnIdleTime = poolMaxConnIdleTime
	config.MaxConnLifetime = poolMaxConnLifetime
	config.HealthCheckPeriod = poolHealthCheckPeriod
	return pgxpool.NewWithConfig(ctx, config)
}
