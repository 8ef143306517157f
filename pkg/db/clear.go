package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearPeers removes every mirrored peer. Schema is preserved.
func ClearPeers(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing peer directory mirror", clearLogPrefix))

	if _, err := pool.Exec(ctx, `TRUNCATE TABLE peers`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Peer directory mirror cleared", clearLogPrefix))
	return nil
}
