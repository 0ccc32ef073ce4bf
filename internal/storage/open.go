package storage

import (
	"context"
	"fmt"
	"strings"

	"adhanbot/pkg/logx"
)

// Open initializes the configured store. A non-empty DSN with an empty
// driver selects postgres.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" && strings.TrimSpace(cfg.DSN) != "" {
		driver = "postgres"
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg, log)
	case "":
		return nil, fmt.Errorf("storage driver is required")
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
