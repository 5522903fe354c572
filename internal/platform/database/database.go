// Package database opens the postgres connection backing the durable
// ledger store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// pingTimeout bounds the connectivity probe so a wrong DSN fails startup
// quickly instead of hanging the boot sequence.
const pingTimeout = 10 * time.Second

// Open connects to postgres at dsn and verifies connectivity with a ping.
// The caller owns the returned handle and its pool settings.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}
