// Package schema implements the schema bootstrap: initialising an empty
// peer by executing the canonical schema script, and asserting a sentinel
// table exists afterward.
package schema

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"testing/fstest"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var rawScript string

// SentinelTable is the table whose presence after bootstrap proves the
// script applied; its absence marks the peer initialised-failed.
const SentinelTable = "hosts"

// Bootstrap substitutes the script's "#!variable!user!#" placeholders with
// dbUser, applies the result against databaseURL inside a single
// golang-migrate migration, and re-checks the sentinel table. On continued
// absence of the sentinel it returns an error; anvil-daemon then leaves
// that peer out of the pool it connects.
func Bootstrap(ctx context.Context, databaseURL, dbUser string) error {
	substituted := strings.ReplaceAll(rawScript, "#!variable!user!#", dbUser)

	fsys := fstest.MapFS{
		"0001_bootstrap.up.sql": {
			Data: []byte(substituted),
		},
		"0001_bootstrap.down.sql": {
			Data: []byte("-- bootstrap is all-or-nothing; there is no supported rollback\n"),
		},
	}

	src, err := iofs.New(fsys, ".")
	if err != nil {
		return fmt.Errorf("schema: building in-memory migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("schema: creating migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("schema: applying bootstrap script: %w", err)
	}

	db, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("schema: connecting to re-check sentinel table: %w", err)
	}
	defer db.Close()

	present, err := SentinelPresent(ctx, db)
	if err != nil {
		return err
	}
	if !present {
		return fmt.Errorf("schema: sentinel table %q still missing after bootstrap", SentinelTable)
	}
	return nil
}

// SentinelPresent reports whether the sentinel table exists on this peer.
func SentinelPresent(ctx context.Context, pool *pgxpool.Pool) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = $1
	)`, SentinelTable).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("schema: checking sentinel table: %w", err)
	}
	return exists, nil
}

// ensure the postgres driver package is linked for its migrate.Database
// registration even though Bootstrap only references it by URL scheme.
var _ = postgres.Config{}
