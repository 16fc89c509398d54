// Package storage opens the shared SQLite-backed relational substrate used
// by the event log, fact store, procedure store, task store, and meta
// store, and runs the numbered migration set against it.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the relational handle. Writes are serialized through writeConn
// (a single-connection pool) to mirror WAL's single-writer model; reads use
// an unlimited pool so queries never wait on a writer.
type DB struct {
	writeConn *sql.DB
	readConn  *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path, applies the
// performance pragmas, and runs pending migrations.
func Open(ctx context.Context, path string) (*DB, error) {
	writeConn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open write conn: %w", err)
	}
	writeConn.SetMaxOpenConns(1)

	readConn, err := sql.Open("sqlite", path)
	if err != nil {
		writeConn.Close()
		return nil, fmt.Errorf("storage: open read conn: %w", err)
	}

	db := &DB{writeConn: writeConn, readConn: readConn}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA cache_size=-64000",
	}
	for _, p := range pragmas {
		if _, err := writeConn.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: set pragma %q: %w", p, err)
		}
	}

	if err := migrate(ctx, writeConn); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	return db, nil
}

// Writer returns the handle writes must go through.
func (d *DB) Writer() *sql.DB { return d.writeConn }

// Reader returns the handle reads should use for snapshot isolation.
func (d *DB) Reader() *sql.DB { return d.readConn }

// Close closes both underlying connections.
func (d *DB) Close() error {
	var firstErr error
	if d.writeConn != nil {
		if err := d.writeConn.Close(); err != nil {
			firstErr = err
		}
	}
	if d.readConn != nil {
		if err := d.readConn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
