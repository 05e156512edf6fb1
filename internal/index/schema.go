// Package index keeps a SQLite cache of compile results and reference entries
// for search. Everything in it can be rebuilt from the workspace, so a schema
// change drops and recreates the tables instead of migrating rows.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// schemaVersion is stored in PRAGMA user_version.
const schemaVersion = 2

const dropSchemaSQL = `
DROP TABLE IF EXISTS compiles;
DROP TABLE IF EXISTS refs;
DROP TABLE IF EXISTS refs_fts;
`

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS compiles (
	path        TEXT PRIMARY KEY,
	output      TEXT NOT NULL DEFAULT '',
	checksum    TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	compiled_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS refs (
	dataset  TEXT NOT NULL,
	position INTEGER NOT NULL,
	alias    TEXT NOT NULL DEFAULT '',
	text     TEXT NOT NULL DEFAULT '',
	ref      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY(dataset, position)
);

CREATE INDEX IF NOT EXISTS idx_refs_alias ON refs(alias);
`

// DB is the SQLite-backed Index.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the database at dsn and brings its schema to the
// current version.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &DB{conn: conn}, nil
}

func migrate(conn *sql.DB) error {
	var version int
	if err := conn.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("index: read schema version: %w", err)
	}
	if version != schemaVersion {
		if _, err := conn.Exec(dropSchemaSQL); err != nil {
			return fmt.Errorf("index: drop old schema: %w", err)
		}
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		return fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		return fmt.Errorf("index: apply fts schema: %w", err)
	}
	// PRAGMA does not take bind parameters.
	if _, err := conn.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
		return fmt.Errorf("index: write schema version: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func scanHits(rows *sql.Rows) ([]ReferenceHit, error) {
	defer rows.Close()
	out := []ReferenceHit{}
	for rows.Next() {
		var h ReferenceHit
		if err := rows.Scan(&h.Dataset, &h.Position, &h.Alias, &h.Text, &h.Ref); err != nil {
			return nil, fmt.Errorf("index: scan hit: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
