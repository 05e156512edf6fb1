package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/mderb/internal/apperr"
	"github.com/starford/mderb/internal/models"
)

// Compile statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// CompileRow is the last compile attempt of one template.
type CompileRow struct {
	Path       string        `json:"path"`
	Output     string        `json:"output"`
	Checksum   string        `json:"checksum,omitempty"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	CompiledAt time.Time     `json:"compiled_at"`
}

// ReferenceHit is one reference search result.
type ReferenceHit struct {
	Dataset  string `json:"dataset"`
	Position int    `json:"position"`
	Alias    string `json:"alias"`
	Text     string `json:"text"`
	Ref      string `json:"ref"`
}

// RecordCompile stores c as the latest compile of its template.
func (db *DB) RecordCompile(c CompileRow) error {
	_, err := db.conn.Exec(`
		INSERT INTO compiles (path, output, checksum, status, error, duration_ms, compiled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			output      = excluded.output,
			checksum    = CASE WHEN excluded.status = 'ok' THEN excluded.checksum ELSE compiles.checksum END,
			status      = excluded.status,
			error       = excluded.error,
			duration_ms = excluded.duration_ms,
			compiled_at = excluded.compiled_at
	`, c.Path, c.Output, c.Checksum, c.Status, c.Error, c.Duration.Milliseconds(), c.CompiledAt.UTC())
	if err != nil {
		return fmt.Errorf("index: record compile: %w", err)
	}
	return nil
}

// GetCompile returns the latest compile of path.
func (db *DB) GetCompile(path string) (*CompileRow, error) {
	var c CompileRow
	var ms int64
	err := db.conn.QueryRow(`
		SELECT path, output, checksum, status, error, duration_ms, compiled_at
		FROM compiles WHERE path = ?
	`, path).Scan(&c.Path, &c.Output, &c.Checksum, &c.Status, &c.Error, &ms, &c.CompiledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get compile: %w", err)
	}
	c.Duration = time.Duration(ms) * time.Millisecond
	return &c, nil
}

// DeleteCompile forgets the compile log of path.
func (db *DB) DeleteCompile(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM compiles WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete compile: %w", err)
	}
	return nil
}

// ReplaceReferences replaces every indexed entry of dataset within a transaction.
func (db *DB) ReplaceReferences(dataset string, entries []models.ReferenceEntry) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM refs WHERE dataset = ?`, dataset); err != nil {
		return fmt.Errorf("index: clear refs: %w", err)
	}
	if err := ftsDelete(tx, dataset); err != nil {
		return err
	}
	if len(entries) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO refs (dataset, position, alias, text, ref) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare ref insert: %w", err)
		}
		defer stmt.Close()
		for i, e := range entries {
			if _, err := stmt.Exec(dataset, i+1, e.Alias, e.Text, e.Ref); err != nil {
				return fmt.Errorf("index: insert ref: %w", err)
			}
			if err := ftsInsert(tx, dataset, i+1, e); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// DeleteReferences removes every indexed entry of dataset.
func (db *DB) DeleteReferences(dataset string) error {
	return db.ReplaceReferences(dataset, nil)
}

// Datasets returns every dataset path that has indexed entries.
func (db *DB) Datasets() (map[string]struct{}, error) {
	rows, err := db.conn.Query(`SELECT DISTINCT dataset FROM refs`)
	if err != nil {
		return nil, fmt.Errorf("index: datasets: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out[p] = struct{}{}
	}
	return out, rows.Err()
}
