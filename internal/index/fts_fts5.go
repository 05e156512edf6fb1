//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/starford/mderb/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS refs_fts USING fts5(
			dataset UNINDEXED,
			position UNINDEXED,
			alias,
			text,
			ref,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsInsert(tx *sql.Tx, dataset string, position int, e models.ReferenceEntry) error {
	_, err := tx.Exec(`INSERT INTO refs_fts (dataset, position, alias, text, ref) VALUES (?, ?, ?, ?, ?)`,
		dataset, position, e.Alias, e.Text, e.Ref)
	if err != nil {
		return fmt.Errorf("index: insert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, dataset string) error {
	if _, err := tx.Exec(`DELETE FROM refs_fts WHERE dataset = ?`, dataset); err != nil {
		return fmt.Errorf("index: delete fts: %w", err)
	}
	return nil
}

// matchQuery turns free text into an FTS5 query: every word is quoted, so
// operators in user input are literal, and the last one matches as a prefix.
func matchQuery(query string) string {
	words := strings.Fields(query)
	for i, w := range words {
		words[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
	}
	if len(words) > 0 {
		words[len(words)-1] += "*"
	}
	return strings.Join(words, " ")
}

// SearchReferences performs an FTS5 search over alias, text and URL, best
// match first.
func (db *DB) SearchReferences(query string, limit int) ([]ReferenceHit, error) {
	if limit <= 0 {
		limit = 20
	}
	match := matchQuery(query)
	if match == "" {
		return []ReferenceHit{}, nil
	}
	rows, err := db.conn.Query(`
		SELECT dataset, position, alias, text, ref
		FROM refs_fts
		WHERE refs_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	return scanHits(rows)
}
