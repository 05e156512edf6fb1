//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/starford/mderb/internal/models"
)

// Without FTS5 the refs table is searched with LIKE.
func initFTS(*sql.DB) error { return nil }

func ftsInsert(*sql.Tx, string, int, models.ReferenceEntry) error { return nil }

func ftsDelete(*sql.Tx, string) error { return nil }

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchReferences matches query as a substring of alias, text or URL.
// Exact alias matches come first.
func (db *DB) SearchReferences(query string, limit int) ([]ReferenceHit, error) {
	if limit <= 0 {
		limit = 20
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []ReferenceHit{}, nil
	}
	like := "%" + likeEscaper.Replace(query) + "%"
	rows, err := db.conn.Query(`
		SELECT dataset, position, alias, text, ref
		FROM refs
		WHERE alias LIKE ?1 ESCAPE '\' OR text LIKE ?1 ESCAPE '\' OR ref LIKE ?1 ESCAPE '\'
		ORDER BY alias = ?2 DESC, dataset, position
		LIMIT ?3
	`, like, query, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	return scanHits(rows)
}
