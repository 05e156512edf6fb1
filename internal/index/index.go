package index

import "github.com/starford/mderb/internal/models"

// Index defines the compile log and reference search operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type Index interface {
	RecordCompile(c CompileRow) error
	GetCompile(path string) (*CompileRow, error)
	DeleteCompile(path string) error
	ReplaceReferences(dataset string, entries []models.ReferenceEntry) error
	DeleteReferences(dataset string) error
	Datasets() (map[string]struct{}, error)
	SearchReferences(query string, limit int) ([]ReferenceHit, error)
	Close() error
}

// Verify *DB satisfies Index at compile time.
var _ Index = (*DB)(nil)
