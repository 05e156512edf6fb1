// Package reference loads refs.mderb.json citation datasets and indexes them
// by the directory they live in.
package reference

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/starford/mderb/internal/models"
)

// FileName is the fixed name of a reference dataset.
const FileName = "refs.mderb.json"

// Reader reads a workspace file.
type Reader interface {
	Read(path string) ([]byte, error)
}

// Dataset is the parsed content of one refs.mderb.json file. A Dataset is
// re-parsed in place, so holders of a *Dataset always see the latest content.
type Dataset struct {
	path    string
	reader  Reader
	entries []models.ReferenceEntry
	aliases map[string]int // alias -> position of its first entry
	valid   bool
}

// NewDataset returns an unparsed, valid and empty dataset for path.
func NewDataset(path string, reader Reader) *Dataset {
	return &Dataset{
		path:    filepath.Clean(path),
		reader:  reader,
		aliases: map[string]int{},
		valid:   true,
	}
}

// Parse reloads the backing file. On failure the dataset is marked invalid,
// its entries are cleared, and the returned error describes the problem.
func (d *Dataset) Parse() error {
	d.entries = nil
	d.aliases = map[string]int{}

	entries, err := d.decode()
	if err != nil {
		d.valid = false
		return err
	}

	d.valid = true
	d.entries = entries
	for i, e := range entries {
		if _, dup := d.aliases[e.Alias]; !dup {
			d.aliases[e.Alias] = i
		}
	}
	return nil
}

func (d *Dataset) decode() ([]models.ReferenceEntry, error) {
	data, err := d.reader.Read(d.path)
	if err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("reference: %s: %w", d.path, err)
	}
	if err := validateShape(doc); err != nil {
		return nil, fmt.Errorf("reference: %s: %w", d.path, err)
	}
	entries := []models.ReferenceEntry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("reference: %s: %w", d.path, err)
	}
	return entries, nil
}

// Path returns the dataset file path relative to the workspace root.
func (d *Dataset) Path() string { return d.path }

// Dir returns the directory the dataset serves.
func (d *Dataset) Dir() string { return filepath.Dir(d.path) }

// Valid reports whether the last parse succeeded.
func (d *Dataset) Valid() bool { return d.valid }

// Len returns the number of entries.
func (d *Dataset) Len() int { return len(d.entries) }

// Entries returns a copy of the entries in file order.
func (d *Dataset) Entries() []models.ReferenceEntry {
	out := make([]models.ReferenceEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Lookup returns the first entry with the given alias and its 1-based position.
func (d *Dataset) Lookup(alias string) (models.ReferenceEntry, int, bool) {
	i, ok := d.aliases[alias]
	if !ok {
		return models.ReferenceEntry{}, 0, false
	}
	return d.entries[i], i + 1, true
}
