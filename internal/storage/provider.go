// Package storage defines the workspace file-system abstraction.
package storage

import "github.com/starford/mderb/internal/models"

// Discovery patterns, matched relative to the workspace root.
const (
	TemplatePattern  = "**/*.md.erb"
	ReferencePattern = "**/refs.mderb.json"
)

// Provider is the interface for workspace file operations.
type Provider interface {
	// List returns metadata for every file matching the doublestar pattern.
	List(pattern string) ([]models.FileMeta, error)
	// Read returns the raw bytes of the file at path (relative to workspace root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to workspace root).
	Write(path string, content []byte) error
}
