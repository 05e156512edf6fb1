// Package models defines the domain types for mderb.
package models

import "time"

// ReferenceEntry is one citable item of a refs.mderb.json dataset.
type ReferenceEntry struct {
	Text  string `json:"text"`
	Ref   string `json:"ref"`
	Alias string `json:"alias"`
}

// FileMeta is a lightweight representation returned by list operations.
type FileMeta struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Severity classifies a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is a problem found in a template, positioned by 0-based line.
type Diagnostic struct {
	Line     int      `json:"line"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// CompletionKind distinguishes alias completions from ERB snippets.
type CompletionKind string

const (
	CompletionAlias   CompletionKind = "alias"
	CompletionSnippet CompletionKind = "snippet"
)

// CompletionItem is a single suggestion offered while editing a template.
type CompletionItem struct {
	Label      string         `json:"label"`
	InsertText string         `json:"insert_text"`
	Kind       CompletionKind `json:"kind"`
	Detail     string         `json:"detail,omitempty"`
}
