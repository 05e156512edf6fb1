package api

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mderb/internal/index"
	"github.com/starford/mderb/internal/models"
	"github.com/starford/mderb/internal/preprocess"
	"github.com/starford/mderb/internal/template"
	"github.com/starford/mderb/internal/workspace"
)

const maxDocumentBytes = 10 << 20

// PathRequest is the request body for watch and unwatch.
type PathRequest struct {
	Path string `json:"path" example:"docs/report.md.erb" validate:"required"`
}

// Validate requires a template path.
func (r PathRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required, validation.By(templatePath)),
	)
}

// DocumentRequest carries the full current text of a template.
type DocumentRequest struct {
	Content string `json:"content" example:"See [&knuth].\n$INCLUDEREFS$"`
}

// Validate bounds the document size. Empty content is a valid document.
func (r DocumentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Content, validation.Length(0, maxDocumentBytes)),
	)
}

// RepresentationRequest selects the citation format.
type RepresentationRequest struct {
	Representation string `json:"representation" example:"anchor" validate:"required"`
}

// Validate requires a known representation.
func (r RepresentationRequest) Validate() error {
	known := make([]any, 0, len(preprocess.Representations))
	for _, repr := range preprocess.Representations {
		known = append(known, string(repr))
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.Representation, validation.Required, validation.In(known...)),
	)
}

func templatePath(value any) error {
	s, _ := value.(string)
	if !template.IsTemplate(strings.TrimSpace(s)) {
		return validation.NewError("validation_template_path", "must be a "+template.Suffix+" file")
	}
	return nil
}

// TreeResponse is the watched/unwatched grouping of templates.
type TreeResponse = workspace.Tree

// CompletionResponse wraps completion items.
type CompletionResponse struct {
	Items []models.CompletionItem `json:"items" validate:"required"`
}

// HoverResponse describes the reference under the cursor.
type HoverResponse struct {
	Contents string `json:"contents" example:"The Art of Computer Programming: https://example.org/taocp" validate:"required"`
}

// DiagnosticsResponse wraps diagnostics for one template.
type DiagnosticsResponse struct {
	Path        string              `json:"path" example:"docs/report.md.erb" validate:"required"`
	Diagnostics []models.Diagnostic `json:"diagnostics" validate:"required"`
}

// PreviewResponse is a compiled template, as Markdown and as HTML. HTML omits
// the frontmatter, which is returned decoded along with the derived title.
type PreviewResponse struct {
	Path        string                 `json:"path" example:"docs/report.md.erb" validate:"required"`
	Markdown    string                 `json:"markdown" validate:"required"`
	HTML        string                 `json:"html" validate:"required"`
	Title       string                 `json:"title,omitempty" example:"Quarterly report"`
	Frontmatter map[string]interface{} `json:"frontmatter,omitempty"`
}

// DocumentResponse reports whether a compile was started.
type DocumentResponse struct {
	Path      string `json:"path" example:"docs/report.md.erb" validate:"required"`
	Compiling bool   `json:"compiling" example:"true"`
}

// SearchResponse wraps reference search hits.
type SearchResponse struct {
	Results []index.ReferenceHit `json:"results" validate:"required"`
}

// SettingsResponse describes the active citation format.
type SettingsResponse struct {
	Representation  string   `json:"representation" example:"anchor" validate:"required"`
	Representations []string `json:"representations" validate:"required"`
}
