// Package preprocess expands reference placeholders and inline citations in
// template text before it is handed to the renderer.
package preprocess

import (
	"fmt"
	"strings"

	"github.com/starford/mderb/internal/apperr"
	"github.com/starford/mderb/internal/models"
	"github.com/starford/mderb/internal/reference"
)

const (
	// Placeholder expands to the full, numbered reference list.
	Placeholder = "$INCLUDEREFS$"
	// MarkerOpen starts an inline citation: [&alias].
	MarkerOpen  = "[&"
	markerClose = ']'
)

// Representation selects how an inline citation is rendered.
type Representation string

const (
	RepresentationAnchor      Representation = "anchor"
	RepresentationBracket     Representation = "bracket"
	RepresentationSuperscript Representation = "superscript"
)

// Representations lists the accepted citation formats.
var Representations = []Representation{
	RepresentationAnchor,
	RepresentationBracket,
	RepresentationSuperscript,
}

// Lookup resolves the dataset co-located with a template.
type Lookup interface {
	DatasetFor(templatePath string) (*reference.Dataset, error)
}

// Preprocessor resolves $INCLUDEREFS$ and [&alias] markers. It is not safe
// for concurrent use with SetRepresentation.
type Preprocessor struct {
	refs Lookup
	repr Representation
}

// New returns a Preprocessor using the anchor citation format.
func New(refs Lookup) *Preprocessor {
	return &Preprocessor{refs: refs, repr: RepresentationAnchor}
}

// Representation returns the active citation format.
func (p *Preprocessor) Representation() Representation {
	return p.repr
}

// SetRepresentation switches the citation format.
func (p *Preprocessor) SetRepresentation(name string) error {
	for _, r := range Representations {
		if string(r) == name {
			p.repr = r
			return nil
		}
	}
	return fmt.Errorf("preprocess: unknown representation %q: %w", name, apperr.ErrInvalidInput)
}

// Preprocess returns source with the reference list and citations expanded
// against the dataset of templatePath. Without a valid dataset the source is
// returned unchanged. Unknown aliases are left as written.
func (p *Preprocessor) Preprocess(source, templatePath string) string {
	ds, err := p.refs.DatasetFor(templatePath)
	if err != nil || !ds.Valid() {
		return source
	}
	// The list is spliced in first so citations inside entry texts expand too.
	out := strings.Replace(source, Placeholder, ReferenceList(ds.Entries()), 1)
	return expandCitations(out, ds, p.repr)
}

// ReferenceList renders entries as a numbered Markdown list, one anchor per alias.
func ReferenceList(entries []models.ReferenceEntry) string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf(`%d. [%s](%s)<span id="%s"></span>`, i+1, e.Text, e.Ref, e.Alias)
	}
	return strings.Join(lines, "\n")
}

// Citation renders a back-link to alias showing its 1-based position.
func Citation(repr Representation, alias string, position int) string {
	switch repr {
	case RepresentationBracket:
		return fmt.Sprintf("[%d](#%s)", position, alias)
	case RepresentationSuperscript:
		return fmt.Sprintf("<sup>[%d](#%s)</sup>", position, alias)
	default:
		return fmt.Sprintf(`<a href="#%s">(%d).</a>`, alias, position)
	}
}

// expandCitations scans source once, so text produced by an expansion is
// never scanned again.
func expandCitations(source string, ds *reference.Dataset, repr Representation) string {
	var b strings.Builder
	b.Grow(len(source))
	rest := source
	for {
		i := strings.Index(rest, MarkerOpen)
		if i < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:i])
		after := rest[i+len(MarkerOpen):]
		if j := strings.IndexByte(after, markerClose); j >= 0 {
			alias := after[:j]
			if _, pos, ok := ds.Lookup(alias); ok {
				b.WriteString(Citation(repr, alias, pos))
				rest = after[j+1:]
				continue
			}
		}
		b.WriteString(MarkerOpen)
		rest = after
	}
}

// Marker is an inline citation found in template text.
type Marker struct {
	Alias  string
	Line   int // 0-based
	Column int // 0-based byte offset of "[&"
}

// Markers returns every complete [&alias] marker in text.
func Markers(text string) []Marker {
	var out []Marker
	for lineNo, line := range strings.Split(text, "\n") {
		offset := 0
		for {
			i := strings.Index(line[offset:], MarkerOpen)
			if i < 0 {
				break
			}
			start := offset + i
			body := line[start+len(MarkerOpen):]
			j := strings.IndexByte(body, markerClose)
			if j < 0 {
				break
			}
			out = append(out, Marker{Alias: body[:j], Line: lineNo, Column: start})
			offset = start + len(MarkerOpen)
		}
	}
	return out
}
