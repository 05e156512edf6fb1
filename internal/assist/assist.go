// Package assist implements the editing aids offered for templates:
// completion, hover and diagnostics.
package assist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/mderb/internal/apperr"
	"github.com/starford/mderb/internal/models"
	"github.com/starford/mderb/internal/preprocess"
	"github.com/starford/mderb/internal/reference"
	"github.com/starford/mderb/internal/render"
)

// Refs is the part of the reference registry the assists need.
type Refs interface {
	DatasetFor(templatePath string) (*reference.Dataset, error)
	AliasesStartingWith(prefix, templatePath string) ([]string, error)
}

// dataset resolves the co-located dataset. A directory without one yields nil
// and no error.
func dataset(refs Refs, templatePath string) (*reference.Dataset, error) {
	ds, err := refs.DatasetFor(templatePath)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return ds, err
}

var (
	outputSnippet = models.CompletionItem{Label: "<%=", InsertText: "<%= ${1} %> ${2}", Kind: models.CompletionSnippet, Detail: "output tag"}
	codeSnippet   = models.CompletionItem{Label: "<%", InsertText: "<%\n${1}\n%>\n", Kind: models.CompletionSnippet, Detail: "code block"}

	// Variants used when the editor already inserted the "<".
	outputSnippetOpen = models.CompletionItem{Label: "<%=", InsertText: "%= ${1} %", Kind: models.CompletionSnippet, Detail: "output tag"}
	codeSnippetOpen   = models.CompletionItem{Label: "<%", InsertText: "%\n${1}\n%", Kind: models.CompletionSnippet, Detail: "code block"}
)

// Complete returns suggestions for the cursor at the end of linePrefix.
// Inside an open "[&" marker it offers aliases of the co-located dataset,
// otherwise ERB tag snippets.
func Complete(refs Refs, templatePath, linePrefix string) ([]models.CompletionItem, error) {
	if prefix, ok := openMarker(linePrefix); ok {
		ds, err := dataset(refs, templatePath)
		if err != nil {
			return nil, err
		}
		aliases, err := refs.AliasesStartingWith(prefix, templatePath)
		if err != nil {
			return nil, err
		}
		items := []models.CompletionItem{}
		for _, alias := range aliases {
			item := models.CompletionItem{Label: alias, InsertText: alias + "]", Kind: models.CompletionAlias}
			if ds != nil {
				if e, _, ok := ds.Lookup(alias); ok {
					item.Detail = e.Text
				}
			}
			items = append(items, item)
		}
		return items, nil
	}
	if strings.HasSuffix(linePrefix, "<") {
		return []models.CompletionItem{outputSnippetOpen, codeSnippetOpen}, nil
	}
	return []models.CompletionItem{outputSnippet, codeSnippet}, nil
}

// openMarker reports whether linePrefix ends inside an unclosed "[&" marker
// and returns the alias typed so far.
func openMarker(linePrefix string) (string, bool) {
	i := strings.LastIndex(linePrefix, preprocess.MarkerOpen)
	if i < 0 {
		return "", false
	}
	typed := linePrefix[i+len(preprocess.MarkerOpen):]
	if strings.ContainsAny(typed, "] \t") {
		return "", false
	}
	return typed, true
}

// Hover describes the reference whose [&alias] marker surrounds character
// (a byte offset into line).
func Hover(refs Refs, templatePath, line string, character int) (string, bool, error) {
	ds, err := dataset(refs, templatePath)
	if err != nil || ds == nil || !ds.Valid() {
		return "", false, err
	}
	character = max(0, min(character, len(line)))

	before, after := line[:character], line[character:]
	i := strings.LastIndex(before, preprocess.MarkerOpen)
	if i < 0 {
		return "", false, nil
	}
	j := strings.IndexByte(after, ']')
	if j < 0 {
		return "", false, nil
	}
	alias := before[i+len(preprocess.MarkerOpen):] + after[:j]
	e, _, ok := ds.Lookup(alias)
	if !ok {
		return "", false, nil
	}
	return fmt.Sprintf("%s: %s", e.Text, e.Ref), true, nil
}

// CitationDiagnostics warns about every [&alias] marker the co-located
// dataset does not define. Nothing is reported without a valid dataset.
func CitationDiagnostics(refs Refs, templatePath, text string) ([]models.Diagnostic, error) {
	ds, err := dataset(refs, templatePath)
	if err != nil {
		return nil, err
	}
	out := []models.Diagnostic{}
	if ds == nil || !ds.Valid() {
		return out, nil
	}
	for _, m := range preprocess.Markers(text) {
		if _, _, known := ds.Lookup(m.Alias); known {
			continue
		}
		out = append(out, models.Diagnostic{
			Line:     m.Line,
			Severity: models.SeverityWarning,
			Message:  fmt.Sprintf("unknown reference alias %q", m.Alias),
		})
	}
	return out, nil
}

// RenderDiagnostics reports the first error the render engine finds in text.
// A render timeout or a missing engine yields nothing.
func RenderDiagnostics(ctx context.Context, r render.Renderer, timeout time.Duration, text string) []models.Diagnostic {
	if r == nil {
		return nil
	}
	_, err := r.Render(ctx, text, timeout)
	var rerr *render.Error
	if !errors.As(err, &rerr) {
		return nil
	}
	lines := strings.Count(text, "\n") + 1
	line := rerr.Line
	if line < 0 || line >= lines {
		line = 0
	}
	return []models.Diagnostic{{
		Line:     line,
		Severity: models.SeverityError,
		Message:  strings.TrimPrefix(rerr.Error(), "render: "),
	}}
}
