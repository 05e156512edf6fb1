// Package frontmatter separates the metadata header of compiled Markdown from
// its body so previews do not render the header as text. YAML (---), TOML
// (+++) and JSON (;;;) headers are recognised.
package frontmatter

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/adrg/frontmatter"
)

// Document is compiled Markdown split into header and body.
type Document struct {
	Meta  map[string]any
	Body  string
	Title string
}

type envelope struct {
	Title  string         `yaml:"title" toml:"title" json:"title"`
	Custom map[string]any `yaml:",inline" toml:"-" json:"-"`
}

// Parse splits data into its header and body. Content without a header, or
// with one that does not decode, is returned whole as Body.
func Parse(data []byte) Document {
	var env envelope
	body, err := frontmatter.Parse(bytes.NewReader(data), &env)
	if err != nil || (env.Title == "" && len(env.Custom) == 0) {
		return Document{Body: string(data), Title: firstHeading(string(data))}
	}

	meta := make(map[string]any, len(env.Custom)+1)
	for k, v := range env.Custom {
		meta[k] = normalize(v)
	}
	if env.Title != "" {
		meta["title"] = env.Title
	}

	doc := Document{Meta: meta, Body: strings.TrimLeft(string(body), "\r\n"), Title: env.Title}
	if doc.Title == "" {
		doc.Title = firstHeading(doc.Body)
	}
	return doc
}

func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

// normalize converts the map[interface{}]interface{} values produced by the
// YAML decoder into JSON-encodable maps.
func normalize(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}
