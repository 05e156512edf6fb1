package frontmatter

import (
	"encoding/json"
	"testing"
)

func TestParse_WithHeader(t *testing.T) {
	doc := Parse([]byte("---\ntitle: Report\nauthor: ada\n---\n\n# Heading\nBody [1].\n"))
	if doc.Title != "Report" {
		t.Errorf("title = %q, want Report", doc.Title)
	}
	if doc.Meta["author"] != "ada" || doc.Meta["title"] != "Report" {
		t.Errorf("meta = %v", doc.Meta)
	}
	if doc.Body != "# Heading\nBody [1].\n" {
		t.Errorf("body = %q", doc.Body)
	}
}

func TestParse_TitleFromHeading(t *testing.T) {
	doc := Parse([]byte("intro\n# First\n# Second\n"))
	if doc.Meta != nil {
		t.Errorf("meta = %v, want nil", doc.Meta)
	}
	if doc.Title != "First" {
		t.Errorf("title = %q, want First", doc.Title)
	}
	if doc.Body != "intro\n# First\n# Second\n" {
		t.Errorf("body = %q", doc.Body)
	}
}

func TestParse_InvalidHeaderKeepsInput(t *testing.T) {
	in := "---\n: : :\n\t- [\n---\nbody\n"
	doc := Parse([]byte(in))
	if doc.Meta != nil || doc.Body != in {
		t.Errorf("got meta=%v body=%q, want whole input as body", doc.Meta, doc.Body)
	}
}

func TestParse_NestedMetaIsJSONEncodable(t *testing.T) {
	doc := Parse([]byte("---\ntitle: T\nauthor:\n  name: ada\n  tags: [a, b]\n---\ntext\n"))
	if _, err := json.Marshal(doc.Meta); err != nil {
		t.Fatalf("meta not encodable: %v", err)
	}
	author, ok := doc.Meta["author"].(map[string]any)
	if !ok || author["name"] != "ada" {
		t.Errorf("author = %#v", doc.Meta["author"])
	}
}
