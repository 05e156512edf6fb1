package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/mderb/internal/index"
	"github.com/starford/mderb/internal/render"
	"github.com/starford/mderb/internal/testutil"
	"github.com/starford/mderb/internal/workspace"
)

const refsJSON = `[
  {"text": "The Art of Computer Programming", "ref": "https://example.org/taocp", "alias": "knuth"},
  {"text": "Structure and Interpretation", "ref": "https://example.org/sicp", "alias": "sicp"}
]`

var passthrough = render.Func(func(_ context.Context, tpl string, _ time.Duration) (string, error) {
	if strings.Count(tpl, "<%") != strings.Count(tpl, "%>") {
		return "", &render.Error{Stderr: "-:1: syntax error, unexpected end-of-input", Line: 0}
	}
	return tpl, nil
})

type testEnv struct {
	router http.Handler
	ws     *workspace.Workspace
	db     *index.DB
	root   string
}

// newTestEnv sets up a temp workspace, SQLite DB, running workspace loop and
// router. An empty token disables auth.
func newTestEnv(t *testing.T, token string, sseHandler http.Handler) testEnv {
	t.Helper()
	root, store := testutil.TestWorkspace(t)
	testutil.WriteFile(t, root, "docs/report.md.erb", "see [&knuth]\n\n$INCLUDEREFS$")
	testutil.WriteFile(t, root, "docs/broken.md.erb", "<%= oops")
	testutil.WriteFile(t, root, "docs/refs.mderb.json", refsJSON)

	db := testutil.TestDB(t)
	ws, err := workspace.New(workspace.Options{
		Store:    store,
		Renderer: passthrough,
		Timeout:  time.Second,
		Index:    db,
		Logger:   testutil.Logger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = ws.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	if err := ws.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	router := NewRouter(ws, db, token != "", token, sseHandler)
	return testEnv{router: router, ws: ws, db: db, root: root}
}

func (e testEnv) do(method, target string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestListTemplates(t *testing.T) {
	env := newTestEnv(t, "", nil)

	w := env.do(http.MethodGet, "/templates", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var tree TreeResponse
	_ = json.Unmarshal(w.Body.Bytes(), &tree)
	if len(tree.Watched) != 0 || len(tree.Unwatched) != 2 {
		t.Errorf("tree = %+v", tree)
	}
}

func TestWatchUnwatch(t *testing.T) {
	env := newTestEnv(t, "", nil)

	w := env.do(http.MethodPost, "/templates/watch", PathRequest{Path: "docs/report.md.erb"})
	if w.Code != http.StatusOK {
		t.Fatalf("watch = %d, body = %s", w.Code, w.Body.String())
	}
	var tree TreeResponse
	_ = json.Unmarshal(w.Body.Bytes(), &tree)
	if len(tree.Watched) != 1 || tree.Watched[0].Context != "erb-watched" {
		t.Errorf("tree after watch = %+v", tree)
	}

	w = env.do(http.MethodPost, "/templates/unwatch", PathRequest{Path: "docs/report.md.erb"})
	if w.Code != http.StatusOK {
		t.Fatalf("unwatch = %d", w.Code)
	}
	_ = json.Unmarshal(w.Body.Bytes(), &tree)
	if len(tree.Watched) != 0 {
		t.Errorf("tree after unwatch = %+v", tree)
	}
}

func TestWatch_Errors(t *testing.T) {
	env := newTestEnv(t, "", nil)

	if w := env.do(http.MethodPost, "/templates/watch", PathRequest{Path: "docs/missing.md.erb"}); w.Code != http.StatusNotFound {
		t.Errorf("missing template = %d, want 404", w.Code)
	}
	if w := env.do(http.MethodPost, "/templates/watch", PathRequest{Path: "docs/notes.md"}); w.Code != http.StatusBadRequest {
		t.Errorf("non-template = %d, want 400", w.Code)
	}
	if w := env.do(http.MethodPost, "/templates/watch", PathRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty path = %d, want 400", w.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/templates/watch", strings.NewReader("{"))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON = %d, want 400", w.Code)
	}
}

func TestUpdateDocument_CompilesWatched(t *testing.T) {
	env := newTestEnv(t, "", nil)

	w := env.do(http.MethodPut, "/documents/docs/report.md.erb", DocumentRequest{Content: "draft"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	var resp DocumentResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Compiling {
		t.Error("unwatched template must not compile")
	}

	env.do(http.MethodPost, "/templates/watch", PathRequest{Path: "docs/report.md.erb"})
	w = env.do(http.MethodPut, "/documents/docs%2Freport.md.erb", DocumentRequest{Content: "cite [&sicp]"})
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Compiling {
		t.Fatalf("watched template should compile: %s", w.Body.String())
	}
	env.ws.Wait()

	data, err := os.ReadFile(filepath.Join(env.root, "docs", "report.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `cite <a href="#sicp">(2).</a>` {
		t.Errorf("output = %q", data)
	}

	w = env.do(http.MethodGet, "/compiles/docs/report.md.erb", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("compile record = %d", w.Code)
	}
	var row index.CompileRow
	_ = json.Unmarshal(w.Body.Bytes(), &row)
	if row.Status != index.StatusOK {
		t.Errorf("row = %+v", row)
	}
}

func TestGetCompile_NotFound(t *testing.T) {
	env := newTestEnv(t, "", nil)
	if w := env.do(http.MethodGet, "/compiles/docs/report.md.erb", nil); w.Code != http.StatusNotFound {
		t.Errorf("never compiled = %d, want 404", w.Code)
	}
}

func TestCompletionAndHover(t *testing.T) {
	env := newTestEnv(t, "", nil)

	w := env.do(http.MethodGet, "/completion?path=docs/report.md.erb&line="+url.QueryEscape("see [&s"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("completion = %d", w.Code)
	}
	var comp CompletionResponse
	_ = json.Unmarshal(w.Body.Bytes(), &comp)
	if len(comp.Items) != 1 || comp.Items[0].InsertText != "sicp]" {
		t.Errorf("items = %+v", comp.Items)
	}

	if w := env.do(http.MethodGet, "/completion", nil); w.Code != http.StatusBadRequest {
		t.Errorf("completion without path = %d", w.Code)
	}

	w = env.do(http.MethodGet, "/hover?path=docs/report.md.erb&character=8&line="+url.QueryEscape("see [&knuth]"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("hover = %d", w.Code)
	}
	var hover HoverResponse
	_ = json.Unmarshal(w.Body.Bytes(), &hover)
	if hover.Contents != "The Art of Computer Programming: https://example.org/taocp" {
		t.Errorf("hover = %q", hover.Contents)
	}

	w = env.do(http.MethodGet, "/hover?path=docs/report.md.erb&character=1&line=plain", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("hover outside marker = %d, want 204", w.Code)
	}
	if w := env.do(http.MethodGet, "/hover?path=docs/report.md.erb", nil); w.Code != http.StatusBadRequest {
		t.Errorf("hover without character = %d", w.Code)
	}
}

func TestDiagnostics(t *testing.T) {
	env := newTestEnv(t, "", nil)

	w := env.do(http.MethodGet, "/diagnostics/docs/broken.md.erb", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp DiagnosticsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Diagnostics) != 1 || resp.Diagnostics[0].Severity != "error" {
		t.Errorf("diagnostics = %+v", resp.Diagnostics)
	}

	w = env.do(http.MethodPost, "/diagnostics/docs/report.md.erb", DocumentRequest{Content: "[&ghost]"})
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Diagnostics) != 1 || resp.Diagnostics[0].Severity != "warning" {
		t.Errorf("buffer diagnostics = %+v", resp.Diagnostics)
	}

	if w := env.do(http.MethodGet, "/diagnostics/docs/none.md.erb", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing template = %d, want 404", w.Code)
	}
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t, "", nil)

	w := env.do(http.MethodGet, "/preview/docs/report.md.erb", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp PreviewResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if !strings.Contains(resp.Markdown, "1. [The Art of Computer Programming](https://example.org/taocp)") {
		t.Errorf("markdown = %q", resp.Markdown)
	}
	if !strings.Contains(resp.HTML, `<a href="#knuth">(1).</a>`) {
		t.Errorf("html missing citation: %q", resp.HTML)
	}
	if !strings.Contains(resp.HTML, `<span id="knuth"></span>`) {
		t.Errorf("html missing anchor: %q", resp.HTML)
	}
	if _, err := os.Stat(filepath.Join(env.root, "docs", "report.md")); !os.IsNotExist(err) {
		t.Error("preview must not write output")
	}

	if w := env.do(http.MethodGet, "/preview/docs/broken.md.erb", nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("broken preview = %d, want 422", w.Code)
	}
	if w := env.do(http.MethodGet, "/preview/docs/none.md.erb", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing preview = %d, want 404", w.Code)
	}
}

func TestPreview_Frontmatter(t *testing.T) {
	env := newTestEnv(t, "", nil)
	testutil.WriteFile(t, env.root, "docs/titled.md.erb", "---\ntitle: Quarterly\n---\n# Body\nsee [&sicp]\n")
	if err := env.ws.FileCreated(context.Background(), "docs/titled.md.erb"); err != nil {
		t.Fatal(err)
	}

	w := env.do(http.MethodGet, "/preview/docs/titled.md.erb", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp PreviewResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Title != "Quarterly" {
		t.Errorf("title = %q, want Quarterly", resp.Title)
	}
	if strings.Contains(resp.HTML, "title:") {
		t.Errorf("frontmatter leaked into html: %q", resp.HTML)
	}
	if !strings.HasPrefix(resp.Markdown, "---\ntitle: Quarterly") {
		t.Errorf("markdown should keep frontmatter: %q", resp.Markdown)
	}
}

func TestSearchReferences(t *testing.T) {
	env := newTestEnv(t, "", nil)

	w := env.do(http.MethodGet, "/references/search?q=sicp", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 1 || resp.Results[0].Alias != "sicp" || resp.Results[0].Position != 2 {
		t.Errorf("results = %+v", resp.Results)
	}

	if w := env.do(http.MethodGet, "/references/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t, "", nil)

	w := env.do(http.MethodGet, "/settings", nil)
	var settings SettingsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &settings)
	if settings.Representation != "anchor" || len(settings.Representations) != 3 {
		t.Errorf("settings = %+v", settings)
	}

	w = env.do(http.MethodPut, "/settings/representation", RepresentationRequest{Representation: "superscript"})
	if w.Code != http.StatusOK {
		t.Fatalf("set = %d, body = %s", w.Code, w.Body.String())
	}
	_ = json.Unmarshal(w.Body.Bytes(), &settings)
	if settings.Representation != "superscript" {
		t.Errorf("representation = %q", settings.Representation)
	}

	w = env.do(http.MethodGet, "/preview/docs/report.md.erb", nil)
	var preview PreviewResponse
	_ = json.Unmarshal(w.Body.Bytes(), &preview)
	if !strings.Contains(preview.Markdown, "<sup>[1](#knuth)</sup>") {
		t.Errorf("preview after switch = %q", preview.Markdown)
	}

	if w := env.do(http.MethodPut, "/settings/representation", RepresentationRequest{Representation: "footnote"}); w.Code != http.StatusBadRequest {
		t.Errorf("unknown representation = %d, want 400", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	env := newTestEnv(t, "secret123", nil)

	req := httptest.NewRequest(http.MethodGet, "/templates", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed list = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	env := newTestEnv(t, "secret123", nil)

	if w := env.do(http.MethodGet, "/templates", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	env := newTestEnv(t, "secret123", nil)

	req := httptest.NewRequest(http.MethodGet, "/templates", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

// blockingSSE writes headers and blocks until the request context is done.
var blockingSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	env := newTestEnv(t, "secret", blockingSSE)

	if w := env.do(http.MethodGet, "/events", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	env := newTestEnv(t, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with valid token = %d, want 200", w.Code)
	}
}

func TestSSEEvents_QueryToken(t *testing.T) {
	env := newTestEnv(t, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?access_token=tok", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with query token = %d, want 200", w.Code)
	}

	// Only the stream accepts the query parameter.
	if w := env.do(http.MethodGet, "/templates?access_token=tok", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("query token on API route = %d, want 401", w.Code)
	}
}

func TestErrorBody_Code(t *testing.T) {
	env := newTestEnv(t, "", nil)

	w := env.do(http.MethodPost, "/templates/watch", PathRequest{Path: "docs/none.md.erb"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var body errResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Code != codeNotFound {
		t.Errorf("code = %q, want %q", body.Code, codeNotFound)
	}
}
