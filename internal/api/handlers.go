package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/starford/mderb/internal/apperr"
	"github.com/starford/mderb/internal/frontmatter"
	"github.com/starford/mderb/internal/preprocess"
)

// Handler holds API route handlers.
type Handler struct {
	ws  Workspace
	idx Index
	md  goldmark.Markdown
}

// NewHandler creates a new Handler.
func NewHandler(ws Workspace, idx Index) *Handler {
	return &Handler{
		ws:  ws,
		idx: idx,
		// Citations and the reference list carry raw HTML anchors.
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM, extension.Linkify),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
	}
}

// wildcardPath extracts the template path from the URL (everything after the
// route prefix). Supports encoded slashes (e.g. docs%2Freport.md.erb).
func wildcardPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// decode reads a JSON body into v and validates it.
func decode(w http.ResponseWriter, r *http.Request, v interface{ Validate() error }) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBytes+1<<10)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := v.Validate(); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, op, path string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeErrorJSON(w, http.StatusNotFound, "not found")
	case errors.Is(err, apperr.ErrInvalidInput):
		writeErrorJSON(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrRenderFailed):
		writeErrorJSON(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, apperr.ErrUninitialized):
		writeErrorJSON(w, http.StatusServiceUnavailable, "workspace not initialized")
	case errors.Is(err, context.Canceled):
		// Client went away.
	default:
		slog.Error(op+" failed", slog.String("path", path), slog.String("error", err.Error()))
		writeErrorJSON(w, http.StatusInternalServerError, "internal error")
	}
}

// ListTemplates handles GET /api/templates.
//
//	@Summary		List templates grouped by watch state
//	@Tags			templates
//	@Produce		json
//	@Success		200	{object}	TreeResponse
//	@Security		BearerAuth
//	@Router			/templates [get]
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	tree, err := h.ws.Tree(r.Context())
	if err != nil {
		writeError(w, "list templates", "", err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// WatchTemplate handles POST /api/templates/watch.
//
//	@Summary		Start recompiling a template on change
//	@Tags			templates
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PathRequest	true	"Template to watch"
//	@Success		200		{object}	TreeResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/templates/watch [post]
func (h *Handler) WatchTemplate(w http.ResponseWriter, r *http.Request) {
	h.setWatch(w, r, "watch", h.ws.Watch)
}

// UnwatchTemplate handles POST /api/templates/unwatch.
//
//	@Summary		Stop recompiling a template
//	@Tags			templates
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PathRequest	true	"Template to unwatch"
//	@Success		200		{object}	TreeResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/templates/unwatch [post]
func (h *Handler) UnwatchTemplate(w http.ResponseWriter, r *http.Request) {
	h.setWatch(w, r, "unwatch", h.ws.Unwatch)
}

func (h *Handler) setWatch(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) error) {
	var req PathRequest
	if !decode(w, r, &req) {
		return
	}
	if err := fn(r.Context(), req.Path); err != nil {
		writeError(w, op, req.Path, err)
		return
	}
	h.ListTemplates(w, r)
}

// UpdateDocument handles PUT /api/documents/*.
//
//	@Summary		Notify a change of an open template buffer
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string			true	"Template path"
//	@Param			body	body		DocumentRequest	true	"Full current text"
//	@Success		202		{object}	DocumentResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [put]
func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeErrorJSON(w, http.StatusBadRequest, "path is required")
		return
	}
	var req DocumentRequest
	if !decode(w, r, &req) {
		return
	}
	started, err := h.ws.DocumentChanged(r.Context(), path, req.Content)
	if err != nil {
		writeError(w, "document change", path, err)
		return
	}
	writeJSON(w, http.StatusAccepted, DocumentResponse{Path: path, Compiling: started})
}

// Completion handles GET /api/completion.
//
//	@Summary		Completions for the cursor at the end of a line prefix
//	@Tags			assist
//	@Produce		json
//	@Param			path	query		string	true	"Template path"
//	@Param			line	query		string	false	"Line text up to the cursor"
//	@Success		200		{object}	CompletionResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/completion [get]
func (h *Handler) Completion(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := q.Get("path")
	if path == "" {
		writeErrorJSON(w, http.StatusBadRequest, "query parameter 'path' is required")
		return
	}
	items, err := h.ws.Complete(r.Context(), path, q.Get("line"))
	if err != nil {
		writeError(w, "completion", path, err)
		return
	}
	writeJSON(w, http.StatusOK, CompletionResponse{Items: items})
}

// Hover handles GET /api/hover.
//
//	@Summary		Describe the reference under the cursor
//	@Tags			assist
//	@Produce		json
//	@Param			path		query		string	true	"Template path"
//	@Param			line		query		string	true	"Full line text"
//	@Param			character	query		int		true	"Cursor byte offset"
//	@Success		200			{object}	HoverResponse
//	@Success		204			"Nothing to show"
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/hover [get]
func (h *Handler) Hover(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := q.Get("path")
	character, err := strconv.Atoi(q.Get("character"))
	if path == "" || err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "query parameters 'path' and 'character' are required")
		return
	}
	text, ok, err := h.ws.Hover(r.Context(), path, q.Get("line"), character)
	if err != nil {
		writeError(w, "hover", path, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, HoverResponse{Contents: text})
}

// Diagnostics handles GET and POST /api/diagnostics/*. GET checks the
// source on disk, POST checks the supplied buffer.
//
//	@Summary		Render errors and unknown citations of a template
//	@Tags			assist
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string			true	"Template path"
//	@Param			body	body		DocumentRequest	false	"Buffer to check (POST)"
//	@Success		200		{object}	DiagnosticsResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/diagnostics/{path} [get]
func (h *Handler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeErrorJSON(w, http.StatusBadRequest, "path is required")
		return
	}
	var req DocumentRequest
	if r.Method == http.MethodPost && !decode(w, r, &req) {
		return
	}
	diags, err := h.ws.Diagnose(r.Context(), path, req.Content)
	if err != nil {
		writeError(w, "diagnostics", path, err)
		return
	}
	writeJSON(w, http.StatusOK, DiagnosticsResponse{Path: path, Diagnostics: diags})
}

// Preview handles GET /api/preview/*.
//
//	@Summary		Compile a template without writing its output
//	@Tags			templates
//	@Produce		json
//	@Param			path	path		string	true	"Template path"
//	@Success		200		{object}	PreviewResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/preview/{path} [get]
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeErrorJSON(w, http.StatusBadRequest, "path is required")
		return
	}
	markdown, err := h.ws.Preview(r.Context(), path, "")
	if err != nil {
		writeError(w, "preview", path, err)
		return
	}
	doc := frontmatter.Parse([]byte(markdown))
	var buf bytes.Buffer
	if err := h.md.Convert([]byte(doc.Body), &buf); err != nil {
		writeError(w, "preview", path, err)
		return
	}
	writeJSON(w, http.StatusOK, PreviewResponse{
		Path:        path,
		Markdown:    markdown,
		HTML:        buf.String(),
		Title:       doc.Title,
		Frontmatter: doc.Meta,
	})
}

// SearchReferences handles GET /api/references/search.
//
//	@Summary		Search reference entries across all datasets
//	@Tags			references
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/references/search [get]
func (h *Handler) SearchReferences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeErrorJSON(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.idx.SearchReferences(q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeErrorJSON(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// GetCompile handles GET /api/compiles/*.
//
//	@Summary		Last compile attempt of a template
//	@Tags			templates
//	@Produce		json
//	@Param			path	path		string	true	"Template path"
//	@Success		200		{object}	index.CompileRow
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/compiles/{path} [get]
func (h *Handler) GetCompile(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeErrorJSON(w, http.StatusBadRequest, "path is required")
		return
	}
	row, err := h.idx.GetCompile(path)
	if err != nil {
		writeError(w, "get compile", path, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// GetSettings handles GET /api/settings.
//
//	@Summary		Active citation format
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	SettingsResponse
//	@Security		BearerAuth
//	@Router			/settings [get]
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	repr, err := h.ws.Representation(r.Context())
	if err != nil {
		writeError(w, "settings", "", err)
		return
	}
	known := make([]string, 0, len(preprocess.Representations))
	for _, rp := range preprocess.Representations {
		known = append(known, string(rp))
	}
	writeJSON(w, http.StatusOK, SettingsResponse{Representation: string(repr), Representations: known})
}

// SetRepresentation handles PUT /api/settings/representation.
//
//	@Summary		Switch the citation format
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RepresentationRequest	true	"Citation format"
//	@Success		200		{object}	SettingsResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/settings/representation [put]
func (h *Handler) SetRepresentation(w http.ResponseWriter, r *http.Request) {
	var req RepresentationRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.ws.SetRepresentation(r.Context(), req.Representation); err != nil {
		writeError(w, "set representation", "", err)
		return
	}
	h.GetSettings(w, r)
}
