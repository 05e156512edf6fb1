// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes mderb tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/mderb/internal/index"
	"github.com/starford/mderb/internal/models"
	"github.com/starford/mderb/internal/preprocess"
	"github.com/starford/mderb/internal/workspace"
)

const contractURI = "mderb://template-format"

// Workspace is the set of workspace operations exposed as tools.
type Workspace interface {
	Tree(ctx context.Context) (workspace.Tree, error)
	Watch(ctx context.Context, path string) error
	Unwatch(ctx context.Context, path string) error
	Complete(ctx context.Context, path, linePrefix string) ([]models.CompletionItem, error)
	Lookup(ctx context.Context, path, alias string) (models.ReferenceEntry, int, error)
	Preview(ctx context.Context, path, text string) (string, error)
}

// Searcher searches reference entries across every dataset.
type Searcher interface {
	SearchReferences(query string, limit int) ([]index.ReferenceHit, error)
}

// Server wraps the MCP server with mderb tools.
type Server struct {
	mcp *server.MCPServer
	ws  Workspace
	idx Searcher
}

// New creates a new MCP server with all mderb tools registered.
func New(ws Workspace, idx Searcher) *Server {
	s := &Server{ws: ws, idx: idx}

	s.mcp = server.NewMCPServer(
		"mderb",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_templates",
		mcp.WithDescription("List the *.md.erb templates of the workspace, grouped into watched and unwatched."),
	), s.listTemplates)

	s.mcp.AddTool(mcp.NewTool("watch_template",
		mcp.WithDescription("Start recompiling a template into its .md output whenever it or its refs.mderb.json changes."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the template (e.g. docs/report.md.erb)")),
	), s.watchTemplate)

	s.mcp.AddTool(mcp.NewTool("unwatch_template",
		mcp.WithDescription("Stop recompiling a template. Its last output is kept."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the template")),
	), s.unwatchTemplate)

	s.mcp.AddTool(mcp.NewTool("complete_alias",
		mcp.WithDescription("List the citation aliases available to a template that start with a prefix."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the template")),
		mcp.WithString("prefix", mcp.Description("Alias prefix (empty for all)")),
	), s.completeAlias)

	s.mcp.AddTool(mcp.NewTool("lookup_reference",
		mcp.WithDescription("Resolve a citation alias to its reference entry and 1-based number."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the template")),
		mcp.WithString("alias", mcp.Required(), mcp.Description("Alias used in [&alias]")),
	), s.lookupReference)

	s.mcp.AddTool(mcp.NewTool("preview_template",
		mcp.WithDescription("Compile a template to Markdown without writing its output. "+
			"Pass content to preview unsaved text; the template format is described by "+
			"the get_template_contract tool or the "+contractURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the template")),
		mcp.WithString("content", mcp.Description("Optional template text (defaults to the file on disk)")),
	), s.previewTemplate)

	s.mcp.AddTool(mcp.NewTool("search_references",
		mcp.WithDescription("Search reference entries (alias, text and link) across all refs.mderb.json files."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchReferences)

	s.mcp.AddTool(mcp.NewTool("get_template_contract",
		mcp.WithDescription("Returns the template and reference-data format contract. "+
			"Call this before writing templates to use citations correctly."),
	), s.getTemplateContract)

	// Resource: template format contract.
	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Template Format Contract",
			mcp.WithResourceDescription("Template markers and refs.mderb.json format."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func (s *Server) listTemplates(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tree, err := s.ws.Tree(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(tree), nil
}

func (s *Server) watchTemplate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.ws.Watch(ctx, path); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot watch %s: %v", path, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("watching: %s", path)), nil
}

func (s *Server) unwatchTemplate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.ws.Unwatch(ctx, path); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot unwatch %s: %v", path, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("unwatched: %s", path)), nil
}

func (s *Server) completeAlias(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	prefix := req.GetString("prefix", "")
	items, err := s.ws.Complete(ctx, path, preprocess.MarkerOpen+prefix)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	aliases := make([]string, 0, len(items))
	for _, it := range items {
		if it.Kind == models.CompletionAlias {
			aliases = append(aliases, it.Label)
		}
	}
	if len(aliases) == 0 {
		return mcp.NewToolResultText("no aliases found"), nil
	}
	return mcp.NewToolResultText(strings.Join(aliases, "\n")), nil
}

type lookupResult struct {
	Position int    `json:"position"`
	Alias    string `json:"alias"`
	Text     string `json:"text"`
	Ref      string `json:"ref"`
}

func (s *Server) lookupReference(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	alias, err := req.RequireString("alias")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entry, pos, err := s.ws.Lookup(ctx, path, alias)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", alias)), nil
	}
	return jsonResult(lookupResult{Position: pos, Alias: entry.Alias, Text: entry.Text, Ref: entry.Ref}), nil
}

func (s *Server) previewTemplate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.ws.Preview(ctx, path, req.GetString("content", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (s *Server) searchReferences(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.idx.SearchReferences(query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results), nil
}

func (s *Server) getTemplateContract(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(TemplateFormatContract), nil
}

func (s *Server) readContractResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     TemplateFormatContract,
		},
	}, nil
}
