package api

import (
	"context"

	"github.com/starford/mderb/internal/index"
	"github.com/starford/mderb/internal/models"
	"github.com/starford/mderb/internal/preprocess"
	"github.com/starford/mderb/internal/workspace"
)

// Workspace is the set of workspace operations the API exposes.
// *workspace.Workspace implements it.
type Workspace interface {
	Tree(ctx context.Context) (workspace.Tree, error)
	Watch(ctx context.Context, path string) error
	Unwatch(ctx context.Context, path string) error
	DocumentChanged(ctx context.Context, path, text string) (bool, error)
	Complete(ctx context.Context, path, linePrefix string) ([]models.CompletionItem, error)
	Hover(ctx context.Context, path, line string, character int) (string, bool, error)
	Diagnose(ctx context.Context, path, text string) ([]models.Diagnostic, error)
	Preview(ctx context.Context, path, text string) (string, error)
	Representation(ctx context.Context) (preprocess.Representation, error)
	SetRepresentation(ctx context.Context, name string) error
}

// Index is the read side of the compile log and reference search.
type Index interface {
	GetCompile(path string) (*index.CompileRow, error)
	SearchReferences(query string, limit int) ([]index.ReferenceHit, error)
}

var (
	_ Workspace = (*workspace.Workspace)(nil)
	_ Index     = (*index.DB)(nil)
)
