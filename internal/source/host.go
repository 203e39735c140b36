// Package source fetches repository contents from a hosting service and turns
// them into classified, decoded repository files.
package source

import (
	"context"

	"github.com/efebarandurmaz/repolens/internal/domain"
)

// Entry is a file reference returned by a host listing.
type Entry struct {
	Path string
	Size int
	// Ref is host specific: a blob SHA, an absolute path, or a map key.
	Ref string
}

// Host abstracts the repository hosting API.
type Host interface {
	// ListFiles returns every file reachable from the default branch.
	// Fails with domain.ErrNotFound or domain.ErrRateLimited.
	ListFiles(ctx context.Context, repo domain.RepoID) ([]Entry, error)
	// Fetch returns the raw bytes of one listed file.
	Fetch(ctx context.Context, repo domain.RepoID, entry Entry) ([]byte, error)
	// Name returns the host identifier (e.g. "github", "dir").
	Name() string
}
