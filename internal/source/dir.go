package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/efebarandurmaz/repolens/internal/domain"
)

// DirHost serves repositories checked out under Root/<owner>/<name>.
type DirHost struct {
	Root string
}

// NewDirHost creates a host rooted at root.
func NewDirHost(root string) *DirHost {
	return &DirHost{Root: root}
}

func (h *DirHost) Name() string { return "dir" }

// repoPath resolves the checkout directory and rejects anything that would
// land outside Root.
func (h *DirHost) repoPath(repo domain.RepoID) (string, error) {
	if err := repo.Validate(); err != nil {
		return "", err
	}
	root, err := filepath.Abs(h.Root)
	if err != nil {
		return "", fmt.Errorf("resolving root %s: %w", h.Root, err)
	}
	base := filepath.Join(root, repo.Owner, repo.Name)
	if !within(root, base) {
		return "", fmt.Errorf("%w: %s escapes %s", domain.ErrInvalidRepo, repo, h.Root)
	}
	return base, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// ListFiles walks the checkout. Entry.Ref holds the absolute path.
func (h *DirHost) ListFiles(ctx context.Context, repo domain.RepoID) ([]Entry, error) {
	base, err := h.repoPath(repo)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(base)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: no checkout for %s under %s", domain.ErrNotFound, repo, h.Root)
	}

	var entries []Entry
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Path: filepath.ToSlash(rel),
			Size: int(fi.Size()),
			Ref:  p,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", base, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Fetch reads the file named by entry.Ref, which must lie inside the
// repository checkout.
func (h *DirHost) Fetch(_ context.Context, repo domain.RepoID, entry Entry) ([]byte, error) {
	base, err := h.repoPath(repo)
	if err != nil {
		return nil, err
	}
	if !within(base, filepath.Clean(entry.Ref)) {
		return nil, fmt.Errorf("%w: %s is outside %s", domain.ErrInvalidRepo, entry.Path, repo)
	}
	data, err := os.ReadFile(entry.Ref)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", entry.Path, err)
	}
	return data, nil
}
