package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/efebarandurmaz/repolens/internal/domain"
)

// MemoryHost is an in-process host backed by path -> content maps.
type MemoryHost struct {
	mu    sync.RWMutex
	repos map[domain.RepoID]map[string][]byte
	// FetchErrors injects a failure for specific paths.
	FetchErrors map[string]error
	// ListErr, when set, is returned by every ListFiles call.
	ListErr error
}

// NewMemoryHost creates an empty memory host.
func NewMemoryHost() *MemoryHost {
	return &MemoryHost{
		repos:       make(map[domain.RepoID]map[string][]byte),
		FetchErrors: make(map[string]error),
	}
}

// Put registers a repository with the given files, replacing any previous
// contents.
func (h *MemoryHost) Put(repo domain.RepoID, files map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := make(map[string][]byte, len(files))
	for p, c := range files {
		m[p] = []byte(c)
	}
	h.repos[repo] = m
}

// PutBytes adds one raw file to a repository, creating it if needed.
func (h *MemoryHost) PutBytes(repo domain.RepoID, path string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.repos[repo] == nil {
		h.repos[repo] = make(map[string][]byte)
	}
	h.repos[repo][path] = data
}

func (h *MemoryHost) Name() string { return "memory" }

func (h *MemoryHost) ListFiles(_ context.Context, repo domain.RepoID) ([]Entry, error) {
	if h.ListErr != nil {
		return nil, h.ListErr
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	files, ok := h.repos[repo]
	if !ok {
		return nil, fmt.Errorf("%w: repository %s", domain.ErrNotFound, repo)
	}
	entries := make([]Entry, 0, len(files))
	for p, c := range files {
		entries = append(entries, Entry{Path: p, Size: len(c), Ref: p})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (h *MemoryHost) Fetch(_ context.Context, repo domain.RepoID, entry Entry) ([]byte, error) {
	if err := h.FetchErrors[entry.Path]; err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	data, ok := h.repos[repo][entry.Ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", domain.ErrNotFound, entry.Path, repo)
	}
	return data, nil
}
