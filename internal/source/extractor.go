package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/repolens/internal/domain"
)

// DefaultMaxFileBytes caps the size of a single fetched file.
const DefaultMaxFileBytes = 1 << 20

// DefaultConcurrency bounds parallel fetches.
const DefaultConcurrency = 8

// DefaultIgnoreDirs are never descended into. More can be added through
// configuration; files under them are reported as skipped.
var DefaultIgnoreDirs = []string{".git"}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Extractor pulls every decodable file of a repository through a Host.
type Extractor struct {
	host Host
	log  *zap.Logger

	MaxFileBytes int
	IgnoreDirs   []string
	// Extensions, when non-empty, restricts extraction to these extensions
	// (lower case, with leading dot).
	Extensions  []string
	Concurrency int
}

// Extraction is the outcome of one extraction run.
type Extraction struct {
	Files   []domain.RepositoryFile
	Listed  int
	Skipped int
}

// NewExtractor creates an extractor with default filters.
func NewExtractor(host Host, log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{
		host:         host,
		log:          log,
		MaxFileBytes: DefaultMaxFileBytes,
		IgnoreDirs:   DefaultIgnoreDirs,
		Concurrency:  DefaultConcurrency,
	}
}

// Host returns the underlying hosting client.
func (e *Extractor) Host() Host { return e.host }

// Extract returns the decoded files of the default branch sorted by path.
func (e *Extractor) Extract(ctx context.Context, repo domain.RepoID) ([]domain.RepositoryFile, error) {
	res, err := e.Run(ctx, repo)
	if err != nil {
		return nil, err
	}
	return res.Files, nil
}

// Run extracts the repository and reports how many files were skipped.
// Listing failures propagate. Per-file failures are logged and absorbed,
// except rate limiting, which aborts the run. Files with a binary extension
// are not fetched and not counted; every other readable file that is left
// out counts as skipped with one warning.
func (e *Extractor) Run(ctx context.Context, repo domain.RepoID) (*Extraction, error) {
	entries, err := e.host.ListFiles(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", repo, err)
	}

	res := &Extraction{Listed: len(entries)}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	limit := e.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g.SetLimit(limit)

	for _, entry := range entries {
		if IsBinaryPath(entry.Path) {
			e.log.Debug("file filtered", zap.String("path", entry.Path), zap.String("reason", "binary extension"))
			continue
		}
		if reason := e.filter(entry); reason != "" {
			e.skip(&mu, res, repo, entry.Path, errors.New(reason))
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := e.host.Fetch(gctx, repo, entry)
			if err != nil {
				if errors.Is(err, domain.ErrRateLimited) {
					return fmt.Errorf("fetching %s from %s: %w", entry.Path, repo, err)
				}
				e.skip(&mu, res, repo, entry.Path, err)
				return nil
			}

			content, err := decode(data)
			if err != nil {
				e.skip(&mu, res, repo, entry.Path, err)
				return nil
			}

			ct, lang := Classify(entry.Path)
			mu.Lock()
			res.Files = append(res.Files, domain.RepositoryFile{
				Path:        entry.Path,
				Content:     content,
				ContentType: ct,
				Language:    lang,
				Size:        len(data),
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].Path < res.Files[j].Path })
	e.log.Info("extracted repository",
		zap.String("repository", repo.String()),
		zap.String("host", e.host.Name()),
		zap.Int("listed", res.Listed),
		zap.Int("files", len(res.Files)),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (e *Extractor) skip(mu *sync.Mutex, res *Extraction, repo domain.RepoID, p string, err error) {
	mu.Lock()
	res.Skipped++
	mu.Unlock()
	e.log.Warn("skipping file",
		zap.String("repository", repo.String()),
		zap.String("path", p),
		zap.Error(err),
	)
}

// filter returns a non-empty reason when a readable entry is left out.
func (e *Extractor) filter(entry Entry) string {
	for _, seg := range strings.Split(path.Dir(entry.Path), "/") {
		for _, dir := range e.IgnoreDirs {
			if seg == dir {
				return "ignored directory " + dir
			}
		}
	}
	if e.MaxFileBytes > 0 && entry.Size > e.MaxFileBytes {
		return fmt.Sprintf("size %d exceeds limit %d", entry.Size, e.MaxFileBytes)
	}
	if len(e.Extensions) > 0 {
		ext := strings.ToLower(path.Ext(entry.Path))
		for _, allowed := range e.Extensions {
			if ext == allowed {
				return ""
			}
		}
		return "extension not included"
	}
	return ""
}

// decode accepts UTF-8 text only. A leading BOM is dropped.
func decode(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if bytes.IndexByte(data, 0) >= 0 {
		return "", errors.New("binary content (NUL byte)")
	}
	if !utf8.Valid(data) {
		return "", errors.New("content is not valid UTF-8")
	}
	return string(data), nil
}
