package source

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v29/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/efebarandurmaz/repolens/internal/domain"
)

// GitHubConfig configures the GitHub host.
type GitHubConfig struct {
	Token string
	// BaseURL targets a GitHub Enterprise API; empty means api.github.com.
	BaseURL string
}

// GitHubHost lists and fetches files through the GitHub REST API.
type GitHubHost struct {
	client *github.Client
	log    *zap.Logger
}

// NewGitHubHost creates a GitHub host. The token is optional for public
// repositories but raises the rate-limit budget considerably.
func NewGitHubHost(ctx context.Context, cfg GitHubConfig, log *zap.Logger) (*GitHubHost, error) {
	var httpClient *http.Client
	if cfg.Token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	}

	client := github.NewClient(httpClient)
	if cfg.BaseURL != "" {
		var err error
		client, err = github.NewEnterpriseClient(cfg.BaseURL, cfg.BaseURL, httpClient)
		if err != nil {
			return nil, fmt.Errorf("github enterprise client: %w", err)
		}
	}
	return newGitHubHost(client, log), nil
}

func newGitHubHost(client *github.Client, log *zap.Logger) *GitHubHost {
	if log == nil {
		log = zap.NewNop()
	}
	return &GitHubHost{client: client, log: log}
}

func (h *GitHubHost) Name() string { return "github" }

// ListFiles resolves the default branch and walks its tree recursively.
// GitHub truncates large recursive listings; in that case the tree is
// walked again one level at a time.
func (h *GitHubHost) ListFiles(ctx context.Context, repo domain.RepoID) ([]Entry, error) {
	r, _, err := h.client.Repositories.Get(ctx, repo.Owner, repo.Name)
	if err != nil {
		return nil, mapGitHubError(repo, err)
	}
	branch := r.GetDefaultBranch()
	if branch == "" {
		branch = "master"
	}

	tree, _, err := h.client.Git.GetTree(ctx, repo.Owner, repo.Name, branch, true)
	if err != nil {
		return nil, mapGitHubError(repo, err)
	}

	var entries []Entry
	if tree.GetTruncated() {
		h.log.Warn("recursive tree listing truncated, walking subtrees",
			zap.String("repository", repo.String()),
			zap.String("branch", branch),
		)
		if err := h.walkTree(ctx, repo, branch, "", &entries); err != nil {
			return nil, err
		}
	} else {
		for _, e := range tree.Entries {
			if e.GetType() != "blob" {
				continue
			}
			entries = append(entries, Entry{
				Path: e.GetPath(),
				Size: e.GetSize(),
				Ref:  e.GetSHA(),
			})
		}
	}
	h.log.Debug("listed repository tree",
		zap.String("repository", repo.String()),
		zap.String("branch", branch),
		zap.Int("files", len(entries)),
	)
	return entries, nil
}

// walkTree lists one tree without recursion and descends into subtrees.
func (h *GitHubHost) walkTree(ctx context.Context, repo domain.RepoID, sha, prefix string, out *[]Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tree, _, err := h.client.Git.GetTree(ctx, repo.Owner, repo.Name, sha, false)
	if err != nil {
		return mapGitHubError(repo, err)
	}
	if tree.GetTruncated() {
		return fmt.Errorf("github %s: tree %q is too large to list", repo, strings.TrimSuffix(prefix, "/"))
	}
	for _, e := range tree.Entries {
		p := prefix + e.GetPath()
		switch e.GetType() {
		case "blob":
			*out = append(*out, Entry{Path: p, Size: e.GetSize(), Ref: e.GetSHA()})
		case "tree":
			if err := h.walkTree(ctx, repo, e.GetSHA(), p+"/", out); err != nil {
				return err
			}
		}
	}
	return nil
}

// Fetch downloads one blob and decodes its transport encoding.
func (h *GitHubHost) Fetch(ctx context.Context, repo domain.RepoID, entry Entry) ([]byte, error) {
	blob, _, err := h.client.Git.GetBlob(ctx, repo.Owner, repo.Name, entry.Ref)
	if err != nil {
		return nil, mapGitHubError(repo, err)
	}
	content := blob.GetContent()
	switch blob.GetEncoding() {
	case "base64":
		data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
		if err != nil {
			return nil, fmt.Errorf("decoding blob %s: %w", entry.Path, err)
		}
		return data, nil
	case "utf-8", "":
		return []byte(content), nil
	default:
		return nil, fmt.Errorf("blob %s: unsupported encoding %q", entry.Path, blob.GetEncoding())
	}
}

// mapGitHubError translates go-github errors into the domain taxonomy.
func mapGitHubError(repo domain.RepoID, err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%w: github api for %s (resets %s): %v", domain.ErrRateLimited, repo, rateErr.Rate.Reset.Time, err)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: github secondary limit for %s: %v", domain.ErrRateLimited, repo, err)
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusNotFound, http.StatusForbidden:
			return fmt.Errorf("%w: repository %s: %v", domain.ErrNotFound, repo, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: github api for %s: %v", domain.ErrRateLimited, repo, err)
		}
	}
	return fmt.Errorf("github %s: %w", repo, err)
}
