package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/efebarandurmaz/repolens/internal/domain"
	"github.com/efebarandurmaz/repolens/internal/logging"
	"github.com/efebarandurmaz/repolens/internal/metrics"
	"github.com/efebarandurmaz/repolens/internal/rag"
	"github.com/efebarandurmaz/repolens/internal/retrieve"
	"github.com/efebarandurmaz/repolens/internal/session"
)

// Pipeline is the part of rag.Service the handlers use.
type Pipeline interface {
	StartAnalyze(ctx context.Context, repo domain.RepoID) (session.Status, error)
	Query(ctx context.Context, req rag.QueryRequest) (*rag.Answer, error)
	AnalyzeAndQuery(ctx context.Context, repo domain.RepoID, question string) (*rag.Answer, error)
	Status() session.Status
	LastReport() *metrics.IndexReport
}

// StatusResponse is the body of GET /status. LastRun describes the most
// recent indexing run, successful or not.
type StatusResponse struct {
	session.Status
	LastRun *metrics.IndexReport `json:"last_run,omitempty"`
}

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	Repository string `json:"repository"`
}

// AnalyzeResponse acknowledges an accepted analyze run.
type AnalyzeResponse struct {
	Status     string        `json:"status"`
	Message    string        `json:"message"`
	Repository string        `json:"repository"`
	State      session.State `json:"state"`
}

// QueryRequest is the body of POST /query. Repository is optional.
type QueryRequest struct {
	Repository string `json:"repository,omitempty"`
	Question   string `json:"question"`
	TopK       int    `json:"top_k,omitempty"`
}

// QueryResponse is the answer with its sources.
type QueryResponse struct {
	Answer     string            `json:"answer"`
	Sources    []retrieve.Source `json:"sources"`
	Repository string            `json:"repository"`
}

// AnalyzeAndQueryRequest is the body of POST /analyze-and-query.
type AnalyzeAndQueryRequest struct {
	Repository string `json:"repository"`
	Question   string `json:"question"`
}

// AnalyzeAndQueryResponse combines the analyze outcome with the answer.
type AnalyzeAndQueryResponse struct {
	Status     string            `json:"status"`
	Repository string            `json:"repository"`
	Answer     string            `json:"answer"`
	Sources    []retrieve.Source `json:"sources"`
	Message    string            `json:"message"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Handler serves the pipeline endpoints.
type Handler struct {
	pipeline Pipeline
}

// NewHandler creates a handler over p.
func NewHandler(p Pipeline) *Handler {
	return &Handler{pipeline: p}
}

// Analyze handles POST /analyze. Indexing continues in the background after
// the 202 reply.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := logging.WithAction(r.Context(), "Analyze")

	var req AnalyzeRequest
	if !h.decode(ctx, w, r, &req) {
		return
	}
	repo, err := domain.ParseRepoID(req.Repository)
	if err != nil {
		h.handleError(ctx, w, err)
		return
	}

	st, err := h.pipeline.StartAnalyze(ctx, repo)
	if err != nil {
		h.handleError(ctx, w, err)
		return
	}
	ctxzap.Info(ctx, "analyze accepted", zap.String("repository", repo.String()))

	h.respondJSON(w, http.StatusAccepted, AnalyzeResponse{
		Status:     "accepted",
		Message:    fmt.Sprintf("indexing %s; poll /status until ready", repo),
		Repository: repo.String(),
		State:      st.State,
	})
}

// Query handles POST /query.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := logging.WithAction(r.Context(), "Query")

	var req QueryRequest
	if !h.decode(ctx, w, r, &req) {
		return
	}
	var repo domain.RepoID
	if strings.TrimSpace(req.Repository) != "" {
		var err error
		if repo, err = domain.ParseRepoID(req.Repository); err != nil {
			h.handleError(ctx, w, err)
			return
		}
	}

	ans, err := h.pipeline.Query(ctx, rag.QueryRequest{Repository: repo, Question: req.Question, TopK: req.TopK})
	if err != nil {
		h.handleError(ctx, w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, QueryResponse{
		Answer:     ans.Answer,
		Sources:    ans.Sources,
		Repository: ans.Repository,
	})
}

// AnalyzeAndQuery handles POST /analyze-and-query. It blocks until the
// repository is indexed and the question answered.
func (h *Handler) AnalyzeAndQuery(w http.ResponseWriter, r *http.Request) {
	ctx := logging.WithAction(r.Context(), "AnalyzeAndQuery")

	var req AnalyzeAndQueryRequest
	if !h.decode(ctx, w, r, &req) {
		return
	}
	repo, err := domain.ParseRepoID(req.Repository)
	if err != nil {
		h.handleError(ctx, w, err)
		return
	}

	ans, err := h.pipeline.AnalyzeAndQuery(ctx, repo, req.Question)
	if err != nil {
		h.handleError(ctx, w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, AnalyzeAndQueryResponse{
		Status:     "success",
		Repository: repo.String(),
		Answer:     ans.Answer,
		Sources:    ans.Sources,
		Message:    fmt.Sprintf("repository %s analyzed and question answered", repo),
	})
}

// Status handles GET /status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, StatusResponse{
		Status:  h.pipeline.Status(),
		LastRun: h.pipeline.LastReport(),
	})
}

// Info handles GET / with a short description of the API.
func (h *Handler) Info(version string) http.HandlerFunc {
	body := map[string]any{
		"name":    "repolens",
		"version": version,
		"endpoints": map[string]string{
			"POST /analyze":           "Index a GitHub repository in the background",
			"POST /query":             "Ask a question about the indexed repository",
			"POST /analyze-and-query": "Index a repository and answer a question",
			"GET /status":             "Session state",
			"GET /health":             "Component health",
			"GET /metrics":            "Prometheus metrics",
		},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		h.respondJSON(w, http.StatusOK, body)
	}
}

func (h *Handler) decode(ctx context.Context, w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondError(ctx, w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(ctx context.Context, w http.ResponseWriter, status int, message string, err error) {
	if status >= http.StatusInternalServerError {
		ctxzap.Error(ctx, message, zap.Error(err))
	} else {
		ctxzap.Info(ctx, message, zap.Error(err))
	}
	resp := ErrorResponse{Error: http.StatusText(status), Message: message}
	if err != nil {
		resp.Detail = err.Error()
	}
	h.respondJSON(w, status, resp)
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	status, message := StatusFor(err)
	h.respondError(ctx, w, status, message, err)
}

// StatusFor maps a pipeline error to an HTTP status and a client message.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidRepo):
		return http.StatusBadRequest, "repository must be in the form owner/name"
	case errors.Is(err, domain.ErrEmptyQuestion):
		return http.StatusBadRequest, "question must not be empty"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "repository not found"
	case errors.Is(err, domain.ErrNotReady):
		return http.StatusConflict, "repository not indexed yet"
	case errors.Is(err, domain.ErrBusy):
		return http.StatusConflict, "indexing already in progress"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "upstream rate limit reached"
	case errors.Is(err, domain.ErrEmbeddingProvider):
		return http.StatusBadGateway, "embedding provider failed"
	case errors.Is(err, domain.ErrCompletionProvider):
		return http.StatusBadGateway, "completion provider failed"
	case errors.Is(err, domain.ErrNoContent):
		return http.StatusUnprocessableEntity, "repository has no indexable content"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
