// Package rag runs the repository question-answering pipeline: it indexes one
// repository at a time and answers questions against it.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/efebarandurmaz/repolens/internal/answer"
	"github.com/efebarandurmaz/repolens/internal/chunk"
	"github.com/efebarandurmaz/repolens/internal/domain"
	"github.com/efebarandurmaz/repolens/internal/embed"
	"github.com/efebarandurmaz/repolens/internal/logging"
	"github.com/efebarandurmaz/repolens/internal/metrics"
	"github.com/efebarandurmaz/repolens/internal/observability"
	"github.com/efebarandurmaz/repolens/internal/retrieve"
	"github.com/efebarandurmaz/repolens/internal/session"
	"github.com/efebarandurmaz/repolens/internal/source"
	"github.com/efebarandurmaz/repolens/internal/vector"
)

// Stage names reported in the index report and traces.
const (
	StageExtract = "extract"
	StageChunk   = "chunk"
	StageEmbed   = "embed"
	StageStore   = "store"
)

// Deps are the pipeline components. All are required except Answerer, whose
// absence makes every question fail with domain.ErrCompletionProvider.
type Deps struct {
	Extractor *source.Extractor
	Chunker   *chunk.Chunker
	Generator *embed.Generator
	Store     *vector.Manager
	Answerer  *answer.Answerer
}

// Options tune the service.
type Options struct {
	// TopK is the default number of chunks per modality.
	TopK int
	// TextEmbedder and CodeEmbedder name the embedding providers in reports.
	TextEmbedder string
	CodeEmbedder string

	Log     *zap.Logger
	Metrics *observability.Metrics
	Audit   *observability.AuditLogger
}

// QueryRequest is a question about the indexed repository. A zero
// Repository accepts whichever repository is ready.
type QueryRequest struct {
	Repository domain.RepoID
	Question   string
	TopK       int
}

// Answer is the reply to a question together with the chunks it used.
type Answer struct {
	Answer     string            `json:"answer"`
	Sources    []retrieve.Source `json:"sources"`
	Repository string            `json:"repository"`
}

// Service owns the session and every component of the pipeline.
type Service struct {
	extractor *source.Extractor
	chunker   *chunk.Chunker
	generator *embed.Generator
	store     *vector.Manager
	retriever *retrieve.Retriever
	answerer  *answer.Answerer
	session   *session.Session

	opts    Options
	log     *zap.Logger
	metrics *observability.Metrics
	audit   *observability.AuditLogger

	wg         sync.WaitGroup
	mu         sync.Mutex
	lastReport *metrics.IndexReport
}

// New wires the service.
func New(d Deps, opts Options) *Service {
	log := logging.OrNop(opts.Log)
	if opts.TopK <= 0 {
		opts.TopK = retrieve.DefaultTopK
	}
	if d.Answerer == nil {
		d.Answerer = answer.New(nil, answer.DefaultConfig(), log)
	}
	return &Service{
		extractor: d.Extractor,
		chunker:   d.Chunker,
		generator: d.Generator,
		store:     d.Store,
		retriever: retrieve.New(d.Generator, d.Store, log.Named("retrieve")),
		answerer:  d.Answerer,
		session:   session.New(),
		opts:      opts,
		log:       log,
		metrics:   opts.Metrics,
		audit:     opts.Audit,
	}
}

// Analyze indexes repo synchronously. It fails with domain.ErrBusy while
// another run is in progress.
func (s *Service) Analyze(ctx context.Context, repo domain.RepoID) (*metrics.IndexReport, error) {
	ticket, err := s.session.Begin(repo)
	if err != nil {
		return nil, err
	}
	return s.index(ctx, ticket)
}

// StartAnalyze claims the session for repo and indexes it in the background.
// The run is not cancelled when ctx is.
func (s *Service) StartAnalyze(ctx context.Context, repo domain.RepoID) (session.Status, error) {
	ticket, err := s.session.Begin(repo)
	if err != nil {
		return session.Status{}, err
	}
	st := s.session.Status()

	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.index(bg, ticket)
	}()
	return st, nil
}

// Wait blocks until background runs have finished.
func (s *Service) Wait() { s.wg.Wait() }

// Status reports the session state.
func (s *Service) Status() session.Status { return s.session.Status() }

// LastReport returns the report of the most recent run, or nil.
func (s *Service) LastReport() *metrics.IndexReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport
}

func (s *Service) index(ctx context.Context, ticket session.Ticket) (*metrics.IndexReport, error) {
	repo := ticket.Repo
	ctx = logging.AddFields(ctx, zap.String("repository", repo.String()))
	log := logging.From(ctx, s.log)

	report := metrics.New(repo, s.extractor.Host().Name())
	report.Embedding.TextProvider = s.opts.TextEmbedder
	report.Embedding.CodeProvider = s.opts.CodeEmbedder

	s.metrics.SetIndexing(true)
	defer s.metrics.SetIndexing(false)
	s.audit.LogAnalyzeStart(repo.String())
	log.Info("indexing started")

	ctx, span := observability.StartIndexSpan(ctx, repo)
	err := s.run(ctx, repo, report)
	report.Finish()
	observability.RecordIndexResult(span, report.Source.Files, report.Chunks.Textual, report.Chunks.Code)
	observability.RecordError(span, err)
	span.End()

	if err != nil {
		err = fmt.Errorf("analyze %s: %w", repo, err)
		if ferr := s.session.Fail(ticket, err); ferr != nil {
			log.Error("session rejected failure", zap.Error(ferr))
		}
		log.Error("indexing failed", zap.Error(err), zap.Duration("duration", report.Duration))
	} else {
		if cerr := s.session.Complete(ticket); cerr != nil {
			err = cerr
		}
		log.Info("indexing completed",
			zap.Int("files", report.Source.Files),
			zap.Int("textual_chunks", report.Chunks.Textual),
			zap.Int("code_chunks", report.Chunks.Code),
			zap.Duration("duration", report.Duration),
		)
	}

	s.metrics.ObserveIndex(report.StartedAt, report.Source.Skipped, report.Chunks.Textual, report.Chunks.Code, err)
	s.audit.LogAnalyzeEnd(repo.String(), report.Duration, report.Chunks.Textual, report.Chunks.Code, err)

	s.mu.Lock()
	s.lastReport = report
	s.mu.Unlock()
	return report, err
}

// run embeds everything before touching the store, so an embedding failure
// leaves the previous collections in place.
func (s *Service) run(ctx context.Context, repo domain.RepoID, report *metrics.IndexReport) error {
	var files []domain.RepositoryFile
	err := s.stage(ctx, report, StageExtract, func(ctx context.Context) error {
		ext, err := s.extractor.Run(ctx, repo)
		if err != nil {
			return err
		}
		files = ext.Files
		report.CollectSource(ext.Listed, ext.Skipped, ext.Files)
		return nil
	})
	if err != nil {
		return err
	}

	var textual, code []domain.Chunk
	err = s.stage(ctx, report, StageChunk, func(context.Context) error {
		textual, code = s.chunker.Split(files)
		report.CollectChunks(textual, code)
		if len(textual)+len(code) == 0 {
			return fmt.Errorf("%w: %d files produced no chunks", domain.ErrNoContent, len(files))
		}
		return nil
	})
	if err != nil {
		return err
	}

	var textVecs, codeVecs []embed.Vector
	err = s.stage(ctx, report, StageEmbed, func(ctx context.Context) error {
		var err error
		if textVecs, err = s.generator.EmbedChunks(ctx, domain.ModalityTextual, contents(textual)); err != nil {
			return err
		}
		if codeVecs, err = s.generator.EmbedChunks(ctx, domain.ModalityCode, contents(code)); err != nil {
			return err
		}
		if len(textVecs) > 0 {
			report.Embedding.Dimension = textVecs[0].Dim()
		} else {
			report.Embedding.Dimension = codeVecs[0].Dim()
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.stage(ctx, report, StageStore, func(ctx context.Context) error {
		if err := s.store.Reset(ctx); err != nil {
			return err
		}
		err := s.store.Add(ctx, domain.ModalityTextual, textVecs, contents(textual), metadata(textual))
		if err == nil {
			err = s.store.Add(ctx, domain.ModalityCode, codeVecs, contents(code), metadata(code))
		}
		if err != nil {
			if rerr := s.store.Reset(ctx); rerr != nil {
				logging.From(ctx, s.log).Warn("clearing partial collections failed", zap.Error(rerr))
			}
			return err
		}
		return nil
	})
}

func (s *Service) stage(ctx context.Context, report *metrics.IndexReport, name string, fn func(context.Context) error) error {
	ctx, span := observability.StartStageSpan(ctx, name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	observability.RecordError(span, err)
	report.AddStage(name, time.Since(start), err)
	return err
}

func contents(chunks []domain.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}

func metadata(chunks []domain.Chunk) []domain.Metadata {
	out := make([]domain.Metadata, len(chunks))
	for i, c := range chunks {
		out[i] = c.Metadata()
	}
	return out
}

// Query answers a question about the ready repository. No provider is
// called unless the session is READY for the requested repository.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*Answer, error) {
	start := time.Now()
	ans, err := s.query(ctx, req)

	sources := 0
	if ans != nil {
		sources = len(ans.Sources)
	}
	s.metrics.ObserveQuery(start, err)
	s.audit.LogQuery(req.Repository.String(), req.Question, time.Since(start), sources, err)
	if err != nil && !errors.Is(err, domain.ErrNotReady) {
		logging.From(ctx, s.log).Warn("query failed", zap.Error(err))
	}
	return ans, err
}

func (s *Service) query(ctx context.Context, req QueryRequest) (*Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, domain.ErrEmptyQuestion
	}
	repo, err := s.session.Ready(req.Repository)
	if err != nil {
		return nil, err
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.opts.TopK
	}

	ctx, span := observability.StartQuerySpan(ctx, repo, topK)
	defer span.End()

	res, err := s.retriever.Retrieve(ctx, question, topK)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	observability.RecordRetrieval(span, len(res.Textual), len(res.Code))

	llmCtx, llmSpan := observability.StartLLMSpan(ctx, s.answerer.Name())
	text, err := s.answerer.Answer(llmCtx, answer.Synthesize(question, res))
	observability.RecordError(llmSpan, err)
	llmSpan.End()
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	return &Answer{Answer: text, Sources: res.Sources(), Repository: repo.String()}, nil
}

// AnalyzeAndQuery indexes repo and then answers question against it.
func (s *Service) AnalyzeAndQuery(ctx context.Context, repo domain.RepoID, question string) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, domain.ErrEmptyQuestion
	}
	if _, err := s.Analyze(ctx, repo); err != nil {
		return nil, err
	}
	return s.Query(ctx, QueryRequest{Repository: repo, Question: question})
}
