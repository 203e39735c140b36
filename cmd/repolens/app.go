package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/efebarandurmaz/repolens/internal/answer"
	"github.com/efebarandurmaz/repolens/internal/api"
	"github.com/efebarandurmaz/repolens/internal/chunk"
	"github.com/efebarandurmaz/repolens/internal/config"
	"github.com/efebarandurmaz/repolens/internal/embed"
	"github.com/efebarandurmaz/repolens/internal/llm"
	"github.com/efebarandurmaz/repolens/internal/llmutil"
	"github.com/efebarandurmaz/repolens/internal/logging"
	"github.com/efebarandurmaz/repolens/internal/observability"
	"github.com/efebarandurmaz/repolens/internal/rag"
	"github.com/efebarandurmaz/repolens/internal/server"
	"github.com/efebarandurmaz/repolens/internal/source"
	"github.com/efebarandurmaz/repolens/internal/vector"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type appOptions struct {
	configPath string
	localRoot  string
	topK       int
}

// app is the composition root shared by every command.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	svc     *rag.Service
	index   vector.Index
	metrics *observability.Metrics
	audit   *observability.AuditLogger
	tracing *observability.TracerProvider

	completer llm.Provider
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.localRoot != "" {
		cfg.GitHub.LocalRoot = opts.localRoot
	}
	if opts.topK > 0 {
		cfg.Retrieval.TopK = opts.topK
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.Validate() {
		log.Warn("config warning", zap.String("warning", w))
	}
	return buildApp(ctx, cfg, log)
}

func buildApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: observability.NewMetrics()}

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "repolens",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.tracing = tp

	if a.audit, err = observability.NewAuditLogger(observability.AuditConfig{
		Enabled:    cfg.Audit.Enabled,
		OutputPath: cfg.Audit.Path,
	}); err != nil {
		return nil, a.fail(ctx, fmt.Errorf("init audit log: %w", err))
	}

	host, err := newHost(ctx, cfg.GitHub, log)
	if err != nil {
		return nil, a.fail(ctx, err)
	}
	extractor := source.NewExtractor(host, log.Named("source"))
	if cfg.GitHub.MaxFileBytes > 0 {
		extractor.MaxFileBytes = cfg.GitHub.MaxFileBytes
	}
	if len(cfg.GitHub.IgnoreDirs) > 0 {
		extractor.IgnoreDirs = cfg.GitHub.IgnoreDirs
	}
	if cfg.GitHub.FetchConcurrency > 0 {
		extractor.Concurrency = cfg.GitHub.FetchConcurrency
	}

	factory := llmutil.NewFactory()
	textEmb, textName, err := newEmbedder(factory, cfg.Embedding.Text, "text")
	if err != nil {
		return nil, a.fail(ctx, fmt.Errorf("text embedder: %w", err))
	}
	codeEmb, codeName, err := newEmbedder(factory, cfg.Embedding.Code, "code")
	if err != nil {
		return nil, a.fail(ctx, fmt.Errorf("code embedder: %w", err))
	}
	generator := embed.NewGenerator(textEmb, codeEmb, cfg.Embedding.CacheTTL, log.Named("embed"))
	if cfg.Embedding.BatchSize > 0 {
		generator.BatchSize = cfg.Embedding.BatchSize
	}

	metric, err := vector.ParseMetric(cfg.Vector.Metric)
	if err != nil {
		log.Warn("falling back to cosine", zap.Error(err))
		metric = vector.Cosine
	}
	if a.index, err = newIndex(cfg.Vector); err != nil {
		return nil, a.fail(ctx, err)
	}
	store := vector.NewManager(a.index, cfg.Vector.Prefix, metric, log.Named("vector"))

	if a.completer, err = factory.Create(cfg.LLM.ProviderConfig()); err != nil {
		return nil, a.fail(ctx, fmt.Errorf("completion provider: %w", err))
	}
	var completer answer.Completer
	if a.completer != nil {
		completer = a.completer
	}
	answerer := answer.New(completer, answer.Config{
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, log.Named("answer"))

	a.svc = rag.New(rag.Deps{
		Extractor: extractor,
		Chunker:   chunk.New(cfg.Chunk.MaxChars),
		Generator: generator,
		Store:     store,
		Answerer:  answerer,
	}, rag.Options{
		TopK:         cfg.Retrieval.TopK,
		TextEmbedder: textName,
		CodeEmbedder: codeName,
		Log:          log,
		Metrics:      a.metrics,
		Audit:        a.audit,
	})
	return a, nil
}

func newHost(ctx context.Context, cfg config.GitHubConfig, log *zap.Logger) (source.Host, error) {
	if cfg.LocalRoot != "" {
		return source.NewDirHost(cfg.LocalRoot), nil
	}
	return source.NewGitHubHost(ctx, source.GitHubConfig{Token: cfg.Token, BaseURL: cfg.BaseURL}, log.Named("github"))
}

func newEmbedder(factory *llm.ProviderFactory, cfg config.EmbedderConfig, seed string) (embed.Embedder, string, error) {
	if cfg.Provider == "" || cfg.Provider == "hash" {
		return embed.NewHashEmbedder(cfg.Dim, seed), "hash", nil
	}
	p, err := factory.Create(cfg.ProviderConfig())
	if err != nil {
		return nil, "", err
	}
	if p == nil {
		return nil, "", errors.New("an embedding provider is required")
	}
	return p, p.Name(), nil
}

func newIndex(cfg config.VectorConfig) (vector.Index, error) {
	switch cfg.Backend {
	case "qdrant":
		return vector.NewQdrant(cfg.Host, cfg.Port)
	default:
		return vector.NewMemoryIndex(), nil
	}
}

// fail releases whatever buildApp opened before err.
func (a *app) fail(ctx context.Context, err error) error {
	if cerr := a.close(ctx); cerr != nil {
		a.log.Warn("cleanup after failed start", zap.Error(cerr))
	}
	return err
}

// close waits for background runs and releases every resource.
func (a *app) close(ctx context.Context) error {
	var result *multierror.Error
	if a.svc != nil {
		a.svc.Wait()
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("tracing: %w", err))
		}
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("vector store: %w", err))
		}
	}
	if err := a.audit.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("audit log: %w", err))
	}
	_ = a.log.Sync()
	return result.ErrorOrNil()
}

func (a *app) completerName() string {
	if a.completer == nil {
		return "none"
	}
	return a.completer.Name()
}

// newGracefulServer assembles health checks, routes and shutdown hooks.
func (a *app) newGracefulServer() (*server.GracefulServer, *http.Server) {
	gs := server.NewGracefulServer(
		&server.HealthConfig{Version: version},
		&server.ShutdownConfig{Timeout: a.cfg.Server.ShutdownTimeout, Log: a.log.Named("shutdown")},
	)

	backend := a.cfg.Vector.Backend
	if backend == "" {
		backend = "memory"
	}
	gs.Health.RegisterCheck("vector_store", server.VectorStoreHealthChecker(backend, a.index.Ping))
	gs.Health.RegisterCheck("session", server.SessionHealthChecker(a.svc.Status))
	gs.Health.RegisterCheck("llm", server.LLMHealthChecker(a.completerName(), func(context.Context) error {
		if a.completer == nil {
			return errors.New("no completion provider configured")
		}
		return nil
	}))

	gs.Shutdown.Register(
		server.IndexingShutdownHook(a.svc.Wait),
		server.TracingShutdownHook(a.tracing.Shutdown),
		server.VectorStoreShutdownHook(a.index.Close),
		server.AuditLoggerShutdownHook(a.audit.Close),
	)

	router := api.SetupRouter(api.NewHandler(a.svc), api.RouterConfig{
		Health:  gs.Health,
		Metrics: a.metrics.Handler(),
		Version: version,
		Timeout: a.cfg.Server.RequestTimeout,
		Log:     a.log.Named("http"),
	})
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gs, srv
}
