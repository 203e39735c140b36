package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/efebarandurmaz/repolens/internal/config"
	"github.com/efebarandurmaz/repolens/internal/domain"
	"github.com/efebarandurmaz/repolens/internal/metrics"
	"github.com/efebarandurmaz/repolens/internal/rag"
	"github.com/efebarandurmaz/repolens/internal/retrieve"
)

func writeCheckout(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	base := filepath.Join(root, "octocat", "hello-world")
	files := map[string]string{
		"README.md": "# Hello World\n\nPrints a greeting.\n",
		"main.go":   "package main\n\nfunc main() { println(\"Hello World\") }\n",
		"logo.png":  "\x89PNG",
	}
	for name, content := range files {
		p := filepath.Join(base, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func offlineEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REPOLENS_LLM_PROVIDER", "none")
	t.Setenv("REPOLENS_LOG_LEVEL", "error")
	t.Setenv("REPOLENS_EMBEDDING_TEXT_DIM", "32")
	t.Setenv("REPOLENS_EMBEDDING_CODE_DIM", "32")
}

func TestRunAnalyze_JSON(t *testing.T) {
	offlineEnv(t)
	root := writeCheckout(t)

	var out bytes.Buffer
	err := runAnalyze(context.Background(), &out, appOptions{localRoot: root}, "octocat/hello-world", true)
	require.NoError(t, err)

	var report metrics.IndexReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report), out.String())
	assert.Equal(t, "octocat/hello-world", report.Repository)
	assert.Equal(t, "dir", report.Host)
	assert.Equal(t, 1, report.Chunks.Textual)
	assert.Equal(t, 1, report.Chunks.Code)
	assert.Equal(t, "hash", report.Embedding.TextProvider)
	assert.Equal(t, 32, report.Embedding.Dimension)
}

func TestRunAnalyze_Summary(t *testing.T) {
	offlineEnv(t)
	root := writeCheckout(t)

	var out bytes.Buffer
	require.NoError(t, runAnalyze(context.Background(), &out, appOptions{localRoot: root}, "octocat/hello-world", false))
	assert.Contains(t, out.String(), "REPOLENS INDEX REPORT")
}

func TestRunAnalyze_Errors(t *testing.T) {
	offlineEnv(t)
	root := writeCheckout(t)

	err := runAnalyze(context.Background(), &bytes.Buffer{}, appOptions{localRoot: root}, "not-a-repo", false)
	assert.ErrorIs(t, err, domain.ErrInvalidRepo)

	var out bytes.Buffer
	err = runAnalyze(context.Background(), &out, appOptions{localRoot: root}, "octocat/missing", false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, out.String(), "FAILED")
}

func TestRunAsk_NoCompletionProvider(t *testing.T) {
	offlineEnv(t)
	root := writeCheckout(t)

	err := runAsk(context.Background(), &bytes.Buffer{}, appOptions{localRoot: root}, "octocat/hello-world", "What does it print?", false)
	assert.ErrorIs(t, err, domain.ErrCompletionProvider)
}

func TestBuildApp_TopKAndCleanup(t *testing.T) {
	offlineEnv(t)
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.GitHub.LocalRoot = writeCheckout(t)

	a, err := buildApp(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "none", a.completerName())

	_, err = a.svc.Analyze(context.Background(), domain.RepoID{Owner: "octocat", Name: "hello-world"})
	require.NoError(t, err)
	assert.True(t, a.svc.Status().Ready)

	gs, srv := a.newGracefulServer()
	assert.Equal(t, cfg.Server.Addr, srv.Addr)
	assert.NotNil(t, gs.Health)

	require.NoError(t, a.close(context.Background()))
}

func TestPrintAnswer(t *testing.T) {
	ans := &rag.Answer{
		Answer:     "It prints Hello World.",
		Repository: "octocat/hello-world",
		Sources: []retrieve.Source{
			{FileName: "README.md", ContentType: "text", Score: 0.91},
			{FileName: "main.go", ContentType: "code", Score: 0.5},
		},
	}

	var text bytes.Buffer
	require.NoError(t, printAnswer(&text, ans, false))
	assert.True(t, strings.HasPrefix(text.String(), "It prints Hello World.\n"))
	assert.Contains(t, text.String(), "README.md")

	var js bytes.Buffer
	require.NoError(t, printAnswer(&js, ans, true))
	var decoded rag.Answer
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Len(t, decoded.Sources, 2)
}

func TestPrintProviders(t *testing.T) {
	var out bytes.Buffer
	printProviders(&out)
	for _, name := range []string{"openai", "anthropic", "ollama", "hash", "none"} {
		assert.Contains(t, out.String(), name)
	}
}

func TestRootCommand(t *testing.T) {
	cmd := newRootCmd()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "analyze", "ask", "providers"} {
		assert.True(t, names[want], "missing command %s", want)
	}
	for _, flag := range []string{"config", "local", "top-k", "json"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}
