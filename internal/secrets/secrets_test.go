package secrets

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestEnvProvider_WithPrefix(t *testing.T) {
	t.Setenv("REPOLENS_GITHUB_TOKEN", "ghp_prefixed")
	t.Setenv("GITHUB_TOKEN", "ghp_plain")

	val, err := NewEnvProvider("").Get(context.Background(), GitHubToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "ghp_prefixed" {
		t.Fatalf("expected prefixed value to win, got %q", val)
	}
}

func TestEnvProvider_WithoutPrefix(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	val, err := NewEnvProvider("").Get(context.Background(), ProviderAPIKey("openai"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "sk-test" {
		t.Fatalf("expected sk-test, got %q", val)
	}
}

func TestEnvProvider_NotFound(t *testing.T) {
	_, err := NewEnvProvider("TEST_NOPE_").Get(context.Background(), "definitely_missing_key_xyz")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProviderAPIKey(t *testing.T) {
	cases := map[string]string{
		"openai":    "openai_api_key",
		"Anthropic": "anthropic_api_key",
		"groq":      "groq_api_key",
		"hash":      "",
		"none":      "",
		"ollama":    "",
		"":          "",
	}
	for in, want := range cases {
		if got := ProviderAPIKey(in); got != want {
			t.Errorf("ProviderAPIKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func writeSecrets(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileProvider_Get(t *testing.T) {
	path := writeSecrets(t, `{"llm_api_key":"sk-one"}`)
	p, err := NewFileProvider(&FileConfig{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "file" {
		t.Fatalf("expected name 'file', got %s", p.Name())
	}

	val, err := p.Get(context.Background(), LLMAPIKey)
	if err != nil || val != "sk-one" {
		t.Fatalf("expected sk-one, got %q (%v)", val, err)
	}
	if _, err := p.Get(context.Background(), GitHubToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileProvider_Missing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.json")
	if _, err := NewFileProvider(&FileConfig{Path: missing}); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := NewFileProvider(&FileConfig{Path: missing, Optional: true}); err != nil {
		t.Fatalf("optional file should be accepted: %v", err)
	}
	if _, err := NewFileProvider(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestFileProvider_InvalidJSON(t *testing.T) {
	if _, err := NewFileProvider(&FileConfig{Path: writeSecrets(t, `{`)}); err == nil {
		t.Fatal("expected parse error")
	}
}

func newVault(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Path != "/v1/secret/data/repolens" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"data":{"github_token":"ghp_vault","port":6334}}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVaultProvider_Get(t *testing.T) {
	var hits atomic.Int32
	srv := newVault(t, &hits)

	p, err := NewVaultProvider(&VaultConfig{Address: srv.URL + "/", Token: "root"})
	if err != nil {
		t.Fatal(err)
	}
	val, err := p.Get(context.Background(), GitHubToken)
	if err != nil || val != "ghp_vault" {
		t.Fatalf("expected ghp_vault, got %q (%v)", val, err)
	}
	if val, _ := p.Get(context.Background(), "port"); val != "6334" {
		t.Fatalf("expected non-string values to be formatted, got %q", val)
	}
	if _, err := p.Get(context.Background(), LLMAPIKey); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVaultProvider_Errors(t *testing.T) {
	var hits atomic.Int32
	srv := newVault(t, &hits)

	bad, _ := NewVaultProvider(&VaultConfig{Address: srv.URL, Token: "wrong"})
	if _, err := bad.Get(context.Background(), GitHubToken); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a non-NotFound error for a rejected token, got %v", err)
	}

	other, _ := NewVaultProvider(&VaultConfig{Address: srv.URL, Token: "root", SecretPath: "other"})
	if _, err := other.Get(context.Background(), GitHubToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown path, got %v", err)
	}

	if _, err := NewVaultProvider(&VaultConfig{Token: "root"}); err == nil {
		t.Fatal("expected error without address")
	}
	if _, err := NewVaultProvider(&VaultConfig{Address: srv.URL}); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestManager_EnvOnly(t *testing.T) {
	t.Setenv("REPOLENS_LLM_API_KEY", "sk-env")
	m, err := NewManager(nil)
	if err != nil {
		t.Fatal(err)
	}
	if m.Name() != "env" {
		t.Fatalf("expected env provider, got %s", m.Name())
	}
	if got := m.Lookup(context.Background(), LLMAPIKey); got != "sk-env" {
		t.Fatalf("expected sk-env, got %q", got)
	}
}

func TestManager_FileWithEnvFallback(t *testing.T) {
	t.Setenv("REPOLENS_GITHUB_TOKEN", "ghp_env")
	path := writeSecrets(t, `{"llm_api_key":"sk-file"}`)

	m, err := NewManager(&Config{Provider: "file", File: &FileConfig{Path: path}})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if got := m.Lookup(ctx, LLMAPIKey); got != "sk-file" {
		t.Fatalf("expected file value, got %q", got)
	}
	if got := m.Lookup(ctx, GitHubToken); got != "ghp_env" {
		t.Fatalf("expected env fallback, got %q", got)
	}
	if _, err := m.Get(ctx, "missing_key_xyz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_LookupOrder(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	m, _ := NewManager(nil)

	got := m.Lookup(context.Background(), "", "missing_key_xyz", ProviderAPIKey("anthropic"))
	if got != "sk-ant" {
		t.Fatalf("expected first resolvable key, got %q", got)
	}
	if got := m.Lookup(context.Background(), "missing_key_xyz"); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestManager_CachesVault(t *testing.T) {
	var hits atomic.Int32
	srv := newVault(t, &hits)

	m, err := NewManager(&Config{Provider: "vault", Vault: &VaultConfig{Address: srv.URL, Token: "root"}})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for range 3 {
		if got := m.Lookup(ctx, GitHubToken); got != "ghp_vault" {
			t.Fatalf("expected ghp_vault, got %q", got)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 vault request, got %d", hits.Load())
	}

	short, err := NewManager(&Config{Provider: "vault", Vault: &VaultConfig{Address: srv.URL, Token: "root"}, CacheTTL: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	short.Lookup(ctx, GitHubToken)
	time.Sleep(5 * time.Millisecond)
	short.Lookup(ctx, GitHubToken)
	if hits.Load() != 3 {
		t.Fatalf("expected expired entries to be fetched again, got %d requests", hits.Load())
	}
}

func TestManager_ConfigErrors(t *testing.T) {
	if _, err := NewManager(&Config{Provider: "kms"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if _, err := NewManager(&Config{Provider: "vault"}); err == nil {
		t.Fatal("expected error for vault without config")
	}
	if _, err := NewManager(&Config{Provider: "file"}); err == nil {
		t.Fatal("expected error for file without config")
	}
}
