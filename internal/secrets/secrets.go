// Package secrets resolves provider credentials from the environment, a
// JSON file or HashiCorp Vault.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// ErrNotFound is returned when no backend holds a key.
var ErrNotFound = errors.New("secret not found")

// Well-known keys.
const (
	GitHubToken         = "github_token"
	LLMAPIKey           = "llm_api_key"
	TextEmbeddingAPIKey = "embedding_text_api_key"
	CodeEmbeddingAPIKey = "embedding_code_api_key"
)

// ProviderAPIKey is the conventional key of a provider's credential, so
// "openai" resolves from OPENAI_API_KEY. Empty and keyless providers yield "".
func ProviderAPIKey(provider string) string {
	switch provider {
	case "", "none", "hash", "ollama":
		return ""
	}
	return strings.ToLower(provider) + "_api_key"
}

// Provider is a read-only secret backend.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Name() string
}

// Config selects the primary backend. The environment is always consulted
// as a fallback.
type Config struct {
	// Provider is "env" (default), "file" or "vault".
	Provider  string
	File      *FileConfig
	Vault     *VaultConfig
	EnvPrefix string
	// CacheTTL bounds how long resolved values are reused; zero uses
	// DefaultCacheTTL.
	CacheTTL time.Duration
}

// DefaultEnvPrefix matches the configuration environment prefix.
const DefaultEnvPrefix = "REPOLENS_"

// DefaultCacheTTL is the lifetime of a cached secret.
const DefaultCacheTTL = 5 * time.Minute

// Manager looks keys up in the primary backend, then the environment.
type Manager struct {
	primary  Provider
	fallback Provider
	cache    *cache.Cache
}

// NewManager creates a manager for cfg. A nil cfg reads the environment only.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	env := NewEnvProvider(cfg.EnvPrefix)
	var primary Provider
	switch cfg.Provider {
	case "vault":
		if cfg.Vault == nil {
			return nil, errors.New("vault config required for vault provider")
		}
		v, err := NewVaultProvider(cfg.Vault)
		if err != nil {
			return nil, fmt.Errorf("create vault provider: %w", err)
		}
		primary = v
	case "file":
		if cfg.File == nil {
			return nil, errors.New("file config required for file provider")
		}
		f, err := NewFileProvider(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("create file provider: %w", err)
		}
		primary = f
	case "env", "":
		primary = env
		env = nil
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	m := &Manager{primary: primary, cache: cache.New(ttl, 2*ttl)}
	if env != nil {
		m.fallback = env
	}
	return m, nil
}

// Name reports the primary backend.
func (m *Manager) Name() string { return m.primary.Name() }

// Get resolves key from the primary backend, then the environment.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	if v, ok := m.cache.Get(key); ok {
		return v.(string), nil
	}

	val, err := m.primary.Get(ctx, key)
	if err == nil && val != "" {
		m.cache.SetDefault(key, val)
		return val, nil
	}
	if m.fallback != nil {
		if fv, ferr := m.fallback.Get(ctx, key); ferr == nil && fv != "" {
			m.cache.SetDefault(key, fv)
			return fv, nil
		}
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Lookup returns the first key that resolves, or "". Empty keys are skipped.
func (m *Manager) Lookup(ctx context.Context, keys ...string) string {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if v, err := m.Get(ctx, k); err == nil {
			return v
		}
	}
	return ""
}

// EnvProvider reads PREFIX_KEY, then KEY, upper-cased.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment provider.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Get(_ context.Context, key string) (string, error) {
	upper := strings.ToUpper(key)
	if val := os.Getenv(p.prefix + upper); val != "" {
		return val, nil
	}
	if val := os.Getenv(upper); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("%w: env %s%s", ErrNotFound, p.prefix, upper)
}
