package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/efebarandurmaz/repolens/internal/llm"
	"github.com/efebarandurmaz/repolens/internal/logging"
	"github.com/efebarandurmaz/repolens/internal/secrets"
)

// EnvPrefix is prepended to every environment override, e.g.
// REPOLENS_LLM_API_KEY.
const EnvPrefix = "REPOLENS"

// Config holds all application configuration.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Chunk     ChunkConfig     `mapstructure:"chunk"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       logging.Config  `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
}

// LLMConfig configures the completion provider.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`

	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	TokensPerMinute   int           `mapstructure:"tokens_per_minute"`
}

// ProviderConfig converts to the factory's input.
// Zero durations keep the factory defaults.
func (c LLMConfig) ProviderConfig() llm.ProviderConfig {
	pc := llm.DefaultProviderConfig()
	pc.Provider = c.Provider
	pc.APIKey = c.APIKey
	pc.Model = c.Model
	pc.BaseURL = c.BaseURL
	pc.MaxRetries = c.MaxRetries
	pc.RequestsPerMinute = c.RequestsPerMinute
	pc.TokensPerMinute = c.TokensPerMinute
	if c.Timeout > 0 {
		pc.Timeout = c.Timeout
	}
	if c.RetryDelay > 0 {
		pc.RetryDelay = c.RetryDelay
	}
	return pc
}

// EmbeddingConfig configures the two embedding spaces separately.
type EmbeddingConfig struct {
	Text      EmbedderConfig `mapstructure:"text"`
	Code      EmbedderConfig `mapstructure:"code"`
	BatchSize int            `mapstructure:"batch_size"`
	CacheTTL  time.Duration  `mapstructure:"cache_ttl"`
}

// EmbedderConfig selects the provider for one space. Provider "hash" uses
// the local hashing embedder.
type EmbedderConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Dim      int    `mapstructure:"dim"`
}

// ProviderConfig converts to the factory's input. The embedding model is
// carried in EmbedModel.
func (c EmbedderConfig) ProviderConfig() llm.ProviderConfig {
	pc := llm.DefaultProviderConfig()
	pc.Provider = c.Provider
	pc.APIKey = c.APIKey
	pc.BaseURL = c.BaseURL
	pc.EmbedModel = c.Model
	return pc
}

// GitHubConfig configures repository access.
type GitHubConfig struct {
	Token        string   `mapstructure:"token"`
	BaseURL      string   `mapstructure:"base_url"`
	LocalRoot    string   `mapstructure:"local_root"`
	MaxFileBytes int      `mapstructure:"max_file_bytes"`
	IgnoreDirs   []string `mapstructure:"ignore_dirs"`
	// FetchConcurrency bounds parallel file downloads.
	FetchConcurrency int `mapstructure:"fetch_concurrency"`
}

// ChunkConfig bounds chunk size in characters.
type ChunkConfig struct {
	MaxChars int `mapstructure:"max_chars"`
}

// RetrievalConfig sets the default number of chunks per modality.
type RetrievalConfig struct {
	TopK int `mapstructure:"top_k"`
}

// VectorConfig selects and configures the vector engine.
type VectorConfig struct {
	Backend string `mapstructure:"backend"` // "memory" or "qdrant"
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Prefix  string `mapstructure:"prefix"`
	Metric  string `mapstructure:"metric"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Environment string  `mapstructure:"environment"`
}

// AuditConfig configures the JSON-lines audit trail.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SecretsConfig selects where credentials left empty above are resolved
// from. The environment is always consulted.
type SecretsConfig struct {
	Provider   string `mapstructure:"provider"` // "env", "file" or "vault"
	File       string `mapstructure:"file"`
	VaultAddr  string `mapstructure:"vault_addr"`
	VaultToken string `mapstructure:"vault_token"`
	VaultMount string `mapstructure:"vault_mount"`
	VaultPath  string `mapstructure:"vault_path"`
}

func (c SecretsConfig) managerConfig() *secrets.Config {
	cfg := &secrets.Config{Provider: c.Provider, EnvPrefix: EnvPrefix + "_"}
	switch c.Provider {
	case "file":
		cfg.File = &secrets.FileConfig{Path: c.File}
	case "vault":
		cfg.Vault = &secrets.VaultConfig{
			Address:    c.VaultAddr,
			Token:      c.VaultToken,
			MountPath:  c.VaultMount,
			SecretPath: c.VaultPath,
		}
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	// Secrets have empty defaults so AutomaticEnv can override them.
	for _, k := range []string{
		"llm.api_key", "llm.base_url",
		"embedding.text.api_key", "embedding.text.base_url", "embedding.text.model",
		"embedding.code.api_key", "embedding.code.base_url", "embedding.code.model",
		"github.token", "github.base_url", "github.local_root",
		"tracing.endpoint",
		"secrets.file", "secrets.vault_addr", "secrets.vault_token", "secrets.vault_mount", "secrets.vault_path",
	} {
		v.SetDefault(k, "")
	}
	v.SetDefault("audit.enabled", false)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 500)
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("llm.retry_delay", time.Second)

	v.SetDefault("embedding.text.provider", "hash")
	v.SetDefault("embedding.text.dim", 256)
	v.SetDefault("embedding.code.provider", "hash")
	v.SetDefault("embedding.code.dim", 256)
	v.SetDefault("embedding.batch_size", 64)
	v.SetDefault("embedding.cache_ttl", 10*time.Minute)

	v.SetDefault("github.max_file_bytes", 1<<20)
	v.SetDefault("github.fetch_concurrency", 8)

	v.SetDefault("chunk.max_chars", 2000)
	v.SetDefault("retrieval.top_k", 3)

	v.SetDefault("vector.backend", "memory")
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("vector.prefix", "repolens_")
	v.SetDefault("vector.metric", "cosine")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.request_timeout", 5*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.environment", "development")

	v.SetDefault("audit.path", "stdout")

	v.SetDefault("secrets.provider", "env")
}

var (
	knownBackends = map[string]bool{"": true, "memory": true, "qdrant": true}
	knownMetrics  = map[string]bool{"": true, "cosine": true, "euclid": true, "dot": true}
)

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.LLM.Provider != "" && c.LLM.Provider != "none" && c.LLM.Provider != "ollama" && c.LLM.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("LLM provider '%s' is configured but api_key is empty", c.LLM.Provider))
	}
	for _, e := range []struct {
		name string
		EmbedderConfig
	}{{"text", c.Embedding.Text}, {"code", c.Embedding.Code}} {
		if e.Provider != "" && e.Provider != "hash" && e.Provider != "ollama" && e.APIKey == "" {
			warnings = append(warnings, fmt.Sprintf("embedding.%s provider '%s' is configured but api_key is empty", e.name, e.Provider))
		}
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2.0 {
		warnings = append(warnings, fmt.Sprintf("LLM temperature %.2f is outside recommended range [0.0, 2.0]", c.LLM.Temperature))
	}
	if c.LLM.MaxTokens < 0 {
		warnings = append(warnings, fmt.Sprintf("LLM max_tokens %d is negative", c.LLM.MaxTokens))
	}
	if c.Chunk.MaxChars < 0 {
		warnings = append(warnings, fmt.Sprintf("chunk max_chars %d is negative", c.Chunk.MaxChars))
	}
	if c.Retrieval.TopK < 0 {
		warnings = append(warnings, fmt.Sprintf("retrieval top_k %d is negative", c.Retrieval.TopK))
	}
	if !knownBackends[c.Vector.Backend] {
		warnings = append(warnings, fmt.Sprintf("unknown vector backend '%s', using memory", c.Vector.Backend))
	}
	if !knownMetrics[c.Vector.Metric] {
		warnings = append(warnings, fmt.Sprintf("unknown vector metric '%s', using cosine", c.Vector.Metric))
	}

	return warnings
}

// Load reads configuration from an optional file, a .env file in the working
// directory and the environment, in increasing priority.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := resolveSecrets(context.Background(), &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// resolveSecrets fills credentials the file and REPOLENS_ variables left
// empty, trying the generic key first and then the provider's conventional
// one (e.g. OPENAI_API_KEY).
func resolveSecrets(ctx context.Context, cfg *Config) error {
	m, err := secrets.NewManager(cfg.Secrets.managerConfig())
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	fill := func(dst *string, keys ...string) {
		if *dst == "" {
			*dst = m.Lookup(ctx, keys...)
		}
	}
	fill(&cfg.GitHub.Token, secrets.GitHubToken)
	if p := secrets.ProviderAPIKey(cfg.LLM.Provider); p != "" {
		fill(&cfg.LLM.APIKey, secrets.LLMAPIKey, p)
	}
	if p := secrets.ProviderAPIKey(cfg.Embedding.Text.Provider); p != "" {
		fill(&cfg.Embedding.Text.APIKey, secrets.TextEmbeddingAPIKey, p)
	}
	if p := secrets.ProviderAPIKey(cfg.Embedding.Code.Provider); p != "" {
		fill(&cfg.Embedding.Code.APIKey, secrets.CodeEmbeddingAPIKey, p)
	}
	return nil
}
