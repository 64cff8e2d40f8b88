// Package config loads the qstorm run configuration.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"qstorm/internal/search"
)

type SearchMode string

const (
	ModeVector SearchMode = "vector"
	ModeHybrid SearchMode = "hybrid"
)

type ProviderType string

const (
	Elasticsearch ProviderType = "elasticsearch"
	Qdrant        ProviderType = "qdrant"
	Pgvector      ProviderType = "pgvector"
	Redis         ProviderType = "redis"
	Mock          ProviderType = "mock"
)

type CredentialsType string

const (
	CredentialsBasic  CredentialsType = "basic"
	CredentialsAPIKey CredentialsType = "api_key"
	CredentialsBearer CredentialsType = "bearer"
)

type Credentials struct {
	Type     CredentialsType `mapstructure:"type"`
	Username string          `mapstructure:"username"`
	Password string          `mapstructure:"password"`
	Key      string          `mapstructure:"key"`
	Token    string          `mapstructure:"token"`
}

type Provider struct {
	Name        string       `mapstructure:"name"`
	Type        ProviderType `mapstructure:"type"`
	URL         string       `mapstructure:"url"`
	Index       string       `mapstructure:"index"`
	VectorField string       `mapstructure:"vector_field"`
	TextField   string       `mapstructure:"text_field"`
	PoolSize    int          `mapstructure:"pool_size"`
	Credentials *Credentials `mapstructure:"credentials"`
}

// DisplayName falls back to the provider type.
func (p Provider) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return string(p.Type)
}

type Benchmark struct {
	Mode             SearchMode `mapstructure:"mode"`
	WarmupIterations int        `mapstructure:"warmup_iterations"`
	BurstSize        int        `mapstructure:"burst_size"`
	Concurrency      int        `mapstructure:"concurrency"`
	TimeoutMs        uint64     `mapstructure:"timeout_ms"`
	TopK             int        `mapstructure:"top_k"`
	BurstIntervalMs  uint64     `mapstructure:"burst_interval_ms"`
	HistorySize      int        `mapstructure:"history_size"`
}

func DefaultBenchmark() Benchmark {
	return Benchmark{
		Mode:             ModeVector,
		WarmupIterations: 10,
		BurstSize:        100,
		Concurrency:      10,
		TimeoutMs:        search.DefaultTimeoutMs,
		TopK:             search.DefaultTopK,
		BurstIntervalMs:  1000,
		HistorySize:      100,
	}
}

// Params builds the per-burst search parameters.
func (b Benchmark) Params() search.Params {
	return search.Params{TopK: b.TopK, TimeoutMs: b.TimeoutMs}
}

type Embedding struct {
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	Dimensions int    `mapstructure:"dimensions"`
	BaseURL    string `mapstructure:"base_url"`
}

type Config struct {
	Provider  Provider  `mapstructure:"provider"`
	Benchmark Benchmark `mapstructure:"benchmark"`
	Embedding Embedding `mapstructure:"embedding"`
	Queries   string    `mapstructure:"queries"`
}

const envPrefix = "QSTORM"

func setDefaults(v *viper.Viper) {
	d := DefaultBenchmark()
	v.SetDefault("benchmark.mode", string(d.Mode))
	v.SetDefault("benchmark.warmup_iterations", d.WarmupIterations)
	v.SetDefault("benchmark.burst_size", d.BurstSize)
	v.SetDefault("benchmark.concurrency", d.Concurrency)
	v.SetDefault("benchmark.timeout_ms", d.TimeoutMs)
	v.SetDefault("benchmark.top_k", d.TopK)
	v.SetDefault("benchmark.burst_interval_ms", d.BurstIntervalMs)
	v.SetDefault("benchmark.history_size", d.HistorySize)
	v.SetDefault("provider.pool_size", 10)
	v.SetDefault("embedding.model", "hash")
	v.SetDefault("embedding.dimensions", 0)
}

// New returns a viper instance with defaults and QSTORM_ environment overrides
// registered. Nested keys map to env names with dots replaced by underscores.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	// keys commonly set only through the environment
	for _, key := range []string{
		"provider.url",
		"provider.credentials.username",
		"provider.credentials.password",
		"provider.credentials.key",
		"provider.credentials.token",
		"embedding.api_key",
	} {
		_ = v.BindEnv(key)
	}
	return v
}

// Load reads the YAML file at path and validates the result.
func Load(path string) (*Config, error) {
	v := New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, search.IO(err, "read config %s", path)
	}
	return Decode(v)
}

func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, search.Serialization(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	p := c.Provider
	switch p.Type {
	case Elasticsearch, Qdrant, Pgvector, Redis:
		if p.URL == "" {
			return search.Config("provider.url is required for %s", p.Type)
		}
		if p.Index == "" {
			return search.Config("provider.index is required for %s", p.Type)
		}
	case Mock:
	case "":
		return search.Config("provider.type is required")
	default:
		return search.Config("unknown provider type %q", p.Type)
	}

	if p.Credentials != nil {
		switch p.Credentials.Type {
		case CredentialsBasic, CredentialsAPIKey, CredentialsBearer:
		default:
			return search.Config("unknown credentials type %q", p.Credentials.Type)
		}
	}

	b := c.Benchmark
	switch b.Mode {
	case ModeVector:
	case ModeHybrid:
		if p.Type == Pgvector && p.TextField == "" {
			return search.Config("hybrid mode on pgvector requires provider.text_field")
		}
	default:
		return search.Config("unknown benchmark mode %q", b.Mode)
	}
	if b.BurstSize <= 0 {
		return search.Config("benchmark.burst_size must be positive")
	}
	if b.Concurrency <= 0 {
		return search.Config("benchmark.concurrency must be positive")
	}
	if b.TopK <= 0 {
		return search.Config("benchmark.top_k must be positive")
	}
	if b.WarmupIterations < 0 {
		return search.Config("benchmark.warmup_iterations must not be negative")
	}
	return nil
}
