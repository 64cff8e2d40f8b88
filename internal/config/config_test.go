package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qstorm/internal/search"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qstorm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
provider:
  name: local
  type: elasticsearch
  url: http://localhost:9200
  index: docs
  vector_field: embedding
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Provider.DisplayName())
	assert.Equal(t, Elasticsearch, cfg.Provider.Type)
	assert.Nil(t, cfg.Provider.Credentials)
	assert.Equal(t, DefaultBenchmark(), cfg.Benchmark)
	assert.Equal(t, "hash", cfg.Embedding.Model)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
provider:
  type: qdrant
  url: http://localhost:6334
  index: docs
  credentials:
    type: api_key
    key: secret
benchmark:
  mode: hybrid
  burst_size: 20
  concurrency: 4
  timeout_ms: 250
  top_k: 5
embedding:
  model: openai/text-embedding-3-small
  dimensions: 512
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "qdrant", cfg.Provider.DisplayName())
	require.NotNil(t, cfg.Provider.Credentials)
	assert.Equal(t, CredentialsAPIKey, cfg.Provider.Credentials.Type)
	assert.Equal(t, "secret", cfg.Provider.Credentials.Key)
	assert.Equal(t, ModeHybrid, cfg.Benchmark.Mode)
	assert.Equal(t, 20, cfg.Benchmark.BurstSize)
	assert.Equal(t, 4, cfg.Benchmark.Concurrency)
	assert.Equal(t, 10, cfg.Benchmark.WarmupIterations)
	assert.Equal(t, search.Params{TopK: 5, TimeoutMs: 250}, cfg.Benchmark.Params())
	assert.Equal(t, 512, cfg.Embedding.Dimensions)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("QSTORM_EMBEDDING_API_KEY", "from-env")
	t.Setenv("QSTORM_BENCHMARK_BURST_SIZE", "7")
	path := writeConfig(t, "provider:\n  type: mock\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Embedding.APIKey)
	assert.Equal(t, 7, cfg.Benchmark.BurstSize)
}

func TestValidate(t *testing.T) {
	tests := map[string]string{
		"missing type":     "provider:\n  url: x\n",
		"unknown type":     "provider:\n  type: solr\n",
		"missing url":      "provider:\n  type: redis\n  index: idx\n",
		"missing index":    "provider:\n  type: redis\n  url: redis://localhost\n",
		"bad mode":         "provider:\n  type: mock\nbenchmark:\n  mode: sparse\n",
		"zero concurrency": "provider:\n  type: mock\nbenchmark:\n  concurrency: 0\n",
		"zero burst":       "provider:\n  type: mock\nbenchmark:\n  burst_size: 0\n",
		"bad credentials":  "provider:\n  type: mock\n  credentials:\n    type: kerberos\n",
		"pgvector hybrid":  "provider:\n  type: pgvector\n  url: postgres://x\n  index: t\nbenchmark:\n  mode: hybrid\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.True(t, search.IsKind(err, search.KindConfig), "got %v", err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, search.IsKind(err, search.KindIO))
}
