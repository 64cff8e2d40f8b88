// Package provider holds the search backends qstorm can benchmark.
package provider

import (
	"time"

	"qstorm/internal/config"
	"qstorm/internal/search"
)

var (
	_ search.Provider = (*Elastic)(nil)
	_ search.Provider = (*Qdrant)(nil)
	_ search.Provider = (*Pgvector)(nil)
	_ search.Provider = (*Redis)(nil)
	_ search.Provider = (*Mock)(nil)
)

// Types lists the supported provider.type values.
func Types() []config.ProviderType {
	return []config.ProviderType{config.Elasticsearch, config.Qdrant, config.Pgvector, config.Redis, config.Mock}
}

// New builds the backend selected by cfg.Type. The provider is not connected.
func New(cfg config.Provider) (search.Provider, error) {
	switch cfg.Type {
	case config.Elasticsearch:
		return NewElastic(cfg), nil
	case config.Qdrant:
		return NewQdrant(cfg), nil
	case config.Pgvector:
		return NewPgvector(cfg), nil
	case config.Redis:
		return NewRedis(cfg), nil
	case config.Mock:
		profile, err := ParseProfile(cfg.URL)
		if err != nil {
			return nil, err
		}
		return NewMock(cfg.DisplayName(), profile, time.Now().UnixNano()), nil
	}
	return nil, search.Config("unknown provider type %q", cfg.Type)
}
