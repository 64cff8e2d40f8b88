package search

import (
	"context"
	"encoding/json"
	"time"
)

const (
	DefaultTopK      = 10
	DefaultTimeoutMs = 5000
)

// Params is the per-burst snapshot handed to every backend call.
type Params struct {
	TopK           int
	MinScore       *float32
	TimeoutMs      uint64
	IncludePayload bool
}

func DefaultParams() Params {
	return Params{TopK: DefaultTopK, TimeoutMs: DefaultTimeoutMs}
}

// Timeout returns the advisory per-query timeout. Zero means none.
func (p Params) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

type Result struct {
	ID      string          `json:"id"`
	Score   float32         `json:"score"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Results struct {
	Results   []Result `json:"results"`
	TookMs    *uint64  `json:"took_ms,omitempty"`
	TotalHits *uint64  `json:"total_hits,omitempty"`
}

// IDs returns the result ids in rank order.
func (r Results) IDs() []string {
	ids := make([]string, len(r.Results))
	for i, res := range r.Results {
		ids[i] = res.ID
	}
	return ids
}

type Capabilities struct {
	VectorSearch bool
	NativeHybrid bool
	// VectorDimension is 0 when the backend does not report it.
	VectorDimension int
}

// Provider is a connection to one vector-search backend.
//
// A Provider is owned by exactly one runner. Search methods must be safe for
// concurrent use once Connect has returned; Connect and Disconnect are not.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	HealthCheck(ctx context.Context) (bool, error)
	VectorSearch(ctx context.Context, vector []float32, params Params) (Results, error)
	HybridSearch(ctx context.Context, text string, vector []float32, params Params) (Results, error)
}

// NoHybrid can be embedded by providers without native fusion.
type NoHybrid struct{}

func (NoHybrid) HybridSearch(context.Context, string, []float32, Params) (Results, error) {
	return Results{}, Unsupported("hybrid search")
}

// WithTimeout applies the params timeout to ctx when one is set.
func WithTimeout(ctx context.Context, params Params) (context.Context, context.CancelFunc) {
	if params.TimeoutMs == 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, params.Timeout())
}

// FilterScore drops results scoring below floor. A nil floor keeps everything.
func FilterScore(results []Result, floor *float32) []Result {
	if floor == nil {
		return results
	}
	kept := results[:0]
	for _, r := range results {
		if r.Score >= *floor {
			kept = append(kept, r)
		}
	}
	return kept
}
