// Package searchtest provides an instrumented in-memory provider for tests.
package searchtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"qstorm/internal/search"
)

// Fake records every call and tracks the peak number of concurrent searches.
type Fake struct {
	Latency time.Duration
	// FailEvery makes every n-th search fail. Zero disables failures.
	FailEvery int
	Hybrid    bool
	// Results is returned by every successful search. Defaults to doc-0..doc-(k-1).
	Results    []search.Result
	ConnectErr error
	// Block, when set, holds every search until closed.
	Block chan struct{}
	// PanicWith, when set, makes every search panic with this value.
	PanicWith interface{}

	inFlight  int64
	maxFlight int64
	calls     int64

	mu          sync.Mutex
	connected   bool
	connects    int
	disconnects int
	lastParams  search.Params
	vectorCalls int
	hybridTexts []string
}

var _ search.Provider = (*Fake)(nil)

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Capabilities() search.Capabilities {
	return search.Capabilities{VectorSearch: true, NativeHybrid: f.Hybrid}
}

func (f *Fake) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.connected = true
	return nil
}

func (f *Fake) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
	return nil
}

func (f *Fake) HealthCheck(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected, nil
}

func (f *Fake) VectorSearch(ctx context.Context, _ []float32, params search.Params) (search.Results, error) {
	f.mu.Lock()
	f.vectorCalls++
	f.mu.Unlock()
	return f.search(ctx, params)
}

func (f *Fake) HybridSearch(ctx context.Context, text string, _ []float32, params search.Params) (search.Results, error) {
	if !f.Hybrid {
		return search.Results{}, search.Unsupported("hybrid search")
	}
	f.mu.Lock()
	f.hybridTexts = append(f.hybridTexts, text)
	f.mu.Unlock()
	return f.search(ctx, params)
}

func (f *Fake) search(ctx context.Context, params search.Params) (search.Results, error) {
	n := atomic.AddInt64(&f.inFlight, 1)
	defer atomic.AddInt64(&f.inFlight, -1)
	for {
		peak := atomic.LoadInt64(&f.maxFlight)
		if n <= peak || atomic.CompareAndSwapInt64(&f.maxFlight, peak, n) {
			break
		}
	}
	call := atomic.AddInt64(&f.calls, 1)
	if f.PanicWith != nil {
		panic(f.PanicWith)
	}

	f.mu.Lock()
	f.lastParams = params
	f.mu.Unlock()

	if f.Block != nil {
		select {
		case <-f.Block:
		case <-ctx.Done():
			return search.Results{}, ctx.Err()
		}
	}
	if f.Latency > 0 {
		time.Sleep(f.Latency)
	}
	if f.FailEvery > 0 && call%int64(f.FailEvery) == 0 {
		return search.Results{}, search.QueryExecution(fmt.Errorf("call %d rejected", call), params.TimeoutMs, "fake")
	}

	if f.Results != nil {
		return search.Results{Results: f.Results}, nil
	}
	out := make([]search.Result, params.TopK)
	for i := range out {
		out[i] = search.Result{ID: fmt.Sprintf("doc-%d", i), Score: 1 - float32(i)/float32(params.TopK)}
	}
	return search.Results{Results: out}, nil
}

// Calls is the total number of searches issued, successful or not.
func (f *Fake) Calls() int { return int(atomic.LoadInt64(&f.calls)) }

// MaxInFlight is the highest number of searches observed running at once.
func (f *Fake) MaxInFlight() int { return int(atomic.LoadInt64(&f.maxFlight)) }

func (f *Fake) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *Fake) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *Fake) LastParams() search.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastParams
}

func (f *Fake) VectorCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vectorCalls
}

func (f *Fake) HybridTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.hybridTexts...)
}
