package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"qstorm/internal/search"
)

// Profile shapes the simulated latency and failure rate of the mock backend.
type Profile string

const (
	ProfileInstant Profile = "instant"
	ProfileFast    Profile = "fast"
	ProfileMedium  Profile = "medium"
	ProfileSlow    Profile = "slow"
	ProfileSpike   Profile = "spike"
	ProfileError   Profile = "error"
)

var profiles = map[Profile]bool{
	ProfileInstant: true,
	ProfileFast:    true,
	ProfileMedium:  true,
	ProfileSlow:    true,
	ProfileSpike:   true,
	ProfileError:   true,
}

// Mock is an in-process backend that fabricates ranked results after a
// simulated delay. Useful for trying the tool without a running database.
type Mock struct {
	name    string
	profile Profile

	mu        sync.Mutex
	rnd       *rand.Rand
	connected bool
}

// ParseProfile reads the profile from a mock://<profile> URL. Empty means fast.
func ParseProfile(raw string) (Profile, error) {
	if raw == "" {
		return ProfileFast, nil
	}
	p := Profile(raw)
	if u, err := url.Parse(raw); err == nil && u.Scheme == "mock" {
		p = Profile(u.Host)
	}
	p = Profile(strings.ToLower(string(p)))
	if !profiles[p] {
		return "", search.Config("unknown mock profile %q", raw)
	}
	return p, nil
}

func NewMock(name string, profile Profile, seed int64) *Mock {
	return &Mock{name: name, profile: profile, rnd: rand.New(rand.NewSource(seed))}
}

func (m *Mock) Name() string { return m.name }

func (m *Mock) Capabilities() search.Capabilities {
	return search.Capabilities{VectorSearch: true, NativeHybrid: true}
}

func (m *Mock) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *Mock) Disconnect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *Mock) HealthCheck(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected, nil
}

func (m *Mock) VectorSearch(ctx context.Context, vector []float32, params search.Params) (search.Results, error) {
	return m.search(ctx, params)
}

func (m *Mock) HybridSearch(ctx context.Context, _ string, vector []float32, params search.Params) (search.Results, error) {
	return m.search(ctx, params)
}

// sample returns the simulated delay and whether the call fails.
func (m *Mock) sample() (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.profile {
	case ProfileInstant:
		return 0, nil
	case ProfileFast:
		// 10-50ms
		return time.Duration(m.rnd.Intn(40)+10) * time.Millisecond, nil
	case ProfileMedium:
		// 100-300ms
		return time.Duration(m.rnd.Intn(200)+100) * time.Millisecond, nil
	case ProfileSlow:
		// 1s-2s
		return time.Duration(m.rnd.Intn(1000)+1000) * time.Millisecond, nil
	case ProfileSpike:
		// mostly fast, 5% very slow: p99 suffers while p50 stays flat
		if m.rnd.Float32() < 0.05 {
			return 2 * time.Second, nil
		}
		return 20 * time.Millisecond, nil
	case ProfileError:
		d := time.Duration(m.rnd.Intn(40)+10) * time.Millisecond
		rnd := m.rnd.Float32()
		if rnd < 0.2 {
			return d, fmt.Errorf("internal server error")
		} else if rnd < 0.4 {
			return d, fmt.Errorf("too many requests")
		}
		return d, nil
	}
	return 0, nil
}

func (m *Mock) search(ctx context.Context, params search.Params) (search.Results, error) {
	m.mu.Lock()
	connected := m.connected
	m.mu.Unlock()
	if !connected {
		return search.Results{}, search.NotConnected(m.name)
	}

	ctx, cancel := search.WithTimeout(ctx, params)
	defer cancel()

	delay, failure := m.sample()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return search.Results{}, search.QueryExecution(ctx.Err(), params.TimeoutMs, "mock search")
		}
	}
	if failure != nil {
		return search.Results{}, search.QueryExecution(failure, params.TimeoutMs, "mock search")
	}

	results := make([]search.Result, 0, params.TopK)
	for i := 0; i < params.TopK; i++ {
		r := search.Result{ID: fmt.Sprintf("doc-%d", i), Score: 1 / float32(i+1)}
		if params.IncludePayload {
			r.Payload, _ = json.Marshal(map[string]interface{}{"title": fmt.Sprintf("Document %d", i), "profile": m.profile})
		}
		if params.MinScore != nil && r.Score < *params.MinScore {
			break
		}
		results = append(results, r)
	}
	took := uint64(delay / time.Millisecond)
	total := uint64(len(results))
	return search.Results{Results: results, TookMs: &took, TotalHits: &total}, nil
}
