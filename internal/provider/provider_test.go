package provider

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qstorm/internal/config"
	"qstorm/internal/search"
)

func TestNewSelectsBackend(t *testing.T) {
	for _, typ := range Types() {
		p, err := New(config.Provider{Name: "x", Type: typ, URL: "http://localhost:1", Index: "docs"})
		if typ == config.Mock {
			// http://localhost:1 is not a mock profile
			assert.True(t, search.IsKind(err, search.KindConfig))
			continue
		}
		require.NoError(t, err, typ)
		assert.Equal(t, "x", p.Name())
		assert.True(t, p.Capabilities().VectorSearch)
	}

	_, err := New(config.Provider{Type: "solr"})
	assert.True(t, search.IsKind(err, search.KindConfig))
}

func TestHybridCapabilityFollowsTextField(t *testing.T) {
	cfg := config.Provider{Type: config.Qdrant, URL: "http://localhost:6334", Index: "docs"}
	assert.False(t, NewQdrant(cfg).Capabilities().NativeHybrid)
	assert.False(t, NewPgvector(cfg).Capabilities().NativeHybrid)
	assert.False(t, NewRedis(cfg).Capabilities().NativeHybrid)
	assert.True(t, NewElastic(cfg).Capabilities().NativeHybrid)

	cfg.TextField = "body"
	assert.True(t, NewQdrant(cfg).Capabilities().NativeHybrid)
	assert.True(t, NewPgvector(cfg).Capabilities().NativeHybrid)
}

func TestSearchBeforeConnect(t *testing.T) {
	ctx := context.Background()
	cfg := config.Provider{Name: "x", URL: "http://localhost:1", Index: "docs", TextField: "body"}
	for _, p := range []search.Provider{NewElastic(cfg), NewQdrant(cfg), NewPgvector(cfg), NewRedis(cfg)} {
		_, err := p.VectorSearch(ctx, []float32{1}, search.DefaultParams())
		assert.True(t, search.IsKind(err, search.KindNotConnected), "%T", p)
		_, err = p.HealthCheck(ctx)
		assert.True(t, search.IsKind(err, search.KindNotConnected), "%T", p)
	}

	_, err := NewRedis(cfg).HybridSearch(ctx, "q", []float32{1}, search.DefaultParams())
	assert.True(t, search.IsKind(err, search.KindUnsupported))
}

func TestHybridWithoutTextFieldIsUnsupported(t *testing.T) {
	ctx := context.Background()
	cfg := config.Provider{URL: "http://localhost:6334", Index: "docs"}

	_, err := NewQdrant(cfg).HybridSearch(ctx, "q", []float32{1}, search.DefaultParams())
	assert.True(t, search.IsKind(err, search.KindUnsupported))
	_, err = NewPgvector(cfg).HybridSearch(ctx, "q", []float32{1}, search.DefaultParams())
	assert.True(t, search.IsKind(err, search.KindUnsupported))
}

func TestMockProfiles(t *testing.T) {
	p, err := ParseProfile("mock://spike")
	require.NoError(t, err)
	assert.Equal(t, ProfileSpike, p)

	p, err = ParseProfile("")
	require.NoError(t, err)
	assert.Equal(t, ProfileFast, p)

	p, err = ParseProfile("Instant")
	require.NoError(t, err)
	assert.Equal(t, ProfileInstant, p)

	_, err = ParseProfile("mock://turbo")
	assert.True(t, search.IsKind(err, search.KindConfig))
}

func TestMockSearch(t *testing.T) {
	ctx := context.Background()
	m := NewMock("mock", ProfileInstant, 1)

	_, err := m.VectorSearch(ctx, nil, search.DefaultParams())
	assert.True(t, search.IsKind(err, search.KindNotConnected))

	require.NoError(t, m.Connect(ctx))
	ok, err := m.HealthCheck(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	params := search.DefaultParams()
	params.TopK = 3
	res, err := m.VectorSearch(ctx, []float32{0.1}, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-0", "doc-1", "doc-2"}, res.IDs())
	assert.Nil(t, res.Results[0].Payload)

	params.IncludePayload = true
	floor := float32(0.4)
	params.MinScore = &floor
	res, err = m.HybridSearch(ctx, "text", []float32{0.1}, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-0", "doc-1"}, res.IDs())
	assert.Contains(t, string(res.Results[0].Payload), `"title":"Document 0"`)

	require.NoError(t, m.Disconnect(ctx))
}

func TestMockTimeout(t *testing.T) {
	ctx := context.Background()
	m := NewMock("mock", ProfileSlow, 1)
	require.NoError(t, m.Connect(ctx))

	params := search.DefaultParams()
	params.TimeoutMs = 5
	_, err := m.VectorSearch(ctx, nil, params)
	assert.True(t, search.IsKind(err, search.KindTimeout))
}

func TestElasticBody(t *testing.T) {
	e := NewElastic(config.Provider{Index: "docs", TextField: "body"})
	params := search.Params{TopK: 5}

	body := e.knnBody([]float32{0.5}, params)
	knn := body["knn"].(map[string]interface{})
	assert.Equal(t, "vector", knn["field"])
	assert.Equal(t, 5, knn["k"])
	assert.Equal(t, 50, knn["num_candidates"])
	assert.Equal(t, false, body["_source"])
}

func TestDecodeElasticHits(t *testing.T) {
	raw := `{"took":3,"hits":{"total":{"value":42},"hits":[
		{"_id":"a","_score":0.9,"_source":{"title":"A"}},
		{"_id":"b","_score":0.2,"_source":{"title":"B"}},
		{"_score":0.1}
	]}}`
	floor := float32(0.5)
	res, err := decodeElasticHits(strings.NewReader(raw), search.Params{IncludePayload: true, MinScore: &floor})
	require.NoError(t, err)

	require.NotNil(t, res.TookMs)
	assert.Equal(t, uint64(3), *res.TookMs)
	require.NotNil(t, res.TotalHits)
	assert.Equal(t, uint64(42), *res.TotalHits)
	assert.Equal(t, []string{"a"}, res.IDs())
	assert.JSONEq(t, `{"title":"A"}`, string(res.Results[0].Payload))

	_, err = decodeElasticHits(strings.NewReader(`{"took":1}`), search.Params{})
	assert.True(t, search.IsKind(err, search.KindInvalidResponse))
}

func TestQdrantEndpoint(t *testing.T) {
	host, port, tls, err := qdrantEndpoint("https://qdrant.example.com:7334")
	require.NoError(t, err)
	assert.Equal(t, "qdrant.example.com", host)
	assert.Equal(t, 7334, port)
	assert.True(t, tls)

	host, port, tls, err = qdrantEndpoint("http://localhost")
	require.NoError(t, err)
	assert.Equal(t, "localhost", host)
	assert.Equal(t, defaultQdrantGRPCPort, port)
	assert.False(t, tls)

	_, _, _, err = qdrantEndpoint("not a url")
	assert.True(t, search.IsKind(err, search.KindConfig))
}

func TestQdrantPayloadConversion(t *testing.T) {
	payload := qdrant.NewValueMap(map[string]any{
		"title": "A",
		"rank":  3,
		"tags":  []any{"x", "y"},
	})
	b, err := json.Marshal(payloadToMap(payload))
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"A","rank":3,"tags":["x","y"]}`, string(b))

	assert.Equal(t, "17", pointID(qdrant.NewIDNum(17)))
	assert.Equal(t, "unknown", pointID(nil))
}

func TestPgvectorConnString(t *testing.T) {
	dsn, err := connString(config.Provider{URL: "postgres://old:pw@db:5432/app"})
	require.NoError(t, err)
	assert.Equal(t, "postgres://old:pw@db:5432/app", dsn)

	dsn, err = connString(config.Provider{
		URL:         "postgresql://old:pw@db:5432/app",
		Credentials: &config.Credentials{Type: config.CredentialsBasic, Username: "bench", Password: "s3cret"},
	})
	require.NoError(t, err)
	assert.Equal(t, "postgresql://bench:s3cret@db:5432/app", dsn)

	_, err = connString(config.Provider{
		URL:         "postgres://db/app",
		Credentials: &config.Credentials{Type: config.CredentialsAPIKey, Key: "k"},
	})
	assert.True(t, search.IsKind(err, search.KindConfig))

	_, err = connString(config.Provider{
		URL:         "mysql://db/app",
		Credentials: &config.Credentials{Type: config.CredentialsBasic},
	})
	assert.True(t, search.IsKind(err, search.KindConfig))
}

func TestPgvectorSQLQuotesIdentifiers(t *testing.T) {
	p := NewPgvector(config.Provider{Index: "docs", TextField: "body"})
	assert.Contains(t, p.vectorSQL(false), `FROM "docs" ORDER BY "embedding" <=> $1::vector LIMIT $2`)
	assert.Contains(t, p.vectorSQL(true), `to_jsonb(t) - 'embedding' - 'id'`)
	assert.Contains(t, p.hybridSQL(), `1.0 / (60 + v.rank)`)
	assert.Contains(t, p.hybridSQL(), `to_tsvector('english', "body")`)
}

func TestRedisVectorBytes(t *testing.T) {
	b := vectorBytes([]float32{1.5, -2})
	require.Len(t, b, 8)
	assert.Equal(t, float32(1.5), math.Float32frombits(binary.LittleEndian.Uint32(b[0:])))
	assert.Equal(t, float32(-2), math.Float32frombits(binary.LittleEndian.Uint32(b[4:])))
}

func TestRedisKNNArgs(t *testing.T) {
	r := NewRedis(config.Provider{Index: "idx", VectorField: "vec"})
	args := r.knnArgs([]float32{1}, search.Params{TopK: 4})
	assert.Equal(t, "FT.SEARCH", args[0])
	assert.Equal(t, "idx", args[1])
	assert.Equal(t, "*=>[KNN 4 @vec $vec AS __score]", args[2])
	assert.Contains(t, args, "RETURN")
	assert.Equal(t, 2, args[len(args)-1])
}

func TestParseFTSearch(t *testing.T) {
	raw := []interface{}{
		int64(2),
		"doc:1", []interface{}{"__score", "0.25", "title", "one", "vec", "\x00\x00"},
		"doc:2", []interface{}{"__score", "0.5"},
	}
	res, err := parseFTSearch(raw, "vec", true)
	require.NoError(t, err)

	require.NotNil(t, res.TotalHits)
	assert.Equal(t, uint64(2), *res.TotalHits)
	assert.Equal(t, []string{"doc:1", "doc:2"}, res.IDs())
	assert.InDelta(t, 0.75, res.Results[0].Score, 1e-6)
	assert.JSONEq(t, `{"title":"one"}`, string(res.Results[0].Payload))
	assert.Nil(t, res.Results[1].Payload)

	_, err = parseFTSearch("OK", "vec", false)
	assert.True(t, search.IsKind(err, search.KindInvalidResponse))
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions(config.Provider{
		URL:         "redis://localhost:6380/0",
		PoolSize:    32,
		Credentials: &config.Credentials{Type: config.CredentialsBasic, Username: "u", Password: "p"},
	})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6380", opts.Addr)
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, "p", opts.Password)
	assert.Equal(t, 32, opts.PoolSize)

	_, err = redisOptions(config.Provider{URL: "http://nope"})
	assert.True(t, search.IsKind(err, search.KindConfig))
}

// Each Connect below fails on config before dialing; the handle left by an
// earlier session must be closed either way.
func TestPgvectorReconnectClosesPool(t *testing.T) {
	ctx := context.Background()
	stale, err := pgxpool.New(ctx, "postgres://u:p@127.0.0.1:1/db")
	require.NoError(t, err)

	p := NewPgvector(config.Provider{
		URL:         "postgres://127.0.0.1:1/db",
		Index:       "docs",
		Credentials: &config.Credentials{Type: config.CredentialsBearer, Token: "t"},
	})
	p.pool = stale

	require.Error(t, p.Connect(ctx))
	assert.Nil(t, p.pool)
	assert.ErrorContains(t, stale.Ping(ctx), "closed pool")
}

func TestQdrantReconnectClosesClient(t *testing.T) {
	stale, err := qdrant.NewClient(&qdrant.Config{Host: "127.0.0.1", Port: 1})
	require.NoError(t, err)

	q := NewQdrant(config.Provider{URL: "not a url", Index: "docs"})
	q.client = stale

	require.Error(t, q.Connect(context.Background()))
	assert.Nil(t, q.client)
	assert.Error(t, stale.Close(), "already closed")
}

func TestRedisReconnectClosesClient(t *testing.T) {
	stale := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})

	r := NewRedis(config.Provider{URL: "not-a-redis-url", Index: "docs"})
	r.client = stale

	err := r.Connect(context.Background())
	assert.True(t, search.IsKind(err, search.KindConfig))
	assert.Nil(t, r.client)
	assert.Error(t, stale.Close(), "already closed")
}
