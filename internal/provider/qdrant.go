package provider

import (
	"context"
	"encoding/json"
	"net"
	"net/url"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"qstorm/internal/config"
	"qstorm/internal/search"
)

const (
	defaultQdrantGRPCPort = 6334
	bm25Model             = "qdrant/bm25"
)

// Qdrant queries a collection over gRPC. Hybrid search prefetches BM25 and
// dense candidates and fuses them with RRF; it needs provider.text_field.
type Qdrant struct {
	name   string
	cfg    config.Provider
	client *qdrant.Client
}

func NewQdrant(cfg config.Provider) *Qdrant {
	return &Qdrant{name: cfg.DisplayName(), cfg: cfg}
}

func (q *Qdrant) Name() string { return q.name }

func (q *Qdrant) Capabilities() search.Capabilities {
	return search.Capabilities{VectorSearch: true, NativeHybrid: q.cfg.TextField != ""}
}

// qdrantEndpoint splits a provider URL into host, port and TLS flag.
func qdrantEndpoint(raw string) (string, int, bool, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", 0, false, search.Config("invalid qdrant url %q", raw)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		// no port in the URL
		return u.Host, defaultQdrantGRPCPort, u.Scheme == "https", nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false, search.Config("invalid qdrant port %q", portStr)
	}
	return host, port, u.Scheme == "https", nil
}

func (q *Qdrant) Connect(ctx context.Context) error {
	if err := q.Disconnect(ctx); err != nil {
		return err
	}
	host, port, tls, err := qdrantEndpoint(q.cfg.URL)
	if err != nil {
		return err
	}
	qcfg := &qdrant.Config{Host: host, Port: port, UseTLS: tls}
	if c := q.cfg.Credentials; c != nil {
		switch c.Type {
		case config.CredentialsAPIKey:
			qcfg.APIKey = c.Key
		case config.CredentialsBearer:
			qcfg.APIKey = c.Token
		default:
			return search.Config("qdrant supports api_key credentials only")
		}
	}

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return search.Connection(err, "qdrant client %s", q.cfg.URL)
	}
	exists, err := client.CollectionExists(ctx, q.cfg.Index)
	if err != nil {
		_ = client.Close()
		return search.Connection(err, "qdrant list collections")
	}
	if !exists {
		_ = client.Close()
		return search.Config("collection %q not found", q.cfg.Index)
	}
	q.client = client
	return nil
}

func (q *Qdrant) Disconnect(context.Context) error {
	if q.client == nil {
		return nil
	}
	err := q.client.Close()
	q.client = nil
	if err != nil {
		return search.Connection(err, "qdrant close")
	}
	return nil
}

func (q *Qdrant) HealthCheck(ctx context.Context) (bool, error) {
	if q.client == nil {
		return false, search.NotConnected(q.name)
	}
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return false, search.Connection(err, "qdrant health check")
	}
	return true, nil
}

func (q *Qdrant) VectorSearch(ctx context.Context, vector []float32, params search.Params) (search.Results, error) {
	req := &qdrant.QueryPoints{
		CollectionName: q.cfg.Index,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(params.TopK)),
		WithPayload:    qdrant.NewWithPayload(params.IncludePayload),
		ScoreThreshold: params.MinScore,
	}
	if q.cfg.VectorField != "" {
		req.Using = qdrant.PtrOf(q.cfg.VectorField)
	}
	return q.query(ctx, req, params)
}

func (q *Qdrant) HybridSearch(ctx context.Context, text string, vector []float32, params search.Params) (search.Results, error) {
	if q.cfg.TextField == "" {
		return search.Results{}, search.Unsupported("qdrant hybrid search without provider.text_field")
	}
	prefetchLimit := uint64(params.TopK) * 2

	dense := &qdrant.PrefetchQuery{
		Query: qdrant.NewQuery(vector...),
		Limit: qdrant.PtrOf(prefetchLimit),
	}
	if q.cfg.VectorField != "" {
		dense.Using = qdrant.PtrOf(q.cfg.VectorField)
	}
	bm25 := &qdrant.PrefetchQuery{
		Query: qdrant.NewQueryNearest(qdrant.NewVectorInputDocument(&qdrant.Document{Text: text, Model: bm25Model})),
		Using: qdrant.PtrOf(q.cfg.TextField),
		Limit: qdrant.PtrOf(prefetchLimit),
	}

	req := &qdrant.QueryPoints{
		CollectionName: q.cfg.Index,
		Prefetch:       []*qdrant.PrefetchQuery{bm25, dense},
		Query:          qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Limit:          qdrant.PtrOf(uint64(params.TopK)),
		WithPayload:    qdrant.NewWithPayload(params.IncludePayload),
	}
	return q.query(ctx, req, params)
}

func (q *Qdrant) query(ctx context.Context, req *qdrant.QueryPoints, params search.Params) (search.Results, error) {
	if q.client == nil {
		return search.Results{}, search.NotConnected(q.name)
	}
	ctx, cancel := search.WithTimeout(ctx, params)
	defer cancel()

	points, err := q.client.Query(ctx, req)
	if err != nil {
		return search.Results{}, search.QueryExecution(err, params.TimeoutMs, "qdrant query")
	}

	out := search.Results{Results: make([]search.Result, 0, len(points))}
	for _, p := range points {
		r := search.Result{ID: pointID(p.GetId()), Score: p.GetScore()}
		if params.IncludePayload && len(p.GetPayload()) > 0 {
			payload, err := json.Marshal(payloadToMap(p.GetPayload()))
			if err != nil {
				return search.Results{}, search.Serialization(err, "encode qdrant payload")
			}
			r.Payload = payload
		}
		out.Results = append(out.Results, r)
	}
	out.Results = search.FilterScore(out.Results, params.MinScore)
	return out, nil
}

func pointID(id *qdrant.PointId) string {
	switch v := id.GetPointIdOptions().(type) {
	case *qdrant.PointId_Num:
		return strconv.FormatUint(v.Num, 10)
	case *qdrant.PointId_Uuid:
		return v.Uuid
	}
	return "unknown"
}

func payloadToMap(fields map[string]*qdrant.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = valueToInterface(v)
	}
	return out
}

func valueToInterface(v *qdrant.Value) interface{} {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_ListValue:
		values := k.ListValue.GetValues()
		list := make([]interface{}, len(values))
		for i, item := range values {
			list[i] = valueToInterface(item)
		}
		return list
	case *qdrant.Value_StructValue:
		return payloadToMap(k.StructValue.GetFields())
	}
	return nil
}
