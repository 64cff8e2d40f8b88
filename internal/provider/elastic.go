package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"qstorm/internal/config"
	"qstorm/internal/search"
)

const (
	defaultVectorField = "vector"
	defaultTextField   = "text"
)

// Elastic runs kNN queries against an Elasticsearch index. Hybrid queries
// combine kNN with a match query fused by RRF.
type Elastic struct {
	name   string
	cfg    config.Provider
	client *elasticsearch.Client
}

func NewElastic(cfg config.Provider) *Elastic {
	return &Elastic{name: cfg.DisplayName(), cfg: cfg}
}

func (e *Elastic) Name() string { return e.name }

func (e *Elastic) Capabilities() search.Capabilities {
	return search.Capabilities{VectorSearch: true, NativeHybrid: true}
}

func (e *Elastic) Connect(ctx context.Context) error {
	esCfg := elasticsearch.Config{Addresses: []string{e.cfg.URL}}
	if c := e.cfg.Credentials; c != nil {
		switch c.Type {
		case config.CredentialsBasic:
			esCfg.Username = c.Username
			esCfg.Password = c.Password
		case config.CredentialsAPIKey:
			esCfg.APIKey = c.Key
		case config.CredentialsBearer:
			esCfg.ServiceToken = c.Token
		}
	}

	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return search.Connection(err, "elasticsearch client %s", e.cfg.URL)
	}

	ok, err := catHealth(ctx, client)
	if err != nil {
		return err
	}
	if !ok {
		return search.Connection(nil, "elasticsearch health check failed")
	}
	e.client = client
	return nil
}

func (e *Elastic) Disconnect(context.Context) error {
	e.client = nil
	return nil
}

func (e *Elastic) HealthCheck(ctx context.Context) (bool, error) {
	if e.client == nil {
		return false, search.NotConnected(e.name)
	}
	return catHealth(ctx, e.client)
}

func catHealth(ctx context.Context, client *elasticsearch.Client) (bool, error) {
	res, err := client.Cat.Health(client.Cat.Health.WithContext(ctx))
	if err != nil {
		return false, search.Connection(err, "elasticsearch cat health")
	}
	defer res.Body.Close()
	if res.StatusCode == 401 || res.StatusCode == 403 {
		return false, search.Authentication("elasticsearch returned %s", res.Status())
	}
	return !res.IsError(), nil
}

func (e *Elastic) VectorSearch(ctx context.Context, vector []float32, params search.Params) (search.Results, error) {
	return e.do(ctx, e.knnBody(vector, params), params)
}

func (e *Elastic) HybridSearch(ctx context.Context, text string, vector []float32, params search.Params) (search.Results, error) {
	body := e.knnBody(vector, params)
	body["query"] = map[string]interface{}{
		"match": map[string]interface{}{fieldOr(e.cfg.TextField, defaultTextField): text},
	}
	body["rank"] = map[string]interface{}{"rrf": map[string]interface{}{}}
	return e.do(ctx, body, params)
}

func (e *Elastic) knnBody(vector []float32, params search.Params) map[string]interface{} {
	return map[string]interface{}{
		"size":    params.TopK,
		"_source": params.IncludePayload,
		"knn": map[string]interface{}{
			"field":          fieldOr(e.cfg.VectorField, defaultVectorField),
			"query_vector":   vector,
			"k":              params.TopK,
			"num_candidates": params.TopK * 10,
		},
	}
}

func (e *Elastic) do(ctx context.Context, body map[string]interface{}, params search.Params) (search.Results, error) {
	if e.client == nil {
		return search.Results{}, search.NotConnected(e.name)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return search.Results{}, search.Serialization(err, "encode search body")
	}

	ctx, cancel := search.WithTimeout(ctx, params)
	defer cancel()

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.cfg.Index),
		e.client.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return search.Results{}, search.QueryExecution(err, params.TimeoutMs, "elasticsearch search")
	}
	defer res.Body.Close()
	return parseElasticResponse(res, params)
}

type elasticResponse struct {
	Took *uint64 `json:"took"`
	Hits *struct {
		Total *struct {
			Value uint64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string          `json:"_id"`
			Score  *float32        `json:"_score"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func parseElasticResponse(res *esapi.Response, params search.Params) (search.Results, error) {
	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return search.Results{}, search.QueryExecution(nil, params.TimeoutMs, "search failed: %s: %s", res.Status(), msg)
	}
	return decodeElasticHits(res.Body, params)
}

func decodeElasticHits(r io.Reader, params search.Params) (search.Results, error) {
	var body elasticResponse
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return search.Results{}, search.InvalidResponse(err, "decode elasticsearch response")
	}
	if body.Hits == nil {
		return search.Results{}, search.InvalidResponse(nil, "missing hits array")
	}

	out := search.Results{TookMs: body.Took}
	if body.Hits.Total != nil {
		total := body.Hits.Total.Value
		out.TotalHits = &total
	}
	for _, hit := range body.Hits.Hits {
		if hit.ID == "" {
			continue
		}
		r := search.Result{ID: hit.ID}
		if hit.Score != nil {
			r.Score = *hit.Score
		}
		if params.IncludePayload && len(hit.Source) > 0 {
			r.Payload = hit.Source
		}
		out.Results = append(out.Results, r)
	}
	out.Results = search.FilterScore(out.Results, params.MinScore)
	return out, nil
}

func fieldOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
