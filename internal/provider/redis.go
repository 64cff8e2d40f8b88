package provider

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/go-redis/redis/v8"

	"qstorm/internal/config"
	"qstorm/internal/search"
)

const redisScoreField = "__score"

// Redis runs KNN queries through RediSearch FT.SEARCH. It has no fusion, so
// hybrid queries are unsupported.
type Redis struct {
	search.NoHybrid

	name   string
	cfg    config.Provider
	client *redis.Client
}

func NewRedis(cfg config.Provider) *Redis {
	return &Redis{name: cfg.DisplayName(), cfg: cfg}
}

func (r *Redis) Name() string { return r.name }

func (r *Redis) Capabilities() search.Capabilities {
	return search.Capabilities{VectorSearch: true}
}

func redisOptions(cfg config.Provider) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, search.Config("invalid redis url: %v", err)
	}
	if c := cfg.Credentials; c != nil {
		switch c.Type {
		case config.CredentialsBasic:
			opts.Username = c.Username
			opts.Password = c.Password
		case config.CredentialsAPIKey:
			opts.Password = c.Key
		case config.CredentialsBearer:
			opts.Password = c.Token
		}
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	return opts, nil
}

func (r *Redis) Connect(ctx context.Context) error {
	if err := r.Disconnect(ctx); err != nil {
		return err
	}
	opts, err := redisOptions(r.cfg)
	if err != nil {
		return err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return search.Connection(err, "redis ping %s", opts.Addr)
	}
	if err := client.Do(ctx, "FT.INFO", r.cfg.Index).Err(); err != nil {
		_ = client.Close()
		return search.Config("search index %q not available: %v", r.cfg.Index, err)
	}
	r.client = client
	return nil
}

func (r *Redis) Disconnect(context.Context) error {
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	if err != nil {
		return search.Connection(err, "redis close")
	}
	return nil
}

func (r *Redis) HealthCheck(ctx context.Context) (bool, error) {
	if r.client == nil {
		return false, search.NotConnected(r.name)
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return false, search.Connection(err, "redis ping")
	}
	return true, nil
}

func (r *Redis) knnArgs(vector []float32, params search.Params) []interface{} {
	field := fieldOr(r.cfg.VectorField, defaultEmbeddingColumn)
	args := []interface{}{
		"FT.SEARCH", r.cfg.Index,
		fmt.Sprintf("*=>[KNN %d @%s $vec AS %s]", params.TopK, field, redisScoreField),
		"PARAMS", 2, "vec", vectorBytes(vector),
		"SORTBY", redisScoreField,
	}
	if !params.IncludePayload {
		args = append(args, "RETURN", 1, redisScoreField)
	}
	return append(args, "LIMIT", 0, params.TopK, "DIALECT", 2)
}

func (r *Redis) VectorSearch(ctx context.Context, vector []float32, params search.Params) (search.Results, error) {
	if r.client == nil {
		return search.Results{}, search.NotConnected(r.name)
	}
	ctx, cancel := search.WithTimeout(ctx, params)
	defer cancel()

	raw, err := r.client.Do(ctx, r.knnArgs(vector, params)...).Result()
	if err != nil {
		return search.Results{}, search.QueryExecution(err, params.TimeoutMs, "redis FT.SEARCH")
	}
	out, err := parseFTSearch(raw, fieldOr(r.cfg.VectorField, defaultEmbeddingColumn), params.IncludePayload)
	if err != nil {
		return search.Results{}, err
	}
	out.Results = search.FilterScore(out.Results, params.MinScore)
	return out, nil
}

// vectorBytes encodes a FLOAT32 vector blob as RediSearch expects it.
func vectorBytes(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// parseFTSearch reads the RESP2 reply [total, key, [field, value, ...], ...].
// The KNN score is a cosine distance and is reported as 1 - distance.
func parseFTSearch(raw interface{}, vectorField string, includePayload bool) (search.Results, error) {
	reply, ok := raw.([]interface{})
	if !ok || len(reply) == 0 {
		return search.Results{}, search.InvalidResponse(nil, "unexpected FT.SEARCH reply %T", raw)
	}
	total, ok := reply[0].(int64)
	if !ok {
		return search.Results{}, search.InvalidResponse(nil, "FT.SEARCH total is %T", reply[0])
	}
	hits := uint64(total)
	out := search.Results{TotalHits: &hits}

	for i := 1; i+1 < len(reply); i += 2 {
		key, _ := reply[i].(string)
		fields, _ := reply[i+1].([]interface{})

		res := search.Result{ID: key}
		payload := make(map[string]string)
		for j := 0; j+1 < len(fields); j += 2 {
			name, _ := fields[j].(string)
			value, _ := fields[j+1].(string)
			if name == redisScoreField {
				dist, err := strconv.ParseFloat(value, 32)
				if err != nil {
					return search.Results{}, search.InvalidResponse(err, "parse score of %s", key)
				}
				res.Score = float32(1 - dist)
				continue
			}
			if name != vectorField {
				payload[name] = value
			}
		}
		if includePayload && len(payload) > 0 {
			b, err := json.Marshal(payload)
			if err != nil {
				return search.Results{}, search.Serialization(err, "encode redis payload")
			}
			res.Payload = b
		}
		out.Results = append(out.Results, res)
	}
	return out, nil
}
