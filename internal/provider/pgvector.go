package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"qstorm/internal/config"
	"qstorm/internal/search"
)

const (
	defaultEmbeddingColumn = "embedding"
	rrfK                   = 60
)

// Pgvector queries a Postgres table with the pgvector extension using cosine
// distance. Hybrid search fuses vector and full-text ranks with RRF in SQL.
type Pgvector struct {
	name string
	cfg  config.Provider
	pool *pgxpool.Pool
}

func NewPgvector(cfg config.Provider) *Pgvector {
	return &Pgvector{name: cfg.DisplayName(), cfg: cfg}
}

func (p *Pgvector) Name() string { return p.name }

func (p *Pgvector) Capabilities() search.Capabilities {
	return search.Capabilities{VectorSearch: true, NativeHybrid: p.cfg.TextField != ""}
}

// connString injects basic credentials into the configured URL.
func connString(cfg config.Provider) (string, error) {
	c := cfg.Credentials
	if c == nil {
		return cfg.URL, nil
	}
	if c.Type != config.CredentialsBasic {
		return "", search.Config("pgvector only supports basic credentials (or credentials embedded in the url)")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		return "", search.Config("invalid PostgreSQL url: must start with postgres:// or postgresql://")
	}
	u.User = url.UserPassword(c.Username, c.Password)
	return u.String(), nil
}

func (p *Pgvector) Connect(ctx context.Context) error {
	// reconnecting replaces the pool
	_ = p.Disconnect(ctx)

	dsn, err := connString(p.cfg)
	if err != nil {
		return err
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return search.Config("invalid PostgreSQL url: %v", err)
	}
	if p.cfg.PoolSize > 0 {
		poolCfg.MaxConns = int32(p.cfg.PoolSize)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return search.Connection(err, "postgres pool")
	}

	var exists bool
	err = pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)",
		p.cfg.Index,
	).Scan(&exists)
	if err != nil {
		pool.Close()
		return search.Connection(err, "postgres table lookup")
	}
	if !exists {
		pool.Close()
		return search.Config("table %q not found", p.cfg.Index)
	}
	p.pool = pool
	return nil
}

func (p *Pgvector) Disconnect(context.Context) error {
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return nil
}

func (p *Pgvector) HealthCheck(ctx context.Context) (bool, error) {
	if p.pool == nil {
		return false, search.NotConnected(p.name)
	}
	if err := p.pool.Ping(ctx); err != nil {
		return false, search.Connection(err, "postgres ping")
	}
	return true, nil
}

func (p *Pgvector) vectorSQL(includePayload bool) string {
	table := pgx.Identifier{p.cfg.Index}.Sanitize()
	col := pgx.Identifier{fieldOr(p.cfg.VectorField, defaultEmbeddingColumn)}.Sanitize()
	colName := strings.ReplaceAll(fieldOr(p.cfg.VectorField, defaultEmbeddingColumn), "'", "''")

	if includePayload {
		return fmt.Sprintf(
			"SELECT id::text, 1 - (%[1]s <=> $1::vector) AS score, "+
				"to_jsonb(t) - '%[3]s' - 'id' AS payload "+
				"FROM %[2]s t ORDER BY %[1]s <=> $1::vector LIMIT $2",
			col, table, colName)
	}
	return fmt.Sprintf(
		"SELECT id::text, 1 - (%[1]s <=> $1::vector) AS score, NULL::jsonb AS payload "+
			"FROM %[2]s ORDER BY %[1]s <=> $1::vector LIMIT $2",
		col, table)
}

func (p *Pgvector) hybridSQL() string {
	table := pgx.Identifier{p.cfg.Index}.Sanitize()
	vcol := pgx.Identifier{fieldOr(p.cfg.VectorField, defaultEmbeddingColumn)}.Sanitize()
	tcol := pgx.Identifier{p.cfg.TextField}.Sanitize()

	return fmt.Sprintf(`WITH vector_results AS (
    SELECT id::text AS id, ROW_NUMBER() OVER (ORDER BY %[2]s <=> $1::vector) AS rank
    FROM %[1]s
    ORDER BY %[2]s <=> $1::vector
    LIMIT $3
),
text_results AS (
    SELECT id::text AS id, ROW_NUMBER() OVER (
        ORDER BY ts_rank(to_tsvector('english', %[3]s), plainto_tsquery('english', $2)) DESC
    ) AS rank
    FROM %[1]s
    WHERE to_tsvector('english', %[3]s) @@ plainto_tsquery('english', $2)
    LIMIT $3
)
SELECT COALESCE(v.id, t.id) AS id,
       (COALESCE(1.0 / (%[4]d + v.rank), 0) + COALESCE(1.0 / (%[4]d + t.rank), 0))::float8 AS score,
       NULL::jsonb AS payload
FROM vector_results v
FULL OUTER JOIN text_results t ON v.id = t.id
ORDER BY score DESC
LIMIT $4`, table, vcol, tcol, rrfK)
}

func (p *Pgvector) VectorSearch(ctx context.Context, vector []float32, params search.Params) (search.Results, error) {
	return p.query(ctx, params, p.vectorSQL(params.IncludePayload),
		pgvector.NewVector(vector), params.TopK)
}

func (p *Pgvector) HybridSearch(ctx context.Context, text string, vector []float32, params search.Params) (search.Results, error) {
	if p.cfg.TextField == "" {
		return search.Results{}, search.Unsupported("pgvector hybrid search without provider.text_field")
	}
	return p.query(ctx, params, p.hybridSQL(),
		pgvector.NewVector(vector), text, params.TopK*2, params.TopK)
}

func (p *Pgvector) query(ctx context.Context, params search.Params, sql string, args ...interface{}) (search.Results, error) {
	if p.pool == nil {
		return search.Results{}, search.NotConnected(p.name)
	}
	ctx, cancel := search.WithTimeout(ctx, params)
	defer cancel()

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return search.Results{}, search.QueryExecution(err, params.TimeoutMs, "pgvector query")
	}
	defer rows.Close()

	var out search.Results
	for rows.Next() {
		var (
			id      string
			score   float64
			payload []byte
		)
		if err := rows.Scan(&id, &score, &payload); err != nil {
			return search.Results{}, search.InvalidResponse(err, "scan pgvector row")
		}
		r := search.Result{ID: id, Score: float32(score)}
		if params.IncludePayload && len(payload) > 0 {
			r.Payload = payload
		}
		out.Results = append(out.Results, r)
	}
	if err := rows.Err(); err != nil {
		return search.Results{}, search.QueryExecution(err, params.TimeoutMs, "pgvector rows")
	}
	out.Results = search.FilterScore(out.Results, params.MinScore)
	total := uint64(len(out.Results))
	out.TotalHits = &total
	return out, nil
}
