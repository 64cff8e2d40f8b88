// Package embed turns query text into vectors.
package embed

import (
	"context"
	"strconv"
	"strings"

	"qstorm/internal/config"
	"qstorm/internal/queries"
	"qstorm/internal/search"
)

// Embedder vectorizes a batch of queries, preserving order 1:1.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

const openAIPrefix = "openai/"

// New selects an embedder from the configured model name: "openai/<model>"
// or "hash[/<dim>]".
func New(cfg config.Embedding) (Embedder, error) {
	model := strings.TrimSpace(cfg.Model)
	switch {
	case strings.HasPrefix(model, openAIPrefix):
		return NewOpenAI(cfg)
	case model == "hash" || model == "":
		return NewHash(cfg.Dimensions), nil
	case strings.HasPrefix(model, "hash/"):
		dim, err := strconv.Atoi(strings.TrimPrefix(model, "hash/"))
		if err != nil || dim <= 0 {
			return nil, search.Config("invalid hash embedding dimension in %q", model)
		}
		return NewHash(dim), nil
	default:
		return nil, search.Config("unsupported embedding model %q (use openai/<model> or hash)", model)
	}
}

// EmbedQueries vectorizes qs, carrying expected ids across.
func EmbedQueries(ctx context.Context, e Embedder, qs []queries.Query) ([]queries.EmbeddedQuery, error) {
	if len(qs) == 0 {
		return nil, nil
	}
	vectors, err := e.Embed(ctx, queries.Texts(qs))
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(qs) {
		return nil, search.InvalidResponse(nil, "%s returned %d vectors for %d queries", e.Name(), len(vectors), len(qs))
	}
	out := make([]queries.EmbeddedQuery, len(qs))
	for i, q := range qs {
		out[i] = queries.EmbeddedQuery{Text: q.Text, Vector: vectors[i], ExpectedIDs: q.ExpectedIDs}
	}
	return out, nil
}

// EmbedText vectorizes a single ad-hoc query.
func EmbedText(ctx context.Context, e Embedder, text string) (queries.EmbeddedQuery, error) {
	out, err := EmbedQueries(ctx, e, []queries.Query{{Text: text}})
	if err != nil {
		return queries.EmbeddedQuery{}, err
	}
	return out[0], nil
}
