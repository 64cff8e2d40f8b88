package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qstorm/internal/config"
	"qstorm/internal/queries"
	"qstorm/internal/search"
)

func TestNewSelectsEmbedder(t *testing.T) {
	e, err := New(config.Embedding{Model: "hash"})
	require.NoError(t, err)
	assert.Equal(t, DefaultHashDimension, e.Dimension())

	e, err = New(config.Embedding{Model: "hash/64"})
	require.NoError(t, err)
	assert.Equal(t, 64, e.Dimension())

	e, err = New(config.Embedding{Model: "openai/text-embedding-3-small", APIKey: "sk-test", Dimensions: 256})
	require.NoError(t, err)
	assert.Equal(t, "openai/text-embedding-3-small", e.Name())
	assert.Equal(t, 256, e.Dimension())
}

func TestNewRejectsUnknownModels(t *testing.T) {
	for _, model := range []string{"BAAI/bge-small-en-v1.5", "hash/zero", "hash/-3"} {
		_, err := New(config.Embedding{Model: model})
		assert.True(t, search.IsKind(err, search.KindConfig), model)
	}
}

func TestOpenAIRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAI(config.Embedding{Model: "openai/text-embedding-3-small"})
	assert.True(t, search.IsKind(err, search.KindConfig))
}

func TestHashIsDeterministicAndNormalized(t *testing.T) {
	h := NewHash(32)
	vs, err := h.Embed(context.Background(), []string{"Vector search", "vector SEARCH!", "other words"})
	require.NoError(t, err)
	require.Len(t, vs, 3)

	assert.Equal(t, vs[0], vs[1])
	assert.NotEqual(t, vs[0], vs[2])

	var norm float64
	for _, x := range vs[0] {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestHashEmptyText(t *testing.T) {
	vs, err := NewHash(8).Embed(context.Background(), []string{""})
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), vs[0])
}

func TestEmbedQueriesPreservesOrderAndGroundTruth(t *testing.T) {
	qs := []queries.Query{
		{Text: "first", ExpectedIDs: []string{"a"}},
		{Text: "second"},
	}
	h := NewHash(16)
	out, err := EmbedQueries(context.Background(), h, qs)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "first", out[0].Text)
	assert.Equal(t, []string{"a"}, out[0].ExpectedIDs)
	assert.True(t, out[0].HasGroundTruth())
	assert.False(t, out[1].HasGroundTruth())
	assert.Equal(t, h.vector("second"), out[1].Vector)

	single, err := EmbedText(context.Background(), h, "first")
	require.NoError(t, err)
	assert.Equal(t, out[0].Vector, single.Vector)
}
