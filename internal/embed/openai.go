package embed

import (
	"context"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"qstorm/internal/config"
	"qstorm/internal/search"
)

const (
	DefaultOpenAIDimension = 1536
	openAIBatchSize        = 1024
)

// OpenAI calls the embeddings endpoint of an OpenAI-compatible API.
type OpenAI struct {
	client *openai.Client
	model  string
	dim    int
}

func NewOpenAI(cfg config.Embedding) (*OpenAI, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, search.Config("OpenAI API key required: set embedding.api_key or OPENAI_API_KEY")
	}
	dim := cfg.Dimensions
	if dim <= 0 {
		dim = DefaultOpenAIDimension
	}

	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  strings.TrimPrefix(cfg.Model, openAIPrefix),
		dim:    dim,
	}, nil
}

func (o *OpenAI) Name() string { return openAIPrefix + o.model }

func (o *OpenAI) Dimension() int { return o.dim }

func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += openAIBatchSize {
		end := start + openAIBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := o.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (o *OpenAI) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: o.dim,
	})
	if err != nil {
		return nil, search.Connection(err, "openai embeddings")
	}
	if len(resp.Data) != len(texts) {
		return nil, search.InvalidResponse(nil, "openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, search.InvalidResponse(nil, "openai embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
