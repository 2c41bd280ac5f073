// Package dedupe implements the optional embedding-based near-duplicate
// memo check (internal/config's DedupConfig, off by default): before a
// new memo is saved, its content is embedded and compared against the
// embeddings of other memos on the same book, surfacing a similarity
// warning rather than blocking the write.
package dedupe

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Embedder generates a vector embedding for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// embeddingsService is the minimal openai-go surface OpenAIEmbedder
// depends on, kept as an interface so tests substitute a fake.
type embeddingsService interface {
	New(ctx context.Context, params openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// OpenAIEmbedder embeds memo content via OpenAI's embeddings API.
type OpenAIEmbedder struct {
	embeddings embeddingsService
	model      openai.EmbeddingModel
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder against the given model
// (internal/config's DedupConfig.Model, default "text-embedding-3-small").
func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIEmbedder{
		embeddings: client.Embeddings,
		model:      openai.EmbeddingModel(model),
	}
}

// Embed generates a single embedding for text.
func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.F[openai.EmbeddingNewParamsInputUnion](
			openai.EmbeddingNewParamsInputArrayOfStrings([]string{text}),
		),
		Model: openai.F(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding generation failed: no data returned")
	}

	embedding := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		embedding[i] = float32(v)
	}
	return embedding, nil
}
