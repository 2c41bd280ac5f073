package dedupe

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Match is a candidate memo's closest existing neighbor on the same
// book, surfaced to the caller when its similarity clears the threshold.
type Match struct {
	LocalID    string
	Similarity float32
}

type cachedEmbedding struct {
	userBookID string
	vector     []float32
}

// Checker embeds new memo content and compares it against the
// embeddings of previously-checked memos on the same book. It holds
// embeddings in memory only — this is an advisory, UI-facing check, not
// a durable index, so there is no store migration behind it.
type Checker struct {
	embedder  Embedder
	threshold float32

	mu    sync.Mutex
	cache map[string]cachedEmbedding // localID -> embedding
}

// NewChecker constructs a Checker. threshold is the minimum cosine
// similarity (internal/config's DedupConfig.SimilarityThreshold, default
// 0.92) a neighbor must clear to be reported.
func NewChecker(embedder Embedder, threshold float64) *Checker {
	return &Checker{
		embedder:  embedder,
		threshold: float32(threshold),
		cache:     make(map[string]cachedEmbedding),
	}
}

// Check embeds content, compares it against every cached embedding for
// userBookID, and caches the new embedding under localID for future
// comparisons. It returns the closest match clearing the threshold, or
// nil if there is none — never an error on "no duplicate found".
func (c *Checker) Check(ctx context.Context, userBookID, localID, content string) (*Match, error) {
	embedding, err := c.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed memo content: %w", err)
	}

	c.mu.Lock()
	var candidates []Match
	for id, cached := range c.cache {
		if cached.userBookID != userBookID || id == localID {
			continue
		}
		similarity := CosineSimilarity(embedding, cached.vector)
		if similarity >= c.threshold {
			candidates = append(candidates, Match{LocalID: id, Similarity: similarity})
		}
	}
	c.cache[localID] = cachedEmbedding{userBookID: userBookID, vector: embedding}
	c.mu.Unlock()

	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Similarity > candidates[j].Similarity })
	return &candidates[0], nil
}

// Forget evicts a memo's cached embedding, called when the memo is
// deleted so it never surfaces as a false-positive duplicate again.
func (c *Checker) Forget(localID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, localID)
}
