package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/repassist-platform/internal/llm"
	"github.com/wolfman30/repassist-platform/pkg/logging"
)

const semanticKeyPrefix = "assist:index:"

// Document is one ingested snippet of previously-retrieved content.
type Document struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type indexedDocument struct {
	Document
	Embedding []float32 `json:"embedding"`
}

// SemanticAdapter ranks previously-ingested documents against the query by
// cosine similarity of their embeddings. Documents live in a redis list so
// ingestion survives restarts; only searching what was explicitly ingested —
// there is no crawler behind this.
type SemanticAdapter struct {
	client   *redis.Client
	embedder llm.Embedder
	index    string
	logger   *logging.Logger
}

func NewSemanticAdapter(client *redis.Client, embedder llm.Embedder, index string, logger *logging.Logger) *SemanticAdapter {
	if client == nil {
		panic("source: redis client cannot be nil")
	}
	if embedder == nil {
		panic("source: embedder cannot be nil")
	}
	if index == "" {
		index = "assist_knowledge"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SemanticAdapter{
		client:   client,
		embedder: embedder,
		index:    index,
		logger:   logger,
	}
}

func (a *SemanticAdapter) Name() string { return "index" }

func (a *SemanticAdapter) key() string { return semanticKeyPrefix + a.index }

// Ingest embeds and stores the documents.
func (a *SemanticAdapter) Ingest(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := a.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("source: embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return errors.New("source: embedding response size mismatch")
	}

	entries := make([]any, 0, len(docs))
	for i, d := range docs {
		raw, err := json.Marshal(indexedDocument{Document: d, Embedding: vectors[i]})
		if err != nil {
			return fmt.Errorf("source: marshal document: %w", err)
		}
		entries = append(entries, raw)
	}
	if err := a.client.RPush(ctx, a.key(), entries...).Err(); err != nil {
		return fmt.Errorf("source: store documents: %w", err)
	}
	return nil
}

func (a *SemanticAdapter) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if k <= 0 {
		k = 5
	}

	vectors, err := a.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("source: embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	queryVec := vectors[0]

	raw, err := a.client.LRange(ctx, a.key(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("source: load index: %w", err)
	}

	type scored struct {
		doc   indexedDocument
		score float64
	}
	candidates := make([]scored, 0, len(raw))
	for _, entry := range raw {
		var doc indexedDocument
		if err := json.Unmarshal([]byte(entry), &doc); err != nil {
			a.logger.Warn("skipping corrupt index entry", "error", err)
			continue
		}
		candidates = append(candidates, scored{doc: doc, score: cosineSimilarity(queryVec, doc.Embedding)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, Result{
			Source:    a.Name(),
			Title:     c.doc.Title,
			URL:       c.doc.URL,
			Snippet:   c.doc.Content,
			Relevance: c.score,
		})
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
