package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rbright/parley/internal/config"
)

// Embedder turns texts into vectors with the named model.
type Embedder interface {
	Embed(ctx context.Context, model string, inputs []string) ([][]float32, error)
}

// Chunk is one embedded window of a document.
type Chunk struct {
	Source  string
	Ordinal int
	Text    string
	Vector  []float32
}

// Snippet is a retrieved chunk with its similarity to the query.
type Snippet struct {
	Source string
	Text   string
	Score  float64
}

// Retriever indexes attached documents on demand and returns the passages most
// similar to a query.
type Retriever struct {
	embedder Embedder
	cache    *Cache
	logger   *slog.Logger
}

// NewRetriever builds a retriever. cache may be nil, in which case documents are
// re-embedded on every call.
func NewRetriever(embedder Embedder, cache *Cache, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Retriever{embedder: embedder, cache: cache, logger: logger}
}

// Retrieve returns at most settings.MaxRetrievalTopK snippets across paths whose
// cosine similarity to query is at least settings.SimilarityThreshold, best first.
//
// Documents that cannot be read are skipped with a warning; it is an error only when
// none of paths yields any text.
func (r *Retriever) Retrieve(ctx context.Context, query string, paths []string, settings config.RAGSettings) ([]Snippet, error) {
	var (
		chunks  []Chunk
		readErr error
	)
	for _, path := range paths {
		docChunks, err := r.index(ctx, path, settings)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("skipping document", "path", path, "error", err.Error())
			readErr = errors.Join(readErr, err)
			continue
		}
		chunks = append(chunks, docChunks...)
	}
	if len(chunks) == 0 {
		if readErr != nil {
			return nil, fmt.Errorf("no readable documents: %w", readErr)
		}
		return nil, nil
	}

	vectors, err := r.embedder.Embed(ctx, settings.EmbedModel, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vectors))
	}

	return rank(vectors[0], chunks, settings.MaxRetrievalTopK, settings.SimilarityThreshold), nil
}

func (r *Retriever) index(ctx context.Context, path string, settings config.RAGSettings) ([]Chunk, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	meta := DocumentMeta{
		Path:         path,
		ModTime:      info.ModTime(),
		Size:         info.Size(),
		EmbedModel:   settings.EmbedModel,
		ChunkSize:    settings.ChunkSize,
		ChunkOverlap: settings.ChunkOverlap,
	}
	key := meta.Key()

	if r.cache != nil {
		cached, ok, err := r.cache.Get(ctx, key)
		if err != nil {
			r.logger.Warn("embedding cache read failed", "path", path, "error", err.Error())
		} else if ok {
			return cached, nil
		}
	}

	text, err := LoadText(path)
	if err != nil {
		return nil, err
	}
	windows := Split(text, settings.ChunkSize, settings.ChunkOverlap)
	if len(windows) == 0 {
		return nil, fmt.Errorf("%s contains no text", filepath.Base(path))
	}

	vectors, err := r.embedder.Embed(ctx, settings.EmbedModel, windows)
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", filepath.Base(path), err)
	}
	if len(vectors) != len(windows) {
		return nil, fmt.Errorf("embed %s: expected %d vectors, got %d", filepath.Base(path), len(windows), len(vectors))
	}

	chunks := make([]Chunk, len(windows))
	for i, window := range windows {
		chunks[i] = Chunk{Source: path, Ordinal: i, Text: window, Vector: vectors[i]}
	}

	if r.cache != nil {
		if err := r.cache.Put(ctx, key, meta, chunks); err != nil {
			r.logger.Warn("embedding cache write failed", "path", path, "error", err.Error())
		}
	}
	r.logger.Info("indexed document", "path", path, "chunks", len(chunks))
	return chunks, nil
}

func rank(query []float32, chunks []Chunk, topK int, threshold float64) []Snippet {
	scored := make([]Snippet, 0, len(chunks))
	for _, chunk := range chunks {
		score := cosine(query, chunk.Vector)
		if score < threshold {
			continue
		}
		scored = append(scored, Snippet{Source: chunk.Source, Text: chunk.Text, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Augment prefixes prompt with the retrieved passages. With no snippets the prompt
// is returned unchanged.
func Augment(prompt string, snippets []Snippet) string {
	if len(snippets) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString("Context information is below.\n---------------------\n")
	for _, s := range snippets {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", filepath.Base(s.Source), s.Text)
	}
	b.WriteString("---------------------\n")
	b.WriteString("Given the context information and not prior knowledge, answer the query.\n")
	b.WriteString("Query: ")
	b.WriteString(prompt)
	return b.String()
}
