// Package rag is the similarity index over previously solved objectives.
package rag

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	chromem "github.com/philippgille/chromem-go"
)

const (
	defaultCollection = "solutions"
	persistFile       = "chromem.gob"
)

// StoreConfig selects where the solution vectors live.
type StoreConfig struct {
	PersistPath string // directory for the gob file; empty keeps the index in memory
	Collection  string
}

// Document is one indexed entry.
type Document struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]string
}

// SearchResult is a document with its cosine similarity to the query.
type SearchResult struct {
	Document   Document
	Similarity float32
}

// VectorStore holds embedded documents keyed by id.
type VectorStore interface {
	// Upsert replaces any documents sharing an id with docs.
	Upsert(ctx context.Context, docs ...Document) error
	// Nearest returns at most k documents scoring at least floor.
	Nearest(ctx context.Context, text string, k int, floor float32) ([]SearchResult, error)
	Count() int
}

type collectionStore struct {
	col *chromem.Collection
}

// NewVectorStore opens the configured collection, creating it if needed.
func NewVectorStore(config StoreConfig, embedder Embedder) (VectorStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("vector store: embedder is required")
	}
	name := config.Collection
	if name == "" {
		name = defaultCollection
	}

	db := chromem.NewDB()
	if dir := config.PersistPath; dir != "" {
		var err error
		if db, err = chromem.NewPersistentDB(filepath.Join(dir, persistFile), false); err != nil {
			return nil, fmt.Errorf("vector store: open %s: %w", dir, err)
		}
	}

	col, err := db.GetOrCreateCollection(name, nil, chromem.EmbeddingFunc(embedder.Embed))
	if err != nil {
		return nil, fmt.Errorf("vector store: collection %q: %w", name, err)
	}
	return &collectionStore{col: col}, nil
}

func (s *collectionStore) Upsert(ctx context.Context, docs ...Document) error {
	if len(docs) == 0 {
		return nil
	}
	var stale []string
	batch := make([]chromem.Document, len(docs))
	for i, d := range docs {
		if _, err := s.col.GetByID(ctx, d.ID); err == nil {
			stale = append(stale, d.ID)
		}
		batch[i] = chromem.Document{ID: d.ID, Content: d.Content, Embedding: d.Embedding, Metadata: d.Metadata}
	}
	if len(stale) > 0 {
		if err := s.col.Delete(ctx, nil, nil, stale...); err != nil {
			return fmt.Errorf("vector store: drop %v: %w", stale, err)
		}
	}
	if err := s.col.AddDocuments(ctx, batch, runtime.NumCPU()); err != nil {
		return fmt.Errorf("vector store: add %d documents: %w", len(batch), err)
	}
	return nil
}

func (s *collectionStore) Nearest(ctx context.Context, text string, k int, floor float32) ([]SearchResult, error) {
	// chromem rejects nResults above the collection size.
	k = min(max(k, 1), s.col.Count())
	if k == 0 {
		return nil, nil
	}
	hits, err := s.col.Query(ctx, text, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector store: query: %w", err)
	}
	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Similarity >= floor {
			out = append(out, SearchResult{
				Document:   Document{ID: h.ID, Content: h.Content, Embedding: h.Embedding, Metadata: h.Metadata},
				Similarity: h.Similarity,
			})
		}
	}
	return out, nil
}

func (s *collectionStore) Count() int { return s.col.Count() }
