package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beam-me/core/internal/logging"
)

// Metadata keys stored alongside each indexed objective.
const (
	metaRunID    = "run_id"
	metaFilePath = "file_path"
	metaCodeURL  = "code_url"
	metaIndexed  = "indexed_at"
)

// Match is a previously solved objective similar to a query.
type Match struct {
	ArtifactID         string            `json:"artifact_id"`
	ProblemDescription string            `json:"problem_description"`
	FilePath           string            `json:"file_path"`
	CodeURL            string            `json:"code_url,omitempty"`
	Similarity         float64           `json:"similarity_score"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	RetrievedAt        time.Time         `json:"retrieved_at"`
}

// IndexRequest records a solved run.
type IndexRequest struct {
	RunID     string
	Objective string
	FilePath  string
	CodeURL   string
	Metadata  map[string]string
}

// RepositoryIndex looks up and records solved objectives. Only the objective
// text is embedded, so matches are found by problem, not by implementation.
type RepositoryIndex struct {
	store  VectorStore
	now    func() time.Time
	logger logging.Logger
}

// NewRepositoryIndex wraps store.
func NewRepositoryIndex(store VectorStore) *RepositoryIndex {
	return &RepositoryIndex{
		store:  store,
		now:    time.Now,
		logger: logging.NewComponentLogger("RepositoryIndex"),
	}
}

// Lookup returns up to limit matches, most similar first.
func (r *RepositoryIndex) Lookup(ctx context.Context, query string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 3
	}
	results, err := r.store.Nearest(ctx, query, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	out := make([]Match, 0, len(results))
	for _, res := range results {
		meta := res.Document.Metadata
		out = append(out, Match{
			ArtifactID:         meta[metaRunID],
			ProblemDescription: res.Document.Content,
			FilePath:           meta[metaFilePath],
			CodeURL:            meta[metaCodeURL],
			Similarity:         float64(res.Similarity),
			Metadata:           meta,
			RetrievedAt:        r.now(),
		})
	}
	return out, nil
}

// Index stores a solved run. Re-indexing a run id replaces the entry.
func (r *RepositoryIndex) Index(ctx context.Context, req IndexRequest) error {
	if req.RunID == "" || req.Objective == "" {
		return errors.New("index: run id and objective are required")
	}
	meta := map[string]string{}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta[metaRunID] = req.RunID
	meta[metaFilePath] = req.FilePath
	meta[metaCodeURL] = req.CodeURL
	meta[metaIndexed] = r.now().UTC().Format(time.RFC3339)

	if err := r.store.Upsert(ctx, Document{ID: req.RunID, Content: req.Objective, Metadata: meta}); err != nil {
		return fmt.Errorf("index %s: %w", req.RunID, err)
	}
	r.logger.Info("indexed %s (%s)", req.RunID, req.FilePath)
	return nil
}
