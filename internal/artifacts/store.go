// Package artifacts persists generated solutions in a versioned code host and
// fetches previously published ones for reuse.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when no artifact exists at a path.
var ErrNotFound = errors.New("artifact not found")

// Store reads and writes files in the artifact repository.
type Store interface {
	// Fetch returns the content stored at path.
	Fetch(ctx context.Context, path string) (string, error)
	// Push creates or updates path and returns a browsable URL for it.
	Push(ctx context.Context, path, content, message string) (string, error)
}

// SolutionPath is where the solution of a run is published.
func SolutionPath(runID string) string {
	return fmt.Sprintf("solutions/%s/main.py", runID)
}

// SolutionMessage is the commit message for a run's solution.
func SolutionMessage(runID string) string {
	return "feat: solution for " + runID
}

// MemoryStore keeps artifacts in process memory. URLs use the mem:// scheme.
type MemoryStore struct {
	mu      sync.RWMutex
	files   map[string]string
	history map[string][]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: map[string]string{}, history: map[string][]string{}}
}

func (s *MemoryStore) Fetch(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.files[path]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return content, nil
}

func (s *MemoryStore) Push(ctx context.Context, path, content, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if path == "" {
		return "", errors.New("artifact path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = content
	s.history[path] = append(s.history[path], message)
	return "mem://" + path, nil
}

// Commits returns the commit messages recorded for path, oldest first.
func (s *MemoryStore) Commits(path string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.history[path]...)
}

// PathFromURL maps a URL returned by Push back to a repository path. It
// understands mem:// URLs and GitHub blob URLs.
func PathFromURL(url string) (string, bool) {
	const mem = "mem://"
	if len(url) > len(mem) && url[:len(mem)] == mem {
		return url[len(mem):], true
	}
	return githubBlobPath(url)
}
