package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	coreerrors "github.com/beam-me/core/internal/errors"
	"github.com/beam-me/core/internal/httpclient"
	"github.com/beam-me/core/internal/logging"
)

// EmbedderConfig holds embedding configuration.
type EmbedderConfig struct {
	Provider  string // openai, hash
	Model     string
	APIKey    string
	BaseURL   string
	CacheSize int
}

// Embedder generates text embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// NewEmbedder builds the configured embedder. The hash provider needs no
// network and is the default.
func NewEmbedder(config EmbedderConfig) (Embedder, error) {
	switch strings.ToLower(config.Provider) {
	case "", "hash":
		return NewHashEmbedder(hashDimensions), nil
	case "openai":
		return newOpenAIEmbedder(config)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", config.Provider)
	}
}

type openaiEmbedder struct {
	config     EmbedderConfig
	httpClient *http.Client
	cache      *lru.Cache[string, []float32]
	retry      coreerrors.RetryConfig
	logger     logging.Logger
}

func newOpenAIEmbedder(config EmbedderConfig) (*openaiEmbedder, error) {
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.CacheSize <= 0 {
		config.CacheSize = 10000
	}
	cache, err := lru.New[string, []float32](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	logger := logging.NewComponentLogger("Embedder")
	return &openaiEmbedder{
		config:     config,
		httpClient: httpclient.New(60*time.Second, logger),
		cache:      cache,
		retry:      coreerrors.DefaultRetryConfig(),
		logger:     logger,
	}, nil
}

func (e *openaiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.ReplaceAll(text, "\n", " ")
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}
	vec, err := coreerrors.RetryWithResult(ctx, e.retry, func(ctx context.Context) ([]float32, error) {
		return e.callAPI(ctx, text)
	}, e.logger)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	e.cache.Add(text, vec)
	return vec, nil
}

// Dimensions is fixed by text-embedding-3-small.
func (e *openaiEmbedder) Dimensions() int { return 1536 }

func (e *openaiEmbedder) callAPI(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]any{"model": e.config.Model, "input": []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := httpclient.ReadBody(resp, 16<<20)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, coreerrors.FromHTTPStatus(resp.StatusCode, string(raw))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, coreerrors.NewPermanentError(err, "decode embeddings response")
	}
	if len(apiResp.Data) == 0 || len(apiResp.Data[0].Embedding) == 0 {
		return nil, coreerrors.NewPermanentError(fmt.Errorf("empty embedding"), "embeddings response had no data")
	}
	return apiResp.Data[0].Embedding, nil
}

const hashDimensions = 256

// HashEmbedder maps text to a normalized bag-of-words vector using feature
// hashing. Identical token sets embed identically.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns an embedder with dims buckets.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = hashDimensions
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		vec[f.Sum32()%uint32(h.dims)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		// chromem needs a non-zero vector to normalize.
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func (h *HashEmbedder) Dimensions() int { return h.dims }
