package artifacts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	coreerrors "github.com/beam-me/core/internal/errors"
	"github.com/beam-me/core/internal/httpclient"
	"github.com/beam-me/core/internal/logging"
)

const (
	defaultGitHubAPI  = "https://api.github.com"
	maxContentsBody   = 8 << 20
	defaultPushBranch = "main"
)

// GitHubConfig selects the repository backing a GitHubStore.
type GitHubConfig struct {
	BaseURL string
	Owner   string
	Repo    string
	Branch  string
	Token   string
	Timeout time.Duration
}

// GitHubStore implements Store over the GitHub contents API.
type GitHubStore struct {
	cfg    GitHubConfig
	http   *http.Client
	retry  coreerrors.RetryConfig
	logger logging.Logger
}

// GitHubOption customizes a GitHubStore.
type GitHubOption func(*GitHubStore)

// WithHTTPClient replaces the default circuit-breaking client.
func WithHTTPClient(c *http.Client) GitHubOption {
	return func(s *GitHubStore) {
		if c != nil {
			s.http = c
		}
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(cfg coreerrors.RetryConfig) GitHubOption {
	return func(s *GitHubStore) { s.retry = cfg }
}

// NewGitHubStore validates cfg and returns a store.
func NewGitHubStore(cfg GitHubConfig, opts ...GitHubOption) (*GitHubStore, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github store: owner and repo are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGitHubAPI
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Branch == "" {
		cfg.Branch = defaultPushBranch
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger := logging.NewComponentLogger("GitHubStore")
	s := &GitHubStore{
		cfg:    cfg,
		http:   httpclient.NewWithCircuitBreaker(cfg.Timeout, logger, "github"),
		retry:  coreerrors.DefaultRetryConfig(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type contentsResponse struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	HTMLURL  string `json:"html_url"`
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type putResponse struct {
	Content contentsResponse `json:"content"`
}

func (s *GitHubStore) contentsURL(path string) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", s.cfg.BaseURL,
		url.PathEscape(s.cfg.Owner), url.PathEscape(s.cfg.Repo), strings.TrimLeft(path, "/"))
}

// Fetch downloads and decodes the file at path on the configured branch.
func (s *GitHubStore) Fetch(ctx context.Context, path string) (string, error) {
	file, err := s.getContents(ctx, path)
	if err != nil {
		return "", err
	}
	if file.Encoding != "" && file.Encoding != "base64" {
		return "", fmt.Errorf("unsupported content encoding %q", file.Encoding)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	return string(raw), nil
}

// Push creates or updates path. The existing blob sha is looked up first so
// updates are accepted by the API.
func (s *GitHubStore) Push(ctx context.Context, path, content, message string) (string, error) {
	body := putRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString([]byte(content)),
		Branch:  s.cfg.Branch,
	}
	existing, err := s.getContents(ctx, path)
	switch {
	case err == nil:
		body.SHA = existing.SHA
	case errors.Is(err, ErrNotFound):
	default:
		return "", fmt.Errorf("lookup %s: %w", path, err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	resp, err := coreerrors.RetryWithResult(ctx, s.retry, func(ctx context.Context) (putResponse, error) {
		var out putResponse
		err := s.do(ctx, http.MethodPut, path, payload, &out)
		return out, err
	}, s.logger)
	if err != nil {
		return "", fmt.Errorf("push %s: %w", path, err)
	}
	s.logger.Info("pushed %s (%d bytes)", path, len(content))
	return resp.Content.HTMLURL, nil
}

func (s *GitHubStore) getContents(ctx context.Context, path string) (contentsResponse, error) {
	return coreerrors.RetryWithResult(ctx, s.retry, func(ctx context.Context) (contentsResponse, error) {
		var out contentsResponse
		err := s.do(ctx, http.MethodGet, path, nil, &out)
		return out, err
	}, s.logger)
}

func (s *GitHubStore) do(ctx context.Context, method, path string, body []byte, out any) error {
	target := s.contentsURL(path)
	if method == http.MethodGet {
		target += "?ref=" + url.QueryEscape(s.cfg.Branch)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return coreerrors.NewPermanentError(err, "build request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := httpclient.ReadBody(resp, maxContentsBody)
	if err != nil {
		return coreerrors.NewPermanentError(err, "read response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if resp.StatusCode == http.StatusNotFound {
			return &coreerrors.PermanentError{Err: fmt.Errorf("%w: %s", ErrNotFound, path), StatusCode: resp.StatusCode}
		}
		return coreerrors.FromHTTPStatus(resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return coreerrors.NewPermanentError(err, "decode response")
	}
	return nil
}

// githubBlobPath extracts the repository path from a blob URL such as
// https://github.com/o/r/blob/main/solutions/x/main.py.
func githubBlobPath(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	// owner/repo/blob/branch/path...
	if len(parts) < 5 || parts[2] != "blob" {
		return "", false
	}
	return strings.Join(parts[4:], "/"), true
}
