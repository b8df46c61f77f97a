package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	coreerrors "github.com/beam-me/core/internal/errors"
	"github.com/beam-me/core/internal/logging"
	"github.com/beam-me/core/internal/observability"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o"
	defaultTimeout = 120 * time.Second
)

// OpenAIClient speaks the OpenAI-compatible chat completions API.
type OpenAIClient struct {
	model           string
	apiKey          string
	baseURL         string
	maxPromptTokens int
	headers         map[string]string
	httpClient      *http.Client
	metrics         *observability.MetricsCollector
	logger          logging.Logger
}

// OpenAIOption customizes an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithHTTPClient replaces the transport, mainly for tests.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(c *OpenAIClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithMetrics records each request on collector.
func WithMetrics(collector *observability.MetricsCollector) OpenAIOption {
	return func(c *OpenAIClient) { c.metrics = collector }
}

// NewOpenAIClient builds a client from cfg.
func NewOpenAIClient(cfg Config, opts ...OpenAIOption) *OpenAIClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &OpenAIClient{
		model:           model,
		apiKey:          cfg.APIKey,
		baseURL:         baseURL,
		maxPromptTokens: cfg.MaxPromptTokens,
		headers:         cfg.Headers,
		httpClient:      &http.Client{Timeout: timeout},
		logger:          logging.NewComponentLogger("llm-openai"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanLLMGenerate,
		attribute.String(observability.AttrModel, c.model),
		attribute.String("llm.tag", req.Tag))
	defer span.End()

	started := time.Now()
	resp, err := c.complete(ctx, req)
	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	c.metrics.RecordLLMRequest(ctx, c.model, req.Tag, status, time.Since(started), resp.Usage.TotalTokens)
	return resp, err
}

func (c *OpenAIClient) complete(ctx context.Context, req Request) (Response, error) {
	user := req.User
	if c.maxPromptTokens > 0 {
		user = TruncateToTokens(user, c.maxPromptTokens)
	}
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})

	payload := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		payload.ResponseFormat = map[string]string{"type": "json_object"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	c.logger.Debug("[%s] POST %s/chat/completions model=%s json=%t", req.Tag, c.baseURL, c.model, req.JSONMode)
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Response{}, err
		}
		return Response{}, coreerrors.NewTransientError(err, "inference request failed")
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		c.logger.Debug("[%s] error response %d: %s", req.Tag, httpResp.StatusCode, string(respBody))
		return Response{}, coreerrors.FromHTTPStatus(httpResp.StatusCode, string(respBody))
	}

	var decoded chatResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		return Response{}, coreerrors.NewPermanentError(errors.New(decoded.Error.Message), "inference provider error: "+decoded.Error.Type)
	}
	if len(decoded.Choices) == 0 {
		return Response{}, errors.New("inference response has no choices")
	}
	model := decoded.Model
	if model == "" {
		model = c.model
	}
	return Response{
		Content:      decoded.Choices[0].Message.Content,
		Model:        model,
		FinishReason: decoded.Choices[0].FinishReason,
		Usage:        decoded.Usage,
	}, nil
}

var _ Client = (*OpenAIClient)(nil)
