package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-me/core/internal/abn"
	"github.com/beam-me/core/internal/abn/gateway"
	"github.com/beam-me/core/internal/abn/policy"
	"github.com/beam-me/core/internal/abn/store"
	"github.com/beam-me/core/internal/auth/token"
	"github.com/beam-me/core/internal/cores"
	"github.com/beam-me/core/internal/domain/mission"
	coreerrors "github.com/beam-me/core/internal/errors"
	"github.com/beam-me/core/internal/orchestrator"
)

const (
	origin = "engineering-propulsion-v1"
	target = "engineering-flightcontrol-v1"
)

type peers map[string]abn.Handler

func (p peers) Handler(coreID string) (abn.Handler, bool) {
	h, ok := p[coreID]
	return h, ok
}

type catalog []cores.Descriptor

func (c catalog) Describe() []cores.Descriptor { return c }

// scriptedRunner answers runs with a fixed state and records requests.
type scriptedRunner struct {
	mu       sync.Mutex
	state    mission.AgentState
	requests []orchestrator.Request
}

func (r *scriptedRunner) Run(_ context.Context, req orchestrator.Request) mission.AgentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return mission.AgentMessage{
		RunID:     req.RunID,
		FromAgent: orchestrator.AgentName,
		State:     r.state,
		Payload:   map[string]any{"objective": req.Objective},
	}
}

type server struct {
	engine    *gin.Engine
	authority *token.Authority
	runner    *scriptedRunner
	runs      *RunRegistry
}

func newServer(t *testing.T, rate RateLimitConfig) *server {
	t.Helper()
	authority, err := token.NewAuthority("http-secret", "beam")
	require.NoError(t, err)
	gw, err := gateway.New(gateway.Config{
		Tokens: authority,
		Policy: policy.New(50, time.Hour),
		Store:  store.NewMemoryStore(),
	})
	require.NoError(t, err)
	gw.SetHandlers(peers{target: abn.HandlerFunc(func(_ context.Context, env abn.Envelope) (map[string]any, error) {
		return map[string]any{"assessment": "SAFE", "seen": env.Payload["motor"]}, nil
	})})

	runner := &scriptedRunner{state: mission.StateCompleted}
	runs := NewRunRegistry(8)
	engine := NewRouter(RouterDeps{
		Gateway:      gw,
		Tokens:       authority,
		Policy:       policy.New(50, time.Hour),
		Catalog:      catalog{{ID: target, Negotiable: true}},
		Orchestrator: runner,
		Runs:         runs,
		Metrics:      http.NotFoundHandler(),
	}, RouterConfig{Mode: gin.TestMode, RateLimit: rate, TaskTokenTTL: time.Hour})
	return &server{engine: engine, authority: authority, runner: runner, runs: runs}
}

func (s *server) do(t *testing.T, method, path, auth string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func (s *server) open(t *testing.T, budget int) (string, string) {
	t.Helper()
	taskToken, err := s.authority.MintTaskToken("task-1", []string{origin}, true, time.Hour)
	require.NoError(t, err)
	rec, body := s.do(t, http.MethodPost, "/abn/open", "Bearer "+taskToken, map[string]any{
		"origin_core": origin, "target_core": target, "proposed_budget": budget,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return body["channel_id"].(string), body["abn_token"].(string)
}

func proposal() map[string]any {
	return map[string]any{"msg_type": "PROPOSAL", "origin_core": origin, "payload": map[string]any{"motor": "MN3110"}}
}

func TestHealthAndAgents(t *testing.T) {
	s := newServer(t, RateLimitConfig{})

	rec, body := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	rec, _ = s.do(t, http.MethodGet, "/agents", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var agents []cores.Descriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	assert.Equal(t, []cores.Descriptor{{ID: target, Negotiable: true}}, agents)
}

func TestMintTaskToken(t *testing.T) {
	s := newServer(t, RateLimitConfig{})

	rec, body := s.do(t, http.MethodPost, "/task", "", map[string]any{"task_id": "t-42", "cores": []string{"X"}, "allow_direct": true})

	require.Equal(t, http.StatusOK, rec.Code)
	claims, err := s.authority.VerifyTask(body["task_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "task:t-42", claims.Subject)
	assert.Equal(t, []string{"X"}, claims.Cores)
	assert.True(t, claims.AllowDirect)
}

func TestAuthorizeABN(t *testing.T) {
	s := newServer(t, RateLimitConfig{})

	rec, body := s.do(t, http.MethodPost, "/pdp/authorize_abn", "", map[string]any{"origin_core": origin, "target_core": target, "proposed_budget": 50})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["allow"])
	assert.Equal(t, float64(50), body["budget"])
	assert.NotEmpty(t, body["ttl"])
	assert.Len(t, body["allowed_msg_types"], 5)

	rec, body = s.do(t, http.MethodPost, "/pdp/authorize_abn", "", map[string]any{"origin_core": origin, "target_core": target, "proposed_budget": 51})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["allow"])
	assert.Equal(t, float64(0), body["budget"])
	assert.Equal(t, "", body["ttl"])
	assert.Empty(t, body["allowed_msg_types"])
}

func TestOpenChannelErrors(t *testing.T) {
	s := newServer(t, RateLimitConfig{})
	req := map[string]any{"origin_core": origin, "target_core": target, "proposed_budget": 5}

	rec, _ := s.do(t, http.MethodPost, "/abn/open", "", req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := s.do(t, http.MethodPost, "/abn/open", "not-a-jwt", req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "invalid_token", body["kind"])

	taskToken, err := s.authority.MintTaskToken("task-1", []string{origin}, true, time.Hour)
	require.NoError(t, err)
	req["proposed_budget"] = 51
	rec, body = s.do(t, http.MethodPost, "/abn/open", taskToken, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "authorization_denied", body["kind"])
}

func TestSendMessageRoundTripAndTranscript(t *testing.T) {
	s := newServer(t, RateLimitConfig{})
	channelID, abnToken := s.open(t, 5)

	rec, body := s.do(t, http.MethodPost, "/abn/channel/"+channelID+"/messages", abnToken, proposal())

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, gateway.StatusReplied, body["status"])
	assert.Equal(t, map[string]any{"assessment": "SAFE", "seen": "MN3110"}, body["reply"])

	rec, body = s.do(t, http.MethodGet, "/abn/channel/"+channelID+"/transcript", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := body["entries"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, "PROPOSAL", entries[0].(map[string]any)["msg_type"])
	assert.Equal(t, "RESPONSE", entries[1].(map[string]any)["msg_type"])
}

func TestSendMessageErrorStatuses(t *testing.T) {
	s := newServer(t, RateLimitConfig{})
	channelID, abnToken := s.open(t, 1)
	otherID, otherToken := s.open(t, 5)

	rec, _ := s.do(t, http.MethodPost, "/abn/channel/"+channelID+"/messages", "", proposal())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A token for one channel does not open another.
	rec, _ = s.do(t, http.MethodPost, "/abn/channel/"+channelID+"/messages", otherToken, proposal())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/abn/channel/"+channelID+"/messages", abnToken, proposal())
	require.Equal(t, http.StatusOK, rec.Code)
	rec, body := s.do(t, http.MethodPost, "/abn/channel/"+channelID+"/messages", abnToken, proposal())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "budget_exhausted", body["kind"])

	rec, body = s.do(t, http.MethodDelete, "/channels/"+otherID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "revoked", "channel_id": otherID}, body)
	rec, _ = s.do(t, http.MethodPost, "/abn/channel/"+otherID+"/messages", otherToken, proposal())
	assert.Equal(t, http.StatusGone, rec.Code)

	rec, _ = s.do(t, http.MethodDelete, "/channels/ch-missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunStartContinueAndGet(t *testing.T) {
	s := newServer(t, RateLimitConfig{})
	s.runner.state = mission.StateAwaitingUser

	rec, body := s.do(t, http.MethodPost, "/run/start", "", map[string]any{"problem_description": "Size the wing spar"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AWAITING_USER", body["state"])
	runID := body["run_id"].(string)
	require.NotEmpty(t, runID)

	rec, body = s.do(t, http.MethodGet, "/run/"+runID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AWAITING_USER", body["state"])

	s.runner.state = mission.StateCompleted
	rec, body = s.do(t, http.MethodPost, "/run/continue", "", map[string]any{"run_id": runID, "inputs": map[string]any{"weight_lbs": 150}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "COMPLETED", body["state"])

	last := s.runner.requests[len(s.runner.requests)-1]
	assert.Equal(t, runID, last.RunID)
	assert.Equal(t, "Size the wing spar", last.Objective)
	assert.Equal(t, map[string]any{"weight_lbs": float64(150)}, last.Inputs)
}

func TestRunValidation(t *testing.T) {
	s := newServer(t, RateLimitConfig{})

	rec, _ := s.do(t, http.MethodPost, "/run/start", "", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/run/continue", "", map[string]any{"inputs": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/run/continue", "", map[string]any{"run_id": "run_unknown"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/run/run_unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, s.runner.requests)
}

func TestRateLimit(t *testing.T) {
	s := newServer(t, RateLimitConfig{RequestsPerMinute: 1, Burst: 1})

	rec, _ := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestClientBucketsAreIndependent(t *testing.T) {
	b := newClientBuckets(RateLimitConfig{RequestsPerMinute: 1, Burst: 1})
	assert.True(t, b.take("10.0.0.1"))
	assert.False(t, b.take("10.0.0.1"))
	assert.True(t, b.take("10.0.0.2"))
}

func TestRunRegistryEvictsOldest(t *testing.T) {
	runs := NewRunRegistry(2)
	for _, id := range []string{"run_a", "run_b", "run_c"} {
		runs.Put("o", mission.AgentMessage{RunID: id})
	}
	_, ok := runs.Get("run_a")
	assert.False(t, ok)
	assert.Equal(t, 2, runs.Len())
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		coreerrors.ErrSequenceRegression:    http.StatusConflict,
		coreerrors.ErrChannelExpired:        http.StatusGone,
		coreerrors.ErrPeerFailure:           http.StatusBadGateway,
		coreerrors.ErrMessageTypeNotAllowed: http.StatusForbidden,
		assert.AnError:                      http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(fmt.Errorf("wrapped: %w", err)), err.Error())
	}
}
