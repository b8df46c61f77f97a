// Package gateway enforces channel authorization, budget and sequencing for
// every envelope exchanged between discipline cores, and records each one in
// the transcript.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/beam-me/core/internal/abn"
	"github.com/beam-me/core/internal/abn/policy"
	"github.com/beam-me/core/internal/abn/store"
	"github.com/beam-me/core/internal/auth/token"
	coreerrors "github.com/beam-me/core/internal/errors"
	"github.com/beam-me/core/internal/logging"
	"github.com/beam-me/core/internal/observability"
	"github.com/beam-me/core/internal/utils/id"
)

const (
	StatusDelivered = "delivered"
	StatusReplied   = "replied"

	decisionAllow = "allow"
)

// Tokens is the subset of the token authority the gateway relies on.
type Tokens interface {
	VerifyTask(token string) (*token.Claims, error)
	VerifyChannel(token, channelID string) (*token.Claims, error)
	MintChannelToken(channelID, origin, target string, budget int, allowedMsgTypes []string, ttl time.Duration) (string, error)
}

// Authorizer decides channel grants.
type Authorizer interface {
	Authorize(origin, target string, proposedBudget int) policy.Decision
}

// OpenResult is returned for a granted channel.
type OpenResult struct {
	ChannelID       string        `json:"channel_id"`
	ChannelToken    string        `json:"channel_token"`
	Budget          int           `json:"budget"`
	ExpiresAt       time.Time     `json:"expires_at"`
	AllowedMsgTypes []abn.MsgType `json:"allowed_msg_types"`
}

// SendResult reports what happened to an envelope.
type SendResult struct {
	Status   string        `json:"status"`
	Envelope abn.Envelope  `json:"envelope"`
	Reply    *abn.Envelope `json:"reply,omitempty"`
}

// Config wires a Gateway.
type Config struct {
	Tokens   Tokens
	Policy   Authorizer
	Store    store.Store
	Handlers abn.HandlerResolver
	Metrics  *Metrics
	Logger   logging.Logger
	Now      func() time.Time
}

// Gateway is safe for concurrent use; per-channel atomicity comes from the store.
type Gateway struct {
	tokens   Tokens
	policy   Authorizer
	store    store.Store
	handlers abn.HandlerResolver
	metrics  *Metrics
	logger   logging.Logger
	now      func() time.Time
}

// New validates cfg and returns a Gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("gateway requires a token authority")
	}
	if cfg.Policy == nil {
		return nil, errors.New("gateway requires a policy")
	}
	if cfg.Store == nil {
		return nil, errors.New("gateway requires a store")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("Gateway")
	}
	return &Gateway{
		tokens:   cfg.Tokens,
		policy:   cfg.Policy,
		store:    cfg.Store,
		handlers: cfg.Handlers,
		metrics:  cfg.Metrics,
		logger:   logger,
		now:      now,
	}, nil
}

// SetHandlers installs the resolver used to deliver envelopes. The registry
// and the gateway depend on each other, so the resolver may arrive after New.
func (g *Gateway) SetHandlers(resolver abn.HandlerResolver) {
	g.handlers = resolver
}

// OpenChannel grants origin a budgeted channel to target under a task token.
func (g *Gateway) OpenChannel(ctx context.Context, taskToken, origin, target string, proposedBudget int) (OpenResult, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanGatewayOpen,
		attribute.String(observability.AttrCoreID, origin))
	defer span.End()

	claims, err := g.tokens.VerifyTask(taskToken)
	if err != nil {
		g.metrics.channelDenied()
		span.SetStatus(codes.Error, "invalid task token")
		return OpenResult{}, err
	}
	if !claims.AllowDirect {
		g.metrics.channelDenied()
		return OpenResult{}, fmt.Errorf("%w: task token does not allow direct channels", coreerrors.ErrAuthorizationDenied)
	}
	if len(claims.Cores) > 0 && !claims.AllowsCore(origin) {
		g.metrics.channelDenied()
		return OpenResult{}, fmt.Errorf("%w: core %s is not scoped by the task token", coreerrors.ErrAuthorizationDenied, origin)
	}

	decision := g.policy.Authorize(origin, target, proposedBudget)
	if !decision.Allow {
		g.metrics.channelDenied()
		g.logger.Info("channel %s -> %s denied: %s", origin, target, decision.Reason)
		span.SetStatus(codes.Error, "denied")
		return OpenResult{}, fmt.Errorf("%w: %s", coreerrors.ErrAuthorizationDenied, decision.Reason)
	}

	ch := abn.Channel{
		ChannelID:  id.NewChannelID(),
		TaskID:     claims.TaskID(),
		OriginCore: origin,
		TargetCore: target,
		Budget:     decision.Budget,
		ExpiresAt:  decision.ExpiresAt,
		CreatedAt:  g.now(),
	}
	if err := g.store.CreateChannel(ctx, ch); err != nil {
		return OpenResult{}, fmt.Errorf("create channel: %w", err)
	}
	channelToken, err := g.tokens.MintChannelToken(ch.ChannelID, origin, target, decision.Budget,
		abn.Strings(decision.AllowedMsgTypes), decision.TTL)
	if err != nil {
		return OpenResult{}, fmt.Errorf("mint channel token: %w", err)
	}

	g.metrics.channelOpened()
	span.SetAttributes(attribute.String(observability.AttrChannelID, ch.ChannelID))
	g.logger.Info("channel %s opened %s -> %s budget=%d task=%s", ch.ChannelID, origin, target, ch.Budget, ch.TaskID)
	return OpenResult{
		ChannelID:       ch.ChannelID,
		ChannelToken:    channelToken,
		Budget:          decision.Budget,
		ExpiresAt:       decision.ExpiresAt,
		AllowedMsgTypes: decision.AllowedMsgTypes,
	}, nil
}

// SendMessage delivers env on channelID and returns the target's reply, if any.
// env.Seq of zero asks the gateway to assign the next sequence number.
func (g *Gateway) SendMessage(ctx context.Context, channelID string, env abn.Envelope, channelToken string) (SendResult, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanGatewaySend,
		attribute.String(observability.AttrChannelID, channelID),
		attribute.String(observability.AttrMsgType, string(env.MsgType)))
	defer span.End()

	result, err := g.send(ctx, channelID, env, channelToken)
	if err != nil {
		g.metrics.message(string(env.MsgType), coreerrors.Kind(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, coreerrors.Kind(err))
		return SendResult{}, err
	}
	g.metrics.message(string(env.MsgType), result.Status)
	return result, nil
}

func (g *Gateway) send(ctx context.Context, channelID string, env abn.Envelope, channelToken string) (SendResult, error) {
	claims, err := g.tokens.VerifyChannel(channelToken, channelID)
	if err != nil {
		return SendResult{}, err
	}
	if !claims.AllowsMsgType(string(env.MsgType)) {
		return SendResult{}, fmt.Errorf("%w: %q", coreerrors.ErrMessageTypeNotAllowed, env.MsgType)
	}
	if env.OriginCore != claims.OriginCore {
		return SendResult{}, fmt.Errorf("%w: origin %q does not hold this channel", coreerrors.ErrInvalidToken, env.OriginCore)
	}

	ch, err := g.store.GetChannel(ctx, channelID)
	if err != nil {
		return SendResult{}, err
	}
	switch env.TargetCore {
	case "":
		env.TargetCore = ch.TargetCore
	case ch.TargetCore:
	default:
		return SendResult{}, fmt.Errorf("%w: target %q is not the channel peer", coreerrors.ErrAuthorizationDenied, env.TargetCore)
	}

	hash, err := abn.HashPayload(env.Payload)
	if err != nil {
		return SendResult{}, err
	}

	now := g.now()
	env.ChannelID = channelID
	env.PayloadHash = hash
	env.Timestamp = now
	if env.EnvelopeID == "" {
		env.EnvelopeID = id.NewEnvelopeID()
	}
	if env.TraceID == "" {
		env.TraceID = id.TraceIDFromContext(ctx)
	}
	if env.TraceID == "" {
		env.TraceID = id.NewTraceID()
	}
	_, recorded, err := g.store.ConsumeBudget(ctx, abn.TranscriptFor(env, decisionAllow, now), now)
	if err != nil {
		return SendResult{}, err
	}
	seq := recorded.Seq
	env.Seq = seq

	handler, ok := g.resolve(env.TargetCore)
	if !ok {
		g.logger.Debug("no live handler for %s; envelope %s recorded only", env.TargetCore, env.EnvelopeID)
		return SendResult{Status: StatusDelivered, Envelope: env}, nil
	}

	replyPayload, err := handler.HandleEnvelope(ctx, env)
	if err != nil {
		g.logger.Warn("handler %s failed on %s: %v", env.TargetCore, env.EnvelopeID, err)
		return SendResult{}, fmt.Errorf("%w: %s: %v", coreerrors.ErrPeerFailure, env.TargetCore, err)
	}
	if replyPayload == nil {
		return SendResult{Status: StatusDelivered, Envelope: env}, nil
	}

	replyHash, err := abn.HashPayload(replyPayload)
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: %v", coreerrors.ErrPeerFailure, err)
	}
	replyAt := g.now()
	reply := abn.Envelope{
		EnvelopeID:  id.NewEnvelopeID(),
		TraceID:     env.TraceID,
		ChannelID:   channelID,
		Seq:         seq + 1,
		OriginCore:  env.TargetCore,
		TargetCore:  env.OriginCore,
		MsgType:     abn.MsgResponse,
		PayloadHash: replyHash,
		Payload:     replyPayload,
		Timestamp:   replyAt,
	}
	if err := g.store.AppendTranscript(ctx, abn.TranscriptFor(reply, decisionAllow, replyAt)); err != nil {
		return SendResult{}, fmt.Errorf("record reply: %w", err)
	}
	return SendResult{Status: StatusReplied, Envelope: env, Reply: &reply}, nil
}

func (g *Gateway) resolve(coreID string) (abn.Handler, bool) {
	if g.handlers == nil {
		return nil, false
	}
	return g.handlers.Handler(coreID)
}

// Revoke closes a channel; later sends fail with ErrChannelRevoked.
func (g *Gateway) Revoke(ctx context.Context, channelID string) error {
	if err := g.store.RevokeChannel(ctx, channelID); err != nil {
		return err
	}
	g.logger.Info("channel %s revoked", channelID)
	return nil
}

// Transcript returns the audit trail of a channel ordered by seq.
func (g *Gateway) Transcript(ctx context.Context, channelID string) ([]abn.TranscriptEntry, error) {
	if _, err := g.store.GetChannel(ctx, channelID); err != nil {
		return nil, err
	}
	return g.store.ListTranscript(ctx, channelID)
}
