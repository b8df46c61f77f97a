// Package client is the per-task handle a discipline core uses to consult a
// peer core over the gateway.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/beam-me/core/internal/abn"
	"github.com/beam-me/core/internal/abn/gateway"
	"github.com/beam-me/core/internal/logging"
)

// DefaultBudget is requested when a core sends without opening a channel first.
const DefaultBudget = 5

// Transport is the gateway surface a client drives.
type Transport interface {
	OpenChannel(ctx context.Context, taskToken, origin, target string, proposedBudget int) (gateway.OpenResult, error)
	SendMessage(ctx context.Context, channelID string, env abn.Envelope, channelToken string) (gateway.SendResult, error)
	Revoke(ctx context.Context, channelID string) error
}

// Negotiator is what cores see of a client.
type Negotiator interface {
	RequestConnection(ctx context.Context, target string, budget int) (string, error)
	Send(ctx context.Context, target string, msgType abn.MsgType, payload map[string]any) (*abn.Envelope, error)
	Close(ctx context.Context) error
}

// Factory builds a Negotiator bound to a task token and the calling core.
type Factory interface {
	NewClient(taskToken, origin string) Negotiator
}

// GatewayFactory builds clients over a shared transport.
type GatewayFactory struct {
	transport Transport
	budget    int
	logger    logging.Logger
}

// NewFactory returns a GatewayFactory. A non-positive budget uses DefaultBudget.
func NewFactory(transport Transport, budget int, logger logging.Logger) *GatewayFactory {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &GatewayFactory{transport: transport, budget: budget, logger: logging.OrNop(logger)}
}

// NewClient implements Factory.
func (f *GatewayFactory) NewClient(taskToken, origin string) Negotiator {
	return &Client{
		transport: f.transport,
		taskToken: taskToken,
		origin:    origin,
		budget:    f.budget,
		logger:    f.logger,
		sessions:  map[string]*session{},
	}
}

type session struct {
	channelID string
	token     string
	nextSeq   int64
}

// Client holds one channel per peer for the lifetime of a task.
type Client struct {
	transport Transport
	taskToken string
	origin    string
	budget    int
	logger    logging.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// RequestConnection opens a channel to target and returns its id. An existing
// channel to target is reused.
func (c *Client) RequestConnection(ctx context.Context, target string, budget int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.sessionLocked(ctx, target, budget)
	if err != nil {
		return "", err
	}
	return s.channelID, nil
}

func (c *Client) sessionLocked(ctx context.Context, target string, budget int) (*session, error) {
	if s, ok := c.sessions[target]; ok {
		return s, nil
	}
	if c.taskToken == "" {
		return nil, errors.New("no task token available for negotiation")
	}
	if budget <= 0 {
		budget = c.budget
	}
	res, err := c.transport.OpenChannel(ctx, c.taskToken, c.origin, target, budget)
	if err != nil {
		return nil, fmt.Errorf("open channel to %s: %w", target, err)
	}
	s := &session{channelID: res.ChannelID, token: res.ChannelToken, nextSeq: 1}
	c.sessions[target] = s
	c.logger.Debug("%s opened channel %s to %s", c.origin, res.ChannelID, target)
	return s, nil
}

// Send delivers payload to target and returns the peer's reply, or nil when
// the peer accepted the envelope without answering.
func (c *Client) Send(ctx context.Context, target string, msgType abn.MsgType, payload map[string]any) (*abn.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.sessionLocked(ctx, target, 0)
	if err != nil {
		return nil, err
	}

	env := abn.Envelope{
		Seq:        s.nextSeq,
		OriginCore: c.origin,
		TargetCore: target,
		MsgType:    msgType,
		Payload:    payload,
	}
	res, err := c.transport.SendMessage(ctx, s.channelID, env, s.token)
	if err != nil {
		return nil, err
	}
	// Each send owns its seq and the following reply slot.
	s.nextSeq = res.Envelope.Seq + 2
	return res.Reply, nil
}

// Close revokes every channel the client opened.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for target, s := range c.sessions {
		if err := c.transport.Revoke(ctx, s.channelID); err != nil {
			errs = append(errs, fmt.Errorf("revoke channel to %s: %w", target, err))
		}
		delete(c.sessions, target)
	}
	return errors.Join(errs...)
}
