package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-me/core/internal/abn"
	"github.com/beam-me/core/internal/abn/gateway"
	"github.com/beam-me/core/internal/abn/policy"
	"github.com/beam-me/core/internal/abn/store"
	"github.com/beam-me/core/internal/auth/token"
	coreerrors "github.com/beam-me/core/internal/errors"
	"github.com/beam-me/core/internal/logging"
)

type resolver map[string]abn.Handler

func (r resolver) Handler(coreID string) (abn.Handler, bool) {
	h, ok := r[coreID]
	return h, ok
}

func newGateway(t *testing.T, handlers abn.HandlerResolver) (*gateway.Gateway, *token.Authority, *store.MemoryStore) {
	t.Helper()
	authority, err := token.NewAuthority("secret", "beam")
	require.NoError(t, err)
	st := store.NewMemoryStore()
	gw, err := gateway.New(gateway.Config{
		Tokens:   authority,
		Policy:   policy.New(50, time.Hour),
		Store:    st,
		Handlers: handlers,
	})
	require.NoError(t, err)
	return gw, authority, st
}

func TestClientSendsAndReceivesReplies(t *testing.T) {
	var seen []int64
	gw, authority, st := newGateway(t, resolver{"safety": abn.HandlerFunc(func(_ context.Context, env abn.Envelope) (map[string]any, error) {
		seen = append(seen, env.Seq)
		return map[string]any{"status": "SAFE"}, nil
	})})
	taskToken, err := authority.MintTaskToken("t1", []string{"propulsion"}, true, time.Hour)
	require.NoError(t, err)

	c := NewFactory(gw, 4, logging.Nop()).NewClient(taskToken, "propulsion")
	ctx := context.Background()

	reply, err := c.Send(ctx, "safety", abn.MsgProposal, map[string]any{"n": 1})
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, "SAFE", reply.Payload["status"])

	_, err = c.Send(ctx, "safety", abn.MsgQuestion, map[string]any{"n": 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, seen)

	channelID, err := c.RequestConnection(ctx, "safety", 10)
	require.NoError(t, err)
	ch, err := st.GetChannel(ctx, channelID)
	require.NoError(t, err)
	assert.Equal(t, 2, ch.Budget, "the first send opened the channel with the factory budget")

	require.NoError(t, c.Close(ctx))
	ch, err = st.GetChannel(ctx, channelID)
	require.NoError(t, err)
	assert.True(t, ch.Revoked)
}

func TestClientSurfacesGatewayErrors(t *testing.T) {
	gw, authority, _ := newGateway(t, nil)
	taskToken, err := authority.MintTaskToken("t1", []string{"propulsion"}, true, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	c := NewFactory(gw, 0, nil).NewClient(taskToken, "propulsion")
	_, err = c.RequestConnection(ctx, "safety", 80)
	assert.ErrorIs(t, err, coreerrors.ErrAuthorizationDenied)

	_, err = c.RequestConnection(ctx, "safety", 1)
	require.NoError(t, err)
	_, err = c.Send(ctx, "safety", abn.MsgProposal, nil)
	require.NoError(t, err)
	_, err = c.Send(ctx, "safety", abn.MsgProposal, nil)
	assert.ErrorIs(t, err, coreerrors.ErrBudgetExhausted)

	noToken := NewFactory(gw, 0, nil).NewClient("", "propulsion")
	_, err = noToken.Send(ctx, "safety", abn.MsgProposal, nil)
	assert.Error(t, err)
}
