package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-me/core/internal/abn"
	"github.com/beam-me/core/internal/abn/policy"
	"github.com/beam-me/core/internal/abn/store"
	"github.com/beam-me/core/internal/auth/token"
	coreerrors "github.com/beam-me/core/internal/errors"
)

const (
	propulsion = "engineering-propulsion-v1"
	safety     = "engineering-flightcontrol-v1"
)

type handlerMap map[string]abn.Handler

func (m handlerMap) Handler(coreID string) (abn.Handler, bool) {
	h, ok := m[coreID]
	return h, ok
}

type fixture struct {
	gw        *Gateway
	authority *token.Authority
	store     *store.MemoryStore
	metrics   *Metrics
	clock     *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T, handlers abn.HandlerResolver) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)}
	authority, err := token.NewAuthority("test-secret", "beam", token.WithClock(clock.Now))
	require.NoError(t, err)
	pdp := policy.New(50, time.Hour)
	pdp.Now = clock.Now
	st := store.NewMemoryStore()
	metrics := NewMetrics(prometheus.NewRegistry())

	gw, err := New(Config{
		Tokens:   authority,
		Policy:   pdp,
		Store:    st,
		Handlers: handlers,
		Metrics:  metrics,
		Now:      clock.Now,
	})
	require.NoError(t, err)
	return &fixture{gw: gw, authority: authority, store: st, metrics: metrics, clock: clock}
}

func (f *fixture) taskToken(t *testing.T, cores []string, allowDirect bool) string {
	t.Helper()
	tok, err := f.authority.MintTaskToken("task_propulsion", cores, allowDirect, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) open(t *testing.T, budget int) OpenResult {
	t.Helper()
	res, err := f.gw.OpenChannel(context.Background(), f.taskToken(t, []string{propulsion}, true), propulsion, safety, budget)
	require.NoError(t, err)
	return res
}

func proposal() abn.Envelope {
	return abn.Envelope{
		OriginCore: propulsion,
		MsgType:    abn.MsgProposal,
		Payload:    map[string]any{"motor": "MN3110"},
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestOpenChannelGrantsWithinCeiling(t *testing.T) {
	f := newFixture(t, nil)
	res := f.open(t, 5)

	assert.Regexp(t, `^ch-`, res.ChannelID)
	assert.Equal(t, 5, res.Budget)
	assert.Equal(t, f.clock.Now().Add(time.Hour), res.ExpiresAt)

	claims, err := f.authority.VerifyChannel(res.ChannelToken, res.ChannelID)
	require.NoError(t, err)
	assert.Equal(t, 5, claims.Budget)
	assert.Equal(t, propulsion, claims.OriginCore)
	assert.Equal(t, safety, claims.TargetCore)

	ch, err := f.store.GetChannel(context.Background(), res.ChannelID)
	require.NoError(t, err)
	assert.Equal(t, "task_propulsion", ch.TaskID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.channels.WithLabelValues("granted")))
}

func TestOpenChannelDenials(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.gw.OpenChannel(ctx, f.taskToken(t, []string{propulsion}, true), propulsion, safety, 51)
	assert.ErrorIs(t, err, coreerrors.ErrAuthorizationDenied)

	_, err = f.gw.OpenChannel(ctx, f.taskToken(t, []string{propulsion}, false), propulsion, safety, 5)
	assert.ErrorIs(t, err, coreerrors.ErrAuthorizationDenied)

	_, err = f.gw.OpenChannel(ctx, f.taskToken(t, []string{"analysis_core"}, true), propulsion, safety, 5)
	assert.ErrorIs(t, err, coreerrors.ErrAuthorizationDenied)

	_, err = f.gw.OpenChannel(ctx, "garbage", propulsion, safety, 5)
	assert.ErrorIs(t, err, coreerrors.ErrInvalidToken)

	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.channels.WithLabelValues("denied")))
}

func TestSendMessageWithoutHandlerIsDelivered(t *testing.T) {
	f := newFixture(t, handlerMap{})
	res := f.open(t, 3)

	out, err := f.gw.SendMessage(context.Background(), res.ChannelID, proposal(), res.ChannelToken)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, out.Status)
	assert.Nil(t, out.Reply)
	assert.Equal(t, int64(1), out.Envelope.Seq)
	assert.Equal(t, safety, out.Envelope.TargetCore)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, out.Envelope.PayloadHash)
	assert.NotEmpty(t, out.Envelope.EnvelopeID)
	assert.NotEmpty(t, out.Envelope.TraceID)

	entries, err := f.gw.Transcript(context.Background(), res.ChannelID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "allow", entries[0].PolicyDecision)
}

func TestSendMessageRecordsPeerReply(t *testing.T) {
	handlers := handlerMap{safety: abn.HandlerFunc(func(_ context.Context, env abn.Envelope) (map[string]any, error) {
		return map[string]any{"status": "SAFE", "seen": env.Payload["motor"]}, nil
	})}
	f := newFixture(t, handlers)
	res := f.open(t, 3)

	out, err := f.gw.SendMessage(context.Background(), res.ChannelID, proposal(), res.ChannelToken)
	require.NoError(t, err)
	assert.Equal(t, StatusReplied, out.Status)
	require.NotNil(t, out.Reply)
	assert.Equal(t, abn.MsgResponse, out.Reply.MsgType)
	assert.Equal(t, int64(2), out.Reply.Seq)
	assert.Equal(t, safety, out.Reply.OriginCore)
	assert.Equal(t, propulsion, out.Reply.TargetCore)
	assert.Equal(t, "SAFE", out.Reply.Payload["status"])
	assert.Equal(t, out.Envelope.TraceID, out.Reply.TraceID)

	second, err := f.gw.SendMessage(context.Background(), res.ChannelID, proposal(), res.ChannelToken)
	require.NoError(t, err)
	assert.Equal(t, int64(3), second.Envelope.Seq)

	entries, err := f.gw.Transcript(context.Background(), res.ChannelID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for i, entry := range entries {
		assert.Equal(t, int64(i+1), entry.Seq)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.messages.WithLabelValues("PROPOSAL", StatusReplied)))
}

func TestSendMessageBudgetExhaustion(t *testing.T) {
	f := newFixture(t, nil)
	res := f.open(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.gw.SendMessage(ctx, res.ChannelID, proposal(), res.ChannelToken)
		require.NoError(t, err)
	}
	_, err := f.gw.SendMessage(ctx, res.ChannelID, proposal(), res.ChannelToken)
	assert.ErrorIs(t, err, coreerrors.ErrBudgetExhausted)

	entries, err := f.gw.Transcript(ctx, res.ChannelID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.messages.WithLabelValues("PROPOSAL", "budget_exhausted")))
}

func TestSendMessageIntoTakenSlotSpendsNoBudget(t *testing.T) {
	f := newFixture(t, nil)
	res := f.open(t, 2)
	ctx := context.Background()
	require.NoError(t, f.store.AppendTranscript(ctx, abn.TranscriptEntry{ChannelID: res.ChannelID, Seq: 1, MsgType: abn.MsgProposal}))

	_, err := f.gw.SendMessage(ctx, res.ChannelID, proposal(), res.ChannelToken)
	assert.ErrorIs(t, err, coreerrors.ErrTranscriptExists)

	ch, err := f.store.GetChannel(ctx, res.ChannelID)
	require.NoError(t, err)
	assert.Equal(t, 2, ch.Budget)
	assert.Equal(t, int64(0), ch.LastSeq)
}

func TestSendMessageConcurrentSendsNeverExceedBudget(t *testing.T) {
	f := newFixture(t, nil)
	res := f.open(t, 5)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exhausted int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.gw.SendMessage(context.Background(), res.ChannelID, proposal(), res.ChannelToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, coreerrors.ErrBudgetExhausted):
				exhausted++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 7, exhausted)
}

func TestSendMessageRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("token for another channel", func(t *testing.T) {
		f := newFixture(t, nil)
		a := f.open(t, 3)
		b := f.open(t, 3)
		_, err := f.gw.SendMessage(ctx, a.ChannelID, proposal(), b.ChannelToken)
		assert.ErrorIs(t, err, coreerrors.ErrInvalidToken)
	})

	t.Run("task token used as channel token", func(t *testing.T) {
		f := newFixture(t, nil)
		a := f.open(t, 3)
		_, err := f.gw.SendMessage(ctx, a.ChannelID, proposal(), f.taskToken(t, nil, true))
		assert.ErrorIs(t, err, coreerrors.ErrInvalidToken)
	})

	t.Run("response type reserved", func(t *testing.T) {
		f := newFixture(t, nil)
		a := f.open(t, 3)
		env := proposal()
		env.MsgType = abn.MsgResponse
		_, err := f.gw.SendMessage(ctx, a.ChannelID, env, a.ChannelToken)
		assert.ErrorIs(t, err, coreerrors.ErrMessageTypeNotAllowed)
	})

	t.Run("spoofed origin", func(t *testing.T) {
		f := newFixture(t, nil)
		a := f.open(t, 3)
		env := proposal()
		env.OriginCore = "qa-codereview-v1"
		_, err := f.gw.SendMessage(ctx, a.ChannelID, env, a.ChannelToken)
		assert.ErrorIs(t, err, coreerrors.ErrInvalidToken)
	})

	t.Run("wrong target", func(t *testing.T) {
		f := newFixture(t, nil)
		a := f.open(t, 3)
		env := proposal()
		env.TargetCore = "qa-codereview-v1"
		_, err := f.gw.SendMessage(ctx, a.ChannelID, env, a.ChannelToken)
		assert.ErrorIs(t, err, coreerrors.ErrAuthorizationDenied)
	})

	t.Run("sequence regression", func(t *testing.T) {
		f := newFixture(t, nil)
		a := f.open(t, 3)
		env := proposal()
		env.Seq = 5
		_, err := f.gw.SendMessage(ctx, a.ChannelID, env, a.ChannelToken)
		require.NoError(t, err)
		env.Seq = 6
		_, err = f.gw.SendMessage(ctx, a.ChannelID, env, a.ChannelToken)
		assert.ErrorIs(t, err, coreerrors.ErrSequenceRegression)
	})

	t.Run("revoked", func(t *testing.T) {
		f := newFixture(t, nil)
		a := f.open(t, 3)
		require.NoError(t, f.gw.Revoke(ctx, a.ChannelID))
		_, err := f.gw.SendMessage(ctx, a.ChannelID, proposal(), a.ChannelToken)
		assert.ErrorIs(t, err, coreerrors.ErrChannelRevoked)
	})

	t.Run("expired", func(t *testing.T) {
		f := newFixture(t, nil)
		a := f.open(t, 3)
		f.clock.Advance(time.Hour + time.Second)
		_, err := f.gw.SendMessage(ctx, a.ChannelID, proposal(), a.ChannelToken)
		assert.ErrorIs(t, err, coreerrors.ErrInvalidToken, "the channel token expires with the channel")
	})

	t.Run("peer failure", func(t *testing.T) {
		f := newFixture(t, handlerMap{safety: abn.HandlerFunc(func(context.Context, abn.Envelope) (map[string]any, error) {
			return nil, errors.New("boom")
		})})
		a := f.open(t, 3)
		_, err := f.gw.SendMessage(ctx, a.ChannelID, proposal(), a.ChannelToken)
		assert.ErrorIs(t, err, coreerrors.ErrPeerFailure)
	})
}

func TestTranscriptUnknownChannel(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.gw.Transcript(context.Background(), "ch-missing")
	assert.ErrorIs(t, err, coreerrors.ErrChannelNotFound)
	assert.ErrorIs(t, f.gw.Revoke(context.Background(), "ch-missing"), coreerrors.ErrChannelNotFound)
}
