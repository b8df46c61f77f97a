// Package store persists negotiation channels and their transcripts.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/beam-me/core/internal/abn"
	coreerrors "github.com/beam-me/core/internal/errors"
)

// Store is the durable record of channels and transcripts. Implementations
// must make ConsumeBudget atomic per channel.
type Store interface {
	CreateChannel(ctx context.Context, ch abn.Channel) error
	GetChannel(ctx context.Context, channelID string) (abn.Channel, error)
	// ConsumeBudget checks out.ChannelID is usable at now, spends one unit of
	// budget, reserves out.Seq plus the following slot for a reply, and
	// records out at that seq. A zero out.Seq is assigned the next free slot.
	// Either all of it happens or none of it does. It returns the updated
	// channel and the recorded entry.
	ConsumeBudget(ctx context.Context, out abn.TranscriptEntry, now time.Time) (abn.Channel, abn.TranscriptEntry, error)
	RevokeChannel(ctx context.Context, channelID string) error
	AppendTranscript(ctx context.Context, entry abn.TranscriptEntry) error
	ListTranscript(ctx context.Context, channelID string) ([]abn.TranscriptEntry, error)
}

// checkConsumable classifies why a channel cannot carry an envelope with seq.
func checkConsumable(ch abn.Channel, seq int64, now time.Time) error {
	switch {
	case ch.Revoked:
		return fmt.Errorf("channel %s: %w", ch.ChannelID, coreerrors.ErrChannelRevoked)
	case !now.Before(ch.ExpiresAt):
		return fmt.Errorf("channel %s: %w", ch.ChannelID, coreerrors.ErrChannelExpired)
	case ch.Budget <= 0:
		return fmt.Errorf("channel %s: %w", ch.ChannelID, coreerrors.ErrBudgetExhausted)
	case seq != 0 && seq <= ch.LastSeq:
		return fmt.Errorf("channel %s: seq %d after %d: %w", ch.ChannelID, seq, ch.LastSeq, coreerrors.ErrSequenceRegression)
	}
	return nil
}

// MemoryStore keeps channels in process memory.
type MemoryStore struct {
	mu          sync.Mutex
	channels    map[string]abn.Channel
	transcripts map[string]map[int64]abn.TranscriptEntry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		channels:    map[string]abn.Channel{},
		transcripts: map[string]map[int64]abn.TranscriptEntry{},
	}
}

func (s *MemoryStore) CreateChannel(_ context.Context, ch abn.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.channels[ch.ChannelID]; exists {
		return fmt.Errorf("channel %s already exists", ch.ChannelID)
	}
	s.channels[ch.ChannelID] = ch
	return nil
}

func (s *MemoryStore) GetChannel(_ context.Context, channelID string) (abn.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return abn.Channel{}, fmt.Errorf("channel %s: %w", channelID, coreerrors.ErrChannelNotFound)
	}
	return ch, nil
}

func (s *MemoryStore) ConsumeBudget(_ context.Context, out abn.TranscriptEntry, now time.Time) (abn.Channel, abn.TranscriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[out.ChannelID]
	if !ok {
		return abn.Channel{}, abn.TranscriptEntry{}, fmt.Errorf("channel %s: %w", out.ChannelID, coreerrors.ErrChannelNotFound)
	}
	if err := checkConsumable(ch, out.Seq, now); err != nil {
		return abn.Channel{}, abn.TranscriptEntry{}, err
	}
	if out.Seq == 0 {
		out.Seq = ch.LastSeq + 1
	}
	if err := s.appendLocked(out); err != nil {
		return abn.Channel{}, abn.TranscriptEntry{}, err
	}
	ch.Budget--
	ch.LastSeq = out.Seq + 1
	s.channels[out.ChannelID] = ch
	return ch, out, nil
}

func (s *MemoryStore) RevokeChannel(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return fmt.Errorf("channel %s: %w", channelID, coreerrors.ErrChannelNotFound)
	}
	ch.Revoked = true
	s.channels[channelID] = ch
	return nil
}

func (s *MemoryStore) AppendTranscript(_ context.Context, entry abn.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(entry)
}

func (s *MemoryStore) appendLocked(entry abn.TranscriptEntry) error {
	entries, ok := s.transcripts[entry.ChannelID]
	if !ok {
		entries = map[int64]abn.TranscriptEntry{}
		s.transcripts[entry.ChannelID] = entries
	}
	if _, exists := entries[entry.Seq]; exists {
		return fmt.Errorf("channel %s seq %d: %w", entry.ChannelID, entry.Seq, coreerrors.ErrTranscriptExists)
	}
	entries[entry.Seq] = entry
	return nil
}

func (s *MemoryStore) ListTranscript(_ context.Context, channelID string) ([]abn.TranscriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.transcripts[channelID]
	out := make([]abn.TranscriptEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
