package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/beam-me/core/internal/abn"
	coreerrors "github.com/beam-me/core/internal/errors"
	"github.com/beam-me/core/internal/logging"
)

const uniqueViolation = "23505"

// pool abstracts the subset of pgxpool.Pool used by the store for easier testing.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore persists channels and transcripts in Postgres.
type PostgresStore struct {
	pool   pool
	logger logging.Logger
}

// NewPostgresStore builds a store backed by the provided connection pool.
func NewPostgresStore(pool pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("postgres store requires pool")
	}
	return &PostgresStore{pool: pool, logger: logging.NewComponentLogger("ChannelStore")}, nil
}

// EnsureSchema creates the channel and transcript tables if needed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS abn_channels (
    channel_id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL DEFAULT '',
    origin_core TEXT NOT NULL,
    target_core TEXT NOT NULL,
    budget INTEGER NOT NULL,
    last_seq BIGINT NOT NULL DEFAULT 0,
    expires_at TIMESTAMPTZ NOT NULL,
    revoked BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS abn_transcripts (
    channel_id TEXT NOT NULL REFERENCES abn_channels (channel_id),
    seq BIGINT NOT NULL,
    envelope_id TEXT NOT NULL,
    trace_id TEXT NOT NULL,
    origin_core TEXT NOT NULL,
    target_core TEXT NOT NULL,
    msg_type TEXT NOT NULL,
    payload_hash TEXT NOT NULL,
    policy_decision TEXT NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (channel_id, seq)
);`,
		`CREATE INDEX IF NOT EXISTS idx_abn_transcripts_trace ON abn_transcripts (trace_id);`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateChannel(ctx context.Context, ch abn.Channel) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO abn_channels (channel_id, task_id, origin_core, target_core, budget, last_seq, expires_at, revoked, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ch.ChannelID, ch.TaskID, ch.OriginCore, ch.TargetCore, ch.Budget, ch.LastSeq, ch.ExpiresAt, ch.Revoked, ch.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("channel %s already exists", ch.ChannelID)
		}
		return fmt.Errorf("insert channel %s: %w", ch.ChannelID, err)
	}
	return nil
}

const channelColumns = `channel_id, task_id, origin_core, target_core, budget, last_seq, expires_at, revoked, created_at`

func scanChannel(row pgx.Row) (abn.Channel, error) {
	var ch abn.Channel
	err := row.Scan(&ch.ChannelID, &ch.TaskID, &ch.OriginCore, &ch.TargetCore, &ch.Budget, &ch.LastSeq, &ch.ExpiresAt, &ch.Revoked, &ch.CreatedAt)
	return ch, err
}

func (s *PostgresStore) GetChannel(ctx context.Context, channelID string) (abn.Channel, error) {
	ch, err := scanChannel(s.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM abn_channels WHERE channel_id = $1`, channelID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return abn.Channel{}, fmt.Errorf("channel %s: %w", channelID, coreerrors.ErrChannelNotFound)
		}
		return abn.Channel{}, fmt.Errorf("load channel %s: %w", channelID, err)
	}
	return ch, nil
}

// ConsumeBudget spends budget and records the outbound entry in one
// statement, so a failed insert also leaves the budget untouched. When no
// row qualifies the channel is re-read to classify the rejection.
func (s *PostgresStore) ConsumeBudget(ctx context.Context, out abn.TranscriptEntry, now time.Time) (abn.Channel, abn.TranscriptEntry, error) {
	ch, err := scanChannel(s.pool.QueryRow(ctx, `
WITH consumed AS (
    UPDATE abn_channels
    SET budget = budget - 1,
        last_seq = (CASE WHEN $2::BIGINT > 0 THEN $2::BIGINT ELSE last_seq + 1 END) + 1
    WHERE channel_id = $1
      AND NOT revoked
      AND expires_at > $3
      AND budget > 0
      AND ($2::BIGINT = 0 OR $2::BIGINT > last_seq)
    RETURNING `+channelColumns+`
), recorded AS (
    INSERT INTO abn_transcripts (channel_id, seq, envelope_id, trace_id, origin_core, target_core, msg_type, payload_hash, policy_decision, recorded_at)
    SELECT channel_id, last_seq - 1, $4, $5, $6, $7, $8, $9, $10, $11 FROM consumed
)
SELECT `+channelColumns+` FROM consumed`,
		out.ChannelID, out.Seq, now,
		out.EnvelopeID, out.TraceID, out.OriginCore, out.TargetCore,
		string(out.MsgType), out.PayloadHash, out.PolicyDecision, out.RecordedAt,
	))
	if err == nil {
		out.Seq = ch.LastSeq - 1
		return ch, out, nil
	}
	if isUniqueViolation(err) {
		return abn.Channel{}, abn.TranscriptEntry{}, fmt.Errorf("channel %s: %w", out.ChannelID, coreerrors.ErrTranscriptExists)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return abn.Channel{}, abn.TranscriptEntry{}, fmt.Errorf("consume budget on %s: %w", out.ChannelID, err)
	}

	current, err := s.GetChannel(ctx, out.ChannelID)
	if err != nil {
		return abn.Channel{}, abn.TranscriptEntry{}, err
	}
	if reason := checkConsumable(current, out.Seq, now); reason != nil {
		return abn.Channel{}, abn.TranscriptEntry{}, reason
	}
	s.logger.Warn("consume budget on %s matched no row but channel looks usable; treating as exhausted", out.ChannelID)
	return abn.Channel{}, abn.TranscriptEntry{}, fmt.Errorf("channel %s: %w", out.ChannelID, coreerrors.ErrBudgetExhausted)
}

func (s *PostgresStore) RevokeChannel(ctx context.Context, channelID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE abn_channels SET revoked = TRUE WHERE channel_id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("revoke channel %s: %w", channelID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("channel %s: %w", channelID, coreerrors.ErrChannelNotFound)
	}
	return nil
}

func (s *PostgresStore) AppendTranscript(ctx context.Context, entry abn.TranscriptEntry) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO abn_transcripts (channel_id, seq, envelope_id, trace_id, origin_core, target_core, msg_type, payload_hash, policy_decision, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ChannelID, entry.Seq, entry.EnvelopeID, entry.TraceID, entry.OriginCore, entry.TargetCore,
		string(entry.MsgType), entry.PayloadHash, entry.PolicyDecision, entry.RecordedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("channel %s seq %d: %w", entry.ChannelID, entry.Seq, coreerrors.ErrTranscriptExists)
		}
		return fmt.Errorf("insert transcript %s/%d: %w", entry.ChannelID, entry.Seq, err)
	}
	return nil
}

func (s *PostgresStore) ListTranscript(ctx context.Context, channelID string) ([]abn.TranscriptEntry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT channel_id, seq, envelope_id, trace_id, origin_core, target_core, msg_type, payload_hash, policy_decision, recorded_at
FROM abn_transcripts WHERE channel_id = $1 ORDER BY seq`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list transcript %s: %w", channelID, err)
	}
	defer rows.Close()

	var out []abn.TranscriptEntry
	for rows.Next() {
		var entry abn.TranscriptEntry
		var msgType string
		if err := rows.Scan(&entry.ChannelID, &entry.Seq, &entry.EnvelopeID, &entry.TraceID, &entry.OriginCore,
			&entry.TargetCore, &msgType, &entry.PayloadHash, &entry.PolicyDecision, &entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan transcript %s: %w", channelID, err)
		}
		entry.MsgType = abn.MsgType(msgType)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript %s: %w", channelID, err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var _ Store = (*PostgresStore)(nil)
