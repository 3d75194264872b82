package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agewell-labs/donna/pkg/memory"
	"github.com/agewell-labs/donna/pkg/types"
)

// ConversationStoreImpl is the PostgreSQL implementation of
// [memory.ConversationStore]. Transcripts are stored as JSONB.
type ConversationStoreImpl struct {
	pool *pgxpool.Pool
}

// Create implements [memory.ConversationStore].
func (s *ConversationStoreImpl) Create(ctx context.Context, conv memory.Conversation) error {
	if conv.ID == "" || conv.SeniorID == "" || conv.CallID == "" {
		return fmt.Errorf("postgres conversations: create: id, senior id, and call id are required")
	}
	if conv.Type == "" {
		conv.Type = memory.CallOutbound
	}
	if conv.Status == "" {
		conv.Status = memory.ConversationActive
	}
	if conv.StartedAt.IsZero() {
		conv.StartedAt = time.Now()
	}

	if _, err := s.pool.Exec(ctx, `
INSERT INTO conversations (id, senior_id, call_id, call_type, status, started_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		conv.ID, conv.SeniorID, conv.CallID, string(conv.Type), string(conv.Status), conv.StartedAt); err != nil {
		return fmt.Errorf("postgres conversations: insert: %w", err)
	}
	return nil
}

// Complete implements [memory.ConversationStore]. The duration is derived
// from the stored start time so clock drift between caller and database
// cannot produce negative durations.
func (s *ConversationStoreImpl) Complete(ctx context.Context, callID string, endedAt time.Time, status memory.ConversationStatus, transcript []types.TranscriptEntry) error {
	if endedAt.IsZero() {
		endedAt = time.Now()
	}
	if status == "" {
		status = memory.ConversationCompleted
	}
	if transcript == nil {
		transcript = []types.TranscriptEntry{}
	}

	tag, err := s.pool.Exec(ctx, `
UPDATE conversations
SET status = $2,
    ended_at = $3,
    duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($3::timestamptz - started_at))::int),
    transcript = $4
WHERE call_id = $1`,
		callID, string(status), endedAt, transcript)
	if err != nil {
		return fmt.Errorf("postgres conversations: complete %s: %w", callID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres conversations: complete %s: no conversation for call", callID)
	}
	return nil
}

// ByCall implements [memory.ConversationStore].
func (s *ConversationStoreImpl) ByCall(ctx context.Context, callID string) (*memory.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, senior_id, call_id, call_type, status, started_at, ended_at, duration_seconds, transcript
FROM conversations
WHERE call_id = $1`, callID)

	var conv memory.Conversation
	var callType, status string
	var endedAt *time.Time
	err := row.Scan(&conv.ID, &conv.SeniorID, &conv.CallID, &callType, &status,
		&conv.StartedAt, &endedAt, &conv.DurationSeconds, &conv.Transcript)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres conversations: by call %s: %w", callID, err)
	}

	conv.Type = memory.CallType(callType)
	conv.Status = memory.ConversationStatus(status)
	if endedAt != nil {
		conv.EndedAt = *endedAt
	}
	if conv.Transcript == nil {
		conv.Transcript = []types.TranscriptEntry{}
	}
	return &conv, nil
}
