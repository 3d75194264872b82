package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agewell-labs/donna/pkg/memory"
)

// AnalysisStoreImpl is the PostgreSQL implementation of [memory.AnalysisStore].
type AnalysisStoreImpl struct {
	pool *pgxpool.Pool
}

// Save implements [memory.AnalysisStore]. A re-run of the post-call flow for
// the same conversation replaces the earlier analysis via upsert on the
// conversation ID.
func (s *AnalysisStoreImpl) Save(ctx context.Context, a memory.Analysis) error {
	if a.ID == "" || a.ConversationID == "" || a.SeniorID == "" {
		return fmt.Errorf("postgres analyses: save: id, conversation id, and senior id are required")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	if _, err := s.pool.Exec(ctx, `
INSERT INTO call_analyses (id, conversation_id, senior_id, summary, topics, engagement_score,
                           concerns, positive_observations, follow_up_suggestions, call_quality, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (conversation_id) DO UPDATE SET
    summary               = EXCLUDED.summary,
    topics                = EXCLUDED.topics,
    engagement_score      = EXCLUDED.engagement_score,
    concerns              = EXCLUDED.concerns,
    positive_observations = EXCLUDED.positive_observations,
    follow_up_suggestions = EXCLUDED.follow_up_suggestions,
    call_quality          = EXCLUDED.call_quality,
    created_at            = EXCLUDED.created_at`,
		a.ID, a.ConversationID, a.SeniorID, a.Summary, textArray(a.Topics), a.EngagementScore,
		textArray(a.Concerns), textArray(a.PositiveObservations), textArray(a.FollowUpSuggestions),
		a.CallQuality, a.CreatedAt); err != nil {
		return fmt.Errorf("postgres analyses: upsert: %w", err)
	}
	return nil
}

// ByConversation implements [memory.AnalysisStore].
func (s *AnalysisStoreImpl) ByConversation(ctx context.Context, conversationID string) (*memory.Analysis, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, conversation_id, senior_id, summary, topics, engagement_score,
       concerns, positive_observations, follow_up_suggestions, call_quality, created_at
FROM call_analyses
WHERE conversation_id = $1`, conversationID)

	var a memory.Analysis
	err := row.Scan(&a.ID, &a.ConversationID, &a.SeniorID, &a.Summary, &a.Topics, &a.EngagementScore,
		&a.Concerns, &a.PositiveObservations, &a.FollowUpSuggestions, &a.CallQuality, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres analyses: by conversation %s: %w", conversationID, err)
	}

	if a.Topics == nil {
		a.Topics = []string{}
	}
	if a.Concerns == nil {
		a.Concerns = []string{}
	}
	if a.PositiveObservations == nil {
		a.PositiveObservations = []string{}
	}
	if a.FollowUpSuggestions == nil {
		a.FollowUpSuggestions = []string{}
	}
	return &a, nil
}
