// Package postgres provides the PostgreSQL-backed implementation of the donna
// memory layer: long-term memories on pgvector, senior profiles, reminder
// delivery state, daily call context, conversations, and post-call analyses.
//
// All stores share a single [pgxpool.Pool] connection pool. The pgvector
// extension must be available in the target database; [Migrate] installs it
// automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	inserted, _ := store.Memories().Remember(ctx, rec)
//	due, _ := store.Reminders().ListActive(ctx)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL: senior profiles
// ─────────────────────────────────────────────────────────────────────────────

const ddlSeniors = `
CREATE TABLE IF NOT EXISTS seniors (
    id            TEXT         PRIMARY KEY,
    first_name    TEXT         NOT NULL,
    phone         TEXT         NOT NULL,
    timezone      TEXT         NOT NULL DEFAULT '',
    interests     TEXT[]       NOT NULL DEFAULT '{}',
    medical_notes TEXT         NOT NULL DEFAULT '',
    family        TEXT[]       NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_seniors_phone_digits
    ON seniors (right(regexp_replace(phone, '\D', '', 'g'), 10));
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL: reminders and their delivery lifecycle
// ─────────────────────────────────────────────────────────────────────────────

const ddlReminders = `
CREATE TABLE IF NOT EXISTS reminders (
    id             TEXT         PRIMARY KEY,
    senior_id      TEXT         NOT NULL REFERENCES seniors (id) ON DELETE CASCADE,
    type           TEXT         NOT NULL DEFAULT 'custom',
    title          TEXT         NOT NULL,
    description    TEXT         NOT NULL DEFAULT '',
    scheduled_time TIMESTAMPTZ  NOT NULL,
    recurring      BOOLEAN      NOT NULL DEFAULT FALSE,
    active         BOOLEAN      NOT NULL DEFAULT TRUE,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_reminders_senior_id
    ON reminders (senior_id);

CREATE INDEX IF NOT EXISTS idx_reminders_active
    ON reminders (active);

CREATE TABLE IF NOT EXISTS reminder_deliveries (
    id            TEXT         PRIMARY KEY,
    reminder_id   TEXT         NOT NULL REFERENCES reminders (id) ON DELETE CASCADE,
    senior_id     TEXT         NOT NULL,
    scheduled_for TIMESTAMPTZ  NOT NULL,
    call_id       TEXT         NOT NULL DEFAULT '',
    status        TEXT         NOT NULL DEFAULT 'delivered',
    attempt_count INTEGER      NOT NULL DEFAULT 1,
    user_response TEXT         NOT NULL DEFAULT '',
    delivered_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_deliveries_instance
    ON reminder_deliveries (reminder_id, scheduled_for);

CREATE INDEX IF NOT EXISTS idx_deliveries_call_id
    ON reminder_deliveries (call_id);

CREATE INDEX IF NOT EXISTS idx_deliveries_status_updated
    ON reminder_deliveries (status, updated_at);
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL: conversations, analyses, daily context
// ─────────────────────────────────────────────────────────────────────────────

const ddlConversations = `
CREATE TABLE IF NOT EXISTS conversations (
    id               TEXT         PRIMARY KEY,
    senior_id        TEXT         NOT NULL REFERENCES seniors (id) ON DELETE CASCADE,
    call_id          TEXT         NOT NULL,
    call_type        TEXT         NOT NULL DEFAULT 'outbound',
    status           TEXT         NOT NULL DEFAULT 'active',
    started_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at         TIMESTAMPTZ,
    duration_seconds INTEGER      NOT NULL DEFAULT 0,
    transcript       JSONB        NOT NULL DEFAULT '[]'
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_call_id
    ON conversations (call_id);

CREATE INDEX IF NOT EXISTS idx_conversations_senior_started
    ON conversations (senior_id, started_at);

CREATE TABLE IF NOT EXISTS call_analyses (
    id                    TEXT         PRIMARY KEY,
    conversation_id       TEXT         NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
    senior_id             TEXT         NOT NULL,
    summary               TEXT         NOT NULL DEFAULT '',
    topics                TEXT[]       NOT NULL DEFAULT '{}',
    engagement_score      INTEGER      NOT NULL DEFAULT 0,
    concerns              TEXT[]       NOT NULL DEFAULT '{}',
    positive_observations TEXT[]       NOT NULL DEFAULT '{}',
    follow_up_suggestions TEXT[]       NOT NULL DEFAULT '{}',
    call_quality          TEXT         NOT NULL DEFAULT '',
    created_at            TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_call_analyses_conversation
    ON call_analyses (conversation_id);

CREATE TABLE IF NOT EXISTS daily_call_context (
    id                  BIGSERIAL    PRIMARY KEY,
    senior_id           TEXT         NOT NULL REFERENCES seniors (id) ON DELETE CASCADE,
    day                 TEXT         NOT NULL,
    call_id             TEXT         NOT NULL,
    topics              TEXT[]       NOT NULL DEFAULT '{}',
    reminders_delivered TEXT[]       NOT NULL DEFAULT '{}',
    advice_given        TEXT[]       NOT NULL DEFAULT '{}',
    key_moments         TEXT[]       NOT NULL DEFAULT '{}',
    summary             TEXT         NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_daily_context_senior_day
    ON daily_call_context (senior_id, day);
`

// ddlMemories returns the memories DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlMemories(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memories (
    id               TEXT              PRIMARY KEY,
    senior_id        TEXT              NOT NULL REFERENCES seniors (id) ON DELETE CASCADE,
    type             TEXT              NOT NULL,
    content          TEXT              NOT NULL,
    embedding        vector(%d)        NOT NULL,
    importance       DOUBLE PRECISION  NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ       NOT NULL DEFAULT now(),
    last_accessed_at TIMESTAMPTZ,
    access_count     INTEGER           NOT NULL DEFAULT 0,
    source_call_id   TEXT              NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_memories_senior_id
    ON memories (senior_id);

CREATE INDEX IF NOT EXISTS idx_memories_senior_importance
    ON memories (senior_id, importance DESC);

CREATE INDEX IF NOT EXISTS idx_memories_embedding
    ON memories USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions exist.
// It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start. Statements run in foreign-key
// dependency order.
//
// embeddingDimensions must match the vector model configured for your deployment
// (e.g., 1536 for OpenAI text-embedding-3-small, 768 for nomic-embed-text).
// Changing this value after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlSeniors,
		ddlMemories(embeddingDimensions),
		ddlReminders,
		ddlConversations,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
