package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/agewell-labs/donna/pkg/memory"
)

// Compile-time interface checks. Each concern gets its own sub-type so the
// rest of the system can depend on the narrow interfaces from pkg/memory.
var (
	_ memory.MemoryStore       = (*MemoryStoreImpl)(nil)
	_ memory.SeniorStore       = (*SeniorStoreImpl)(nil)
	_ memory.ReminderStore     = (*ReminderStoreImpl)(nil)
	_ memory.DeliveryStore     = (*DeliveryStoreImpl)(nil)
	_ memory.DailyContextStore = (*DailyContextStoreImpl)(nil)
	_ memory.ConversationStore = (*ConversationStoreImpl)(nil)
	_ memory.AnalysisStore     = (*AnalysisStoreImpl)(nil)
)

// Store is the central PostgreSQL-backed persistence layer for donna. It holds
// a single [pgxpool.Pool] and exposes one sub-store per memory-layer concern:
//
//   - [Store.Memories] implements [memory.MemoryStore]
//   - [Store.Seniors] implements [memory.SeniorStore]
//   - [Store.Reminders] implements [memory.ReminderStore]
//   - [Store.Deliveries] implements [memory.DeliveryStore]
//   - [Store.DailyContext] implements [memory.DailyContextStore]
//   - [Store.Conversations] implements [memory.ConversationStore]
//   - [Store.Analyses] implements [memory.AnalysisStore]
//
// All operations are safe for concurrent use.
type Store struct {
	pool          *pgxpool.Pool
	memories      *MemoryStoreImpl
	seniors       *SeniorStoreImpl
	reminders     *ReminderStoreImpl
	deliveries    *DeliveryStoreImpl
	daily         *DailyContextStoreImpl
	conversations *ConversationStoreImpl
	analyses      *AnalysisStoreImpl
}

// NewStore connects to the PostgreSQL database at dsn and returns a Store
// ready for use: pgvector codecs registered on every connection and the
// schema migrated via [Migrate].
//
// embeddingDimensions must match the output dimension of the embedding model
// producing [memory.Record.Embedding] values (1536 for OpenAI
// text-embedding-3-small). Changing it after the first migration requires a
// manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	// Vector columns scan into and insert from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := readyPool(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, err
	}
	return newStoreFromPool(pool), nil
}

// readyPool verifies connectivity and brings the schema up to date.
func readyPool(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, dims); err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	return nil
}

// newStoreFromPool wires every sub-store onto the shared pool.
func newStoreFromPool(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:          pool,
		memories:      &MemoryStoreImpl{pool: pool},
		seniors:       &SeniorStoreImpl{pool: pool},
		reminders:     &ReminderStoreImpl{pool: pool},
		deliveries:    &DeliveryStoreImpl{pool: pool},
		daily:         &DailyContextStoreImpl{pool: pool},
		conversations: &ConversationStoreImpl{pool: pool},
		analyses:      &AnalysisStoreImpl{pool: pool},
	}
}

// Memories returns the long-term memory implementation which satisfies [memory.MemoryStore].
func (s *Store) Memories() *MemoryStoreImpl { return s.memories }

// Seniors returns the profile reader which satisfies [memory.SeniorStore].
func (s *Store) Seniors() *SeniorStoreImpl { return s.seniors }

// Reminders returns the reminder reader which satisfies [memory.ReminderStore].
func (s *Store) Reminders() *ReminderStoreImpl { return s.reminders }

// Deliveries returns the delivery lifecycle implementation which satisfies [memory.DeliveryStore].
func (s *Store) Deliveries() *DeliveryStoreImpl { return s.deliveries }

// DailyContext returns the daily-context implementation which satisfies [memory.DailyContextStore].
func (s *Store) DailyContext() *DailyContextStoreImpl { return s.daily }

// Conversations returns the conversation record implementation which satisfies [memory.ConversationStore].
func (s *Store) Conversations() *ConversationStoreImpl { return s.conversations }

// Analyses returns the post-call analysis implementation which satisfies [memory.AnalysisStore].
func (s *Store) Analyses() *AnalysisStoreImpl { return s.analyses }

// Ping verifies the database is reachable. Readiness checks call it.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases every connection in the pool. Call it once the Store is no
// longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}
