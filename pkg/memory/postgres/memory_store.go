package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/agewell-labs/donna/pkg/memory"
)

// Default result caps applied when the caller passes 0.
const (
	defaultSearchLimit     = 5
	defaultCriticalLimit   = 3
	defaultBackgroundLimit = 5
)

// MemoryStoreImpl is the PostgreSQL/pgvector implementation of
// [memory.MemoryStore]. Vector similarity uses the pgvector cosine distance
// operator (<=>); similarity is computed as 1 - distance.
type MemoryStoreImpl struct {
	pool *pgxpool.Pool
}

const memoryColumns = `id, senior_id, type, content, embedding, importance,
       created_at, last_accessed_at, access_count, source_call_id`

// Remember implements [memory.MemoryStore]. The dedup probe and the insert
// are separate statements; a concurrent duplicate write can slip between
// them, which is acceptable; the loser is folded in on a later write.
func (s *MemoryStoreImpl) Remember(ctx context.Context, rec memory.Record) (bool, error) {
	if rec.ID == "" || rec.SeniorID == "" || rec.Content == "" || len(rec.Embedding) == 0 {
		return false, fmt.Errorf("postgres memories: remember: id, senior id, content, and embedding are required")
	}
	vec := pgvector.NewVector(rec.Embedding)

	// The nearest existing memory of this senior decides whether the write
	// is a duplicate.
	var dupID string
	var dupImportance float64
	err := s.pool.QueryRow(ctx, `
SELECT id, importance
FROM memories
WHERE senior_id = $1 AND 1 - (embedding <=> $2) >= $3
ORDER BY embedding <=> $2
LIMIT 1`, rec.SeniorID, vec, memory.DedupThreshold).Scan(&dupID, &dupImportance)

	switch {
	case err == nil:
		// Duplicate. Keep the stronger importance; otherwise the write is
		// dropped entirely.
		if rec.Importance > dupImportance {
			if _, err := s.pool.Exec(ctx, `
UPDATE memories SET importance = $2, last_accessed_at = now() WHERE id = $1`, dupID, rec.Importance); err != nil {
				return false, fmt.Errorf("postgres memories: refresh duplicate: %w", err)
			}
		}
		return false, nil
	case errors.Is(err, pgx.ErrNoRows):
		// No duplicate; fall through to insert.
	default:
		return false, fmt.Errorf("postgres memories: dedup probe: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var lastAccessed *time.Time
	if !rec.LastAccessedAt.IsZero() {
		t := rec.LastAccessedAt
		lastAccessed = &t
	}

	if _, err := s.pool.Exec(ctx, `
INSERT INTO memories (id, senior_id, type, content, embedding, importance,
                      created_at, last_accessed_at, access_count, source_call_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.SeniorID, string(rec.Type), rec.Content, vec, rec.Importance,
		createdAt, lastAccessed, rec.AccessCount, rec.SourceCallID); err != nil {
		return false, fmt.Errorf("postgres memories: insert: %w", err)
	}
	return true, nil
}

// Search implements [memory.MemoryStore]. Returned records carry the values
// read before the touch, so access counts reflect state at query time.
func (s *MemoryStoreImpl) Search(ctx context.Context, seniorID string, embedding []float32, topK int, minSimilarity float64) ([]memory.SearchResult, error) {
	if topK <= 0 {
		topK = defaultSearchLimit
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.pool.Query(ctx, `
SELECT `+memoryColumns+`,
       1 - (embedding <=> $2) AS similarity
FROM memories
WHERE senior_id = $1 AND 1 - (embedding <=> $2) >= $3
ORDER BY embedding <=> $2
LIMIT $4`, seniorID, vec, minSimilarity, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres memories: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.SearchResult, error) {
		var res memory.SearchResult
		rec, err := scanMemory(row, &res.Similarity)
		if err != nil {
			return res, err
		}
		res.Record = rec
		return res, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres memories: collect search results: %w", err)
	}
	if len(results) == 0 {
		return []memory.SearchResult{}, nil
	}

	// Touch on read: surfaced memories count as accessed, which feeds the
	// recency boost in effective-importance ranking.
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Record.ID
	}
	if _, err := s.pool.Exec(ctx, `
UPDATE memories SET last_accessed_at = now(), access_count = access_count + 1
WHERE id = ANY($1::text[])`, ids); err != nil {
		return nil, fmt.Errorf("postgres memories: touch on read: %w", err)
	}

	return results, nil
}

// Critical implements [memory.MemoryStore].
func (s *MemoryStoreImpl) Critical(ctx context.Context, seniorID string, limit int) ([]memory.Record, error) {
	if limit <= 0 {
		limit = defaultCriticalLimit
	}

	rows, err := s.pool.Query(ctx, `
SELECT `+memoryColumns+`
FROM memories
WHERE senior_id = $1 AND (type = $2 OR importance >= $3)
ORDER BY importance DESC, created_at DESC
LIMIT $4`, seniorID, string(memory.MemoryConcern), float64(memory.CriticalImportance), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres memories: critical: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Record, error) {
		return scanMemory(row, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres memories: collect critical: %w", err)
	}
	if records == nil {
		records = []memory.Record{}
	}
	return records, nil
}

// Background implements [memory.MemoryStore]. Effective importance is
// computed in SQL with the same decay curve as
// [memory.Record.EffectiveImportance]: a 30-day half-life on the stored
// importance plus up to 10 points of access-count boost for memories
// accessed within the last 7 days.
func (s *MemoryStoreImpl) Background(ctx context.Context, seniorID string, minEffective float64, limit int) ([]memory.Record, error) {
	if limit <= 0 {
		limit = defaultBackgroundLimit
	}

	rows, err := s.pool.Query(ctx, `
SELECT `+memoryColumns+`, effective
FROM (
    SELECT `+memoryColumns+`,
           importance * power(0.5, EXTRACT(EPOCH FROM (now() - created_at)) / 86400.0 / 30.0)
           + CASE WHEN last_accessed_at > now() - interval '7 days'
                  THEN LEAST(access_count, 10)
                  ELSE 0 END AS effective
    FROM memories
    WHERE senior_id = $1
) scored
WHERE effective >= $2
ORDER BY effective DESC
LIMIT $3`, seniorID, minEffective, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres memories: background: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Record, error) {
		var effective float64
		return scanMemory(row, &effective)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres memories: collect background: %w", err)
	}
	if records == nil {
		records = []memory.Record{}
	}
	return records, nil
}

// scanMemory scans one memories row. When extra is non-nil it receives the
// trailing computed column (similarity or effective importance).
func scanMemory(row pgx.Row, extra *float64) (memory.Record, error) {
	var rec memory.Record
	var typ string
	var vec pgvector.Vector
	var lastAccessed *time.Time

	dest := []any{
		&rec.ID, &rec.SeniorID, &typ, &rec.Content, &vec, &rec.Importance,
		&rec.CreatedAt, &lastAccessed, &rec.AccessCount, &rec.SourceCallID,
	}
	if extra != nil {
		dest = append(dest, extra)
	}
	if err := row.Scan(dest...); err != nil {
		return rec, err
	}

	rec.Type = memory.MemoryType(typ)
	rec.Embedding = vec.Slice()
	if lastAccessed != nil {
		rec.LastAccessedAt = *lastAccessed
	}
	return rec, nil
}
