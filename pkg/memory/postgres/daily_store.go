package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agewell-labs/donna/pkg/memory"
)

// DailyContextStoreImpl is the PostgreSQL implementation of
// [memory.DailyContextStore]. Each call appends its own row; aggregation and
// deduplication happen on read, so concurrent post-call writers never
// contend on a shared row.
type DailyContextStoreImpl struct {
	pool *pgxpool.Pool
}

// AppendCall implements [memory.DailyContextStore].
func (s *DailyContextStoreImpl) AppendCall(ctx context.Context, entry memory.DailyEntry) error {
	if entry.SeniorID == "" || entry.Day == "" || entry.CallID == "" {
		return fmt.Errorf("postgres daily context: append: senior id, day, and call id are required")
	}

	if _, err := s.pool.Exec(ctx, `
INSERT INTO daily_call_context (senior_id, day, call_id, topics, reminders_delivered,
                                advice_given, key_moments, summary)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.SeniorID, entry.Day, entry.CallID,
		textArray(entry.Topics), textArray(entry.RemindersDelivered),
		textArray(entry.AdviceGiven), textArray(entry.KeyMoments),
		entry.Summary); err != nil {
		return fmt.Errorf("postgres daily context: insert: %w", err)
	}
	return nil
}

// Today implements [memory.DailyContextStore].
func (s *DailyContextStoreImpl) Today(ctx context.Context, seniorID, day string) (*memory.DailyContext, error) {
	rows, err := s.pool.Query(ctx, `
SELECT topics, reminders_delivered, advice_given, key_moments, summary
FROM daily_call_context
WHERE senior_id = $1 AND day = $2
ORDER BY created_at`, seniorID, day)
	if err != nil {
		return nil, fmt.Errorf("postgres daily context: today: %w", err)
	}

	type entry struct {
		topics    []string
		reminders []string
		advice    []string
		moments   []string
		summary   string
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entry, error) {
		var e entry
		err := row.Scan(&e.topics, &e.reminders, &e.advice, &e.moments, &e.summary)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres daily context: collect rows: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	agg := &memory.DailyContext{
		SeniorID:           seniorID,
		Day:                day,
		CallCount:          len(entries),
		Topics:             []string{},
		RemindersDelivered: []string{},
		AdviceGiven:        []string{},
		KeyMoments:         []string{},
		Summaries:          []string{},
	}
	seenTopics := map[string]struct{}{}
	seenReminders := map[string]struct{}{}
	seenAdvice := map[string]struct{}{}
	seenMoments := map[string]struct{}{}
	for _, e := range entries {
		agg.Topics = appendUnique(agg.Topics, seenTopics, e.topics)
		agg.RemindersDelivered = appendUnique(agg.RemindersDelivered, seenReminders, e.reminders)
		agg.AdviceGiven = appendUnique(agg.AdviceGiven, seenAdvice, e.advice)
		agg.KeyMoments = appendUnique(agg.KeyMoments, seenMoments, e.moments)
		if s := strings.TrimSpace(e.summary); s != "" {
			agg.Summaries = append(agg.Summaries, s)
		}
	}
	return agg, nil
}

// appendUnique adds items to dst in first-seen order, deduplicating
// case-insensitively after trimming. The first spelling seen wins.
func appendUnique(dst []string, seen map[string]struct{}, items []string) []string {
	for _, it := range items {
		trimmed := strings.TrimSpace(it)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		dst = append(dst, trimmed)
	}
	return dst
}

// textArray normalizes a nil slice to an empty one so NOT NULL array columns
// accept it.
func textArray(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
