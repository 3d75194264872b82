package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agewell-labs/donna/pkg/memory"
)

// ReminderStoreImpl is the PostgreSQL implementation of [memory.ReminderStore].
type ReminderStoreImpl struct {
	pool *pgxpool.Pool
}

const reminderColumns = `id, senior_id, type, title, description, scheduled_time, recurring, active, created_at`

// Get implements [memory.ReminderStore].
func (s *ReminderStoreImpl) Get(ctx context.Context, id string) (*memory.Reminder, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+reminderColumns+`
FROM reminders
WHERE id = $1`, id)

	var rem memory.Reminder
	err := scanReminder(row, &rem)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres reminders: get %s: %w", id, err)
	}
	return &rem, nil
}

// ListActive implements [memory.ReminderStore].
func (s *ReminderStoreImpl) ListActive(ctx context.Context) ([]memory.Reminder, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+reminderColumns+`
FROM reminders
WHERE active
ORDER BY scheduled_time`)
	if err != nil {
		return nil, fmt.Errorf("postgres reminders: list active: %w", err)
	}
	return collectReminders(rows)
}

// ListForSenior implements [memory.ReminderStore].
func (s *ReminderStoreImpl) ListForSenior(ctx context.Context, seniorID string) ([]memory.Reminder, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+reminderColumns+`
FROM reminders
WHERE senior_id = $1 AND active
ORDER BY scheduled_time`, seniorID)
	if err != nil {
		return nil, fmt.Errorf("postgres reminders: list for senior: %w", err)
	}
	return collectReminders(rows)
}

func collectReminders(rows pgx.Rows) ([]memory.Reminder, error) {
	reminders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Reminder, error) {
		var rem memory.Reminder
		err := scanReminder(row, &rem)
		return rem, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres reminders: collect rows: %w", err)
	}
	if reminders == nil {
		reminders = []memory.Reminder{}
	}
	return reminders, nil
}

func scanReminder(row pgx.Row, rem *memory.Reminder) error {
	var typ string
	if err := row.Scan(&rem.ID, &rem.SeniorID, &typ, &rem.Title, &rem.Description,
		&rem.ScheduledTime, &rem.Recurring, &rem.Active, &rem.CreatedAt); err != nil {
		return err
	}
	rem.Type = memory.ReminderType(typ)
	return nil
}
