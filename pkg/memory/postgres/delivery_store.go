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

// DeliveryStoreImpl is the PostgreSQL implementation of [memory.DeliveryStore].
// State-machine guards are enforced in the UPDATE predicates themselves, so
// concurrent transitions cannot race a delivery out of a terminal state.
type DeliveryStoreImpl struct {
	pool *pgxpool.Pool
}

const deliveryColumns = `id, reminder_id, senior_id, scheduled_for, call_id, status,
       attempt_count, user_response, delivered_at, created_at, updated_at`

// Create implements [memory.DeliveryStore].
func (s *DeliveryStoreImpl) Create(ctx context.Context, d memory.Delivery) error {
	if d.ID == "" || d.ReminderID == "" || d.SeniorID == "" || d.ScheduledFor.IsZero() {
		return fmt.Errorf("postgres deliveries: create: id, reminder id, senior id, and scheduled-for are required")
	}
	if d.Status == "" {
		d.Status = memory.DeliveryDelivered
	}
	if d.AttemptCount == 0 {
		d.AttemptCount = 1
	}
	if d.DeliveredAt.IsZero() {
		d.DeliveredAt = time.Now()
	}

	if _, err := s.pool.Exec(ctx, `
INSERT INTO reminder_deliveries (id, reminder_id, senior_id, scheduled_for, call_id,
                                 status, attempt_count, user_response, delivered_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.ReminderID, d.SeniorID, d.ScheduledFor, d.CallID,
		string(d.Status), d.AttemptCount, d.UserResponse, d.DeliveredAt); err != nil {
		return fmt.Errorf("postgres deliveries: insert: %w", err)
	}
	return nil
}

// Get implements [memory.DeliveryStore].
func (s *DeliveryStoreImpl) Get(ctx context.Context, id string) (*memory.Delivery, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+deliveryColumns+`
FROM reminder_deliveries
WHERE id = $1`, id)

	var d memory.Delivery
	err := scanDelivery(row, &d)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres deliveries: get %s: %w", id, err)
	}
	return &d, nil
}

// ForInstance implements [memory.DeliveryStore]. scheduledFor must be the
// exact instant recorded at Create; the scheduler derives both from the same
// minute-truncated occurrence time.
func (s *DeliveryStoreImpl) ForInstance(ctx context.Context, reminderID string, scheduledFor time.Time) ([]memory.Delivery, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+deliveryColumns+`
FROM reminder_deliveries
WHERE reminder_id = $1 AND scheduled_for = $2
ORDER BY updated_at DESC`, reminderID, scheduledFor)
	if err != nil {
		return nil, fmt.Errorf("postgres deliveries: for instance: %w", err)
	}
	return collectDeliveries(rows)
}

// Transition implements [memory.DeliveryStore]. The guard lives in the WHERE
// clause: terminal rows match nothing and the update reports failure.
func (s *DeliveryStoreImpl) Transition(ctx context.Context, id string, to memory.DeliveryStatus, userResponse string) error {
	switch to {
	case memory.DeliveryAcknowledged, memory.DeliveryConfirmed, memory.DeliveryRetryPending, memory.DeliveryMaxAttempts:
	case memory.DeliveryDelivered:
		return fmt.Errorf("postgres deliveries: transition %s: use Redeliver to return to %q", id, to)
	default:
		return fmt.Errorf("postgres deliveries: transition %s: unknown status %q", id, to)
	}

	tag, err := s.pool.Exec(ctx, `
UPDATE reminder_deliveries
SET status = $2,
    user_response = CASE WHEN $3 = '' THEN user_response ELSE $3 END,
    updated_at = now()
WHERE id = $1
  AND status NOT IN ($4, $5, $6)`,
		id, string(to), userResponse,
		string(memory.DeliveryAcknowledged), string(memory.DeliveryConfirmed), string(memory.DeliveryMaxAttempts))
	if err != nil {
		return fmt.Errorf("postgres deliveries: transition %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres deliveries: transition %s to %s: delivery missing or already terminal", id, to)
	}
	return nil
}

// Redeliver implements [memory.DeliveryStore].
func (s *DeliveryStoreImpl) Redeliver(ctx context.Context, id, callID string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE reminder_deliveries
SET status = $3,
    call_id = $2,
    attempt_count = attempt_count + 1,
    delivered_at = now(),
    updated_at = now()
WHERE id = $1 AND status = $4`,
		id, callID, string(memory.DeliveryDelivered), string(memory.DeliveryRetryPending))
	if err != nil {
		return fmt.Errorf("postgres deliveries: redeliver %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres deliveries: redeliver %s: delivery missing or not retry-pending", id)
	}
	return nil
}

// PendingForCall implements [memory.DeliveryStore].
func (s *DeliveryStoreImpl) PendingForCall(ctx context.Context, callID string) ([]memory.Delivery, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+deliveryColumns+`
FROM reminder_deliveries
WHERE call_id = $1 AND status = $2
ORDER BY created_at`, callID, string(memory.DeliveryDelivered))
	if err != nil {
		return nil, fmt.Errorf("postgres deliveries: pending for call: %w", err)
	}
	return collectDeliveries(rows)
}

// StaleRetries implements [memory.DeliveryStore].
func (s *DeliveryStoreImpl) StaleRetries(ctx context.Context, olderThan time.Time) ([]memory.Delivery, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+deliveryColumns+`
FROM reminder_deliveries
WHERE status = $1 AND updated_at < $2
ORDER BY updated_at`, string(memory.DeliveryRetryPending), olderThan)
	if err != nil {
		return nil, fmt.Errorf("postgres deliveries: stale retries: %w", err)
	}
	return collectDeliveries(rows)
}

func collectDeliveries(rows pgx.Rows) ([]memory.Delivery, error) {
	deliveries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Delivery, error) {
		var d memory.Delivery
		err := scanDelivery(row, &d)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres deliveries: collect rows: %w", err)
	}
	if deliveries == nil {
		deliveries = []memory.Delivery{}
	}
	return deliveries, nil
}

func scanDelivery(row pgx.Row, d *memory.Delivery) error {
	var status string
	if err := row.Scan(&d.ID, &d.ReminderID, &d.SeniorID, &d.ScheduledFor, &d.CallID, &status,
		&d.AttemptCount, &d.UserResponse, &d.DeliveredAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return err
	}
	d.Status = memory.DeliveryStatus(status)
	return nil
}
