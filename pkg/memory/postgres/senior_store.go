package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agewell-labs/donna/pkg/memory"
)

// SeniorStoreImpl is the PostgreSQL implementation of [memory.SeniorStore].
type SeniorStoreImpl struct {
	pool *pgxpool.Pool
}

const seniorColumns = `id, first_name, phone, timezone, interests, medical_notes, family, created_at`

// Get implements [memory.SeniorStore].
func (s *SeniorStoreImpl) Get(ctx context.Context, id string) (*memory.Senior, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+seniorColumns+`
FROM seniors
WHERE id = $1`, id)

	sen, err := scanSenior(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres seniors: get %s: %w", id, err)
	}
	return sen, nil
}

// ByPhone implements [memory.SeniorStore]. Both sides are reduced to their
// last ten digits, so stored E.164 numbers match however the carrier formats
// the caller ID. The comparison expression matches the idx_seniors_phone_digits
// index.
func (s *SeniorStoreImpl) ByPhone(ctx context.Context, phone string) (*memory.Senior, error) {
	digits := memory.NormalizePhone(phone)
	if digits == "" {
		return nil, nil
	}

	row := s.pool.QueryRow(ctx, `
SELECT `+seniorColumns+`
FROM seniors
WHERE right(regexp_replace(phone, '\D', '', 'g'), 10) = $1
LIMIT 1`, digits)

	sen, err := scanSenior(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres seniors: by phone: %w", err)
	}
	return sen, nil
}

func scanSenior(row pgx.Row) (*memory.Senior, error) {
	var sen memory.Senior
	if err := row.Scan(&sen.ID, &sen.FirstName, &sen.Phone, &sen.Timezone,
		&sen.Interests, &sen.MedicalNotes, &sen.Family, &sen.CreatedAt); err != nil {
		return nil, err
	}
	if sen.Interests == nil {
		sen.Interests = []string{}
	}
	if sen.Family == nil {
		sen.Family = []string{}
	}
	return &sen, nil
}
