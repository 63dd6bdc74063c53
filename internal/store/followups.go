package store

import (
	"context"
	"fmt"
	"time"

	"lead-nurture/internal/models"

	"github.com/jmoiron/sqlx"
)

// FollowUpAge is how long a lead may go without contact before it needs a
// follow-up.
const FollowUpAge = 3 * 24 * time.Hour

const followUpQuery = `
SELECT l.id, l.clinic_id, l.name, l.phone, l.email, l.status,
       l.last_contacted_at, l.created_at, l.updated_at
FROM leads l
WHERE l.clinic_id = ?
  AND l.status NOT IN (?)
  AND l.last_contacted_at < ?
  AND EXISTS (
      SELECT 1 FROM messages m
      WHERE m.lead_id = l.id AND m.direction = ?
  )
ORDER BY l.last_contacted_at, l.id`

// FollowUps finds leads that wrote to the clinic but have gone quiet.
type FollowUps struct {
	db *sqlx.DB
}

func NewFollowUps(db *sqlx.DB) *FollowUps {
	return &FollowUps{db: db}
}

// Find returns the clinic's non-terminal leads last contacted more than
// FollowUpAge before now that have at least one inbound message. Leads never
// contacted are not returned.
func (f *FollowUps) Find(ctx context.Context, clinicID uint, now time.Time) ([]models.Lead, error) {
	cutoff := now.Add(-FollowUpAge).UTC()

	query, args, err := sqlx.In(followUpQuery, clinicID, models.TerminalStatuses, cutoff, models.DirectionInbound)
	if err != nil {
		return nil, err
	}

	leads := []models.Lead{}
	if err := f.db.SelectContext(ctx, &leads, f.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("find follow-ups for clinic %d: %w", clinicID, err)
	}
	return leads, nil
}
