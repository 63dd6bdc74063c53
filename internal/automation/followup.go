package automation

import (
	"context"
	"fmt"
	"time"

	"lead-nurture/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type FollowUpResult struct {
	RunID    string `json:"run_id"`
	Clinics  int    `json:"clinics"`
	Flagged  int    `json:"flagged"`
	Failures int    `json:"failures"`
}

// RunFollowUpSweep writes a FOLLOW_UP_NEEDED activity for every lead the
// follow-up query returns, clinic by clinic. It records no executions.
func (e *Engine) RunFollowUpSweep(ctx context.Context, now time.Time) (FollowUpResult, error) {
	res := FollowUpResult{RunID: uuid.NewString()}
	logger := log.With().Str("run_id", res.RunID).Str("sweep", "follow_up").Logger()

	clinics, err := e.leads.ListClinics(ctx)
	if err != nil {
		return res, err
	}
	res.Clinics = len(clinics)

	for _, clinicID := range clinics {
		if ctx.Err() != nil {
			break
		}
		clinicLog := logger.With().Uint("clinic_id", clinicID).Logger()

		leads, err := e.followUps.Find(ctx, clinicID, now)
		if err != nil {
			res.Failures++
			clinicLog.Error().Err(err).Msg("Follow-up query failed")
			continue
		}
		if len(leads) == 0 {
			continue
		}

		adminID := e.resolveAdmin(ctx, clinicID, clinicLog)
		for i := range leads {
			lead := &leads[i]
			activity := &models.Activity{
				ClinicID:    clinicID,
				UserID:      adminID,
				LeadID:      &lead.ID,
				Type:        models.ActivityFollowUpNeeded,
				Description: fmt.Sprintf("%s has not been contacted since %s", leadLabel(lead), lead.LastContactedAt.UTC().Format("2006-01-02")),
			}
			if err := e.activities.Append(ctx, activity); err != nil {
				res.Failures++
				clinicLog.Warn().Err(err).Uint("lead_id", lead.ID).Msg("Failed to write follow-up activity")
				continue
			}
			res.Flagged++
		}
	}

	logger.Info().Int("clinics", res.Clinics).Int("flagged", res.Flagged).Msg("Follow-up sweep finished")
	return res, nil
}
