package automation

import (
	"context"
	"time"

	"lead-nurture/internal/models"
)

const day = 24 * time.Hour

type LeadFinder interface {
	FindEligible(ctx context.Context, clinicID uint, status string, cutoff time.Time) ([]models.Lead, error)
}

type SuppressionChecker interface {
	LastExecutedAt(ctx context.Context, automationID, leadID uint) (*time.Time, error)
}

// Cutoff is the instant a lead must have been quiet since for a trigger day
// to apply.
func Cutoff(now time.Time, triggerDay int) time.Time {
	return now.Add(-time.Duration(triggerDay) * day)
}

// IsEligible decides whether rule should fire for lead at triggerDay.
// lastExecutedAt is the rule's most recent execution for the lead, if any.
//
// An execution anywhere in [cutoff, now] suppresses the lead, whichever
// trigger day produced it. The window is measured from the execution, not
// from the lead's last contact.
func IsEligible(rule *models.AutomationRule, lead *models.Lead, lastExecutedAt *time.Time, triggerDay int, now time.Time) bool {
	if triggerDay <= 0 || lead.ClinicID != rule.ClinicID || lead.Status != rule.TargetStatus {
		return false
	}
	cutoff := Cutoff(now, triggerDay)
	if lead.LastContactedAt != nil && lead.LastContactedAt.After(cutoff) {
		return false
	}
	if lastExecutedAt != nil && !lastExecutedAt.Before(cutoff) {
		return false
	}
	return true
}

// Evaluator computes the eligible lead set for one rule and trigger day
// against the stores. The lead query narrows the candidates; IsEligible has
// the final say. It never writes.
type Evaluator struct {
	leads  LeadFinder
	ledger SuppressionChecker
}

func NewEvaluator(leads LeadFinder, ledger SuppressionChecker) *Evaluator {
	return &Evaluator{leads: leads, ledger: ledger}
}

func (e *Evaluator) Eligible(ctx context.Context, rule *models.AutomationRule, triggerDay int, now time.Time) ([]models.Lead, error) {
	if triggerDay <= 0 {
		return nil, nil
	}
	cutoff := Cutoff(now, triggerDay)

	candidates, err := e.leads.FindEligible(ctx, rule.ClinicID, rule.TargetStatus, cutoff)
	if err != nil {
		return nil, err
	}

	eligible := candidates[:0]
	for _, lead := range candidates {
		lastExecutedAt, err := e.ledger.LastExecutedAt(ctx, rule.ID, lead.ID)
		if err != nil {
			return nil, err
		}
		if IsEligible(rule, &lead, lastExecutedAt, triggerDay, now) {
			eligible = append(eligible, lead)
		}
	}
	return eligible, nil
}
