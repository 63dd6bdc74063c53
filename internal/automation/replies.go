package automation

import (
	"context"
	"fmt"
	"time"

	"lead-nurture/internal/models"
	"lead-nurture/internal/notify"

	"github.com/rs/zerolog/log"
)

type ReplyLedger interface {
	ExecutionCounter
	MarkReplied(ctx context.Context, executionID uint, at time.Time) (*models.AutomationExecution, error)
}

type RuleGetter interface {
	StatsWriter
	Get(ctx context.Context, id uint) (*models.AutomationRule, error)
}

type ReplyNotifier interface {
	NotifyReply(ctx context.Context, event notify.ReplyEvent) error
}

// Replies records a lead's answer to an execution.
type Replies struct {
	ledger     ReplyLedger
	rules      RuleGetter
	activities ActivityAppender
	directory  AdminResolver
	notifier   ReplyNotifier
	stats      *Aggregator
}

func NewReplies(ledger ReplyLedger, rules RuleGetter, activities ActivityAppender, directory AdminResolver, notifier ReplyNotifier) *Replies {
	return &Replies{
		ledger:     ledger,
		rules:      rules,
		activities: activities,
		directory:  directory,
		notifier:   notifier,
		stats:      NewAggregator(ledger, rules),
	}
}

// MarkReplied flips the execution to replied, refreshes the rule's success
// rate and, if the rule asks for it, notifies the clinic. A second call for
// the same execution returns store.ErrAlreadyReplied.
func (r *Replies) MarkReplied(ctx context.Context, executionID uint, at time.Time) (*models.AutomationExecution, error) {
	exec, err := r.ledger.MarkReplied(ctx, executionID, at)
	if err != nil {
		return nil, err
	}
	logger := log.With().Uint("execution_id", exec.ID).Uint("rule_id", exec.AutomationID).Uint("lead_id", exec.LeadID).Logger()

	rule, err := r.rules.Get(ctx, exec.AutomationID)
	if err != nil {
		return exec, fmt.Errorf("load rule %d: %w", exec.AutomationID, err)
	}
	if _, _, err := r.stats.Recompute(ctx, rule.ID); err != nil {
		logger.Error().Err(err).Msg("Failed to recompute automation stats")
	}

	var adminID *uint
	if id, err := r.directory.FirstAdminUser(ctx, rule.ClinicID); err != nil {
		logger.Warn().Err(err).Msg("Could not resolve clinic admin, writing activity without actor")
	} else {
		adminID = id
	}
	activity := &models.Activity{
		ClinicID:    rule.ClinicID,
		UserID:      adminID,
		LeadID:      &exec.LeadID,
		Type:        models.ActivityAutomationReply,
		Description: fmt.Sprintf("Lead replied to automation %q", rule.Name),
	}
	if err := r.activities.Append(ctx, activity); err != nil {
		logger.Warn().Err(err).Msg("Failed to write reply activity")
	}

	if rule.NotifyOnReply && r.notifier != nil {
		event := notify.ReplyEvent{
			ExecutionID:    exec.ID,
			AutomationID:   rule.ID,
			AutomationName: rule.Name,
			LeadID:         exec.LeadID,
			ClinicID:       rule.ClinicID,
			RepliedAt:      *exec.RepliedAt,
		}
		if err := r.notifier.NotifyReply(ctx, event); err != nil {
			logger.Warn().Err(err).Msg("Reply notification failed")
		}
	}

	logger.Info().Msg("Automation reply recorded")
	return exec, nil
}
