package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lead-nurture/internal/models"
	"lead-nurture/internal/notify"
	"lead-nurture/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type RuleRepository interface {
	ListActive(ctx context.Context) ([]models.AutomationRule, error)
	StatsWriter
}

type ExecutionLedger interface {
	SuppressionChecker
	ExecutionCounter
	Record(ctx context.Context, rule *models.AutomationRule, leadID uint, cutoff, now time.Time) (*models.AutomationExecution, error)
}

type LeadRepository interface {
	LeadFinder
	ListClinics(ctx context.Context) ([]uint, error)
}

type ActivityAppender interface {
	Append(ctx context.Context, activity *models.Activity) error
}

type AdminResolver interface {
	FirstAdminUser(ctx context.Context, clinicID uint) (*uint, error)
}

type FollowUpFinder interface {
	Find(ctx context.Context, clinicID uint, now time.Time) ([]models.Lead, error)
}

type ExecutionPublisher interface {
	PublishExecution(ctx context.Context, event notify.ExecutionEvent) error
}

// Deps wires the engine to its stores.
type Deps struct {
	Rules      RuleRepository
	Leads      LeadRepository
	Ledger     ExecutionLedger
	Activities ActivityAppender
	Directory  AdminResolver
	FollowUps  FollowUpFinder
	Publisher  ExecutionPublisher

	// RuleTimeout bounds the processing of a single rule. Zero means no bound.
	RuleTimeout time.Duration
}

// Engine runs the re-engagement cycle and the follow-up sweep.
type Engine struct {
	rules       RuleRepository
	leads       LeadRepository
	ledger      ExecutionLedger
	activities  ActivityAppender
	directory   AdminResolver
	followUps   FollowUpFinder
	publisher   ExecutionPublisher
	evaluator   *Evaluator
	stats       *Aggregator
	ruleTimeout time.Duration
}

func NewEngine(d Deps) *Engine {
	publisher := d.Publisher
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &Engine{
		rules:       d.Rules,
		leads:       d.Leads,
		ledger:      d.Ledger,
		activities:  d.Activities,
		directory:   d.Directory,
		followUps:   d.FollowUps,
		publisher:   publisher,
		evaluator:   NewEvaluator(d.Leads, d.Ledger),
		stats:       NewAggregator(d.Ledger, d.Rules),
		ruleTimeout: d.RuleTimeout,
	}
}

// CycleResult summarises one re-engagement cycle.
type CycleResult struct {
	RunID      string `json:"run_id"`
	Rules      int    `json:"rules"`
	Executions int    `json:"executions"`
	Failures   int    `json:"failures"`
	Skipped    int    `json:"skipped"`
}

// RunCycle evaluates every active rule at now. A rule that fails is logged
// and counted; the remaining rules still run. Cancelling ctx stops the cycle
// between rules, never inside one.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) (CycleResult, error) {
	res := CycleResult{RunID: uuid.NewString()}
	logger := log.With().Str("run_id", res.RunID).Str("sweep", "automation").Logger()

	rules, err := e.rules.ListActive(ctx)
	if err != nil {
		return res, err
	}
	res.Rules = len(rules)
	logger.Info().Int("rules", len(rules)).Time("now", now).Msg("Automation cycle started")

	for i := range rules {
		if err := ctx.Err(); err != nil {
			res.Skipped = len(rules) - i
			logger.Warn().Err(err).Int("skipped", res.Skipped).Msg("Automation cycle stopped before all rules ran")
			break
		}

		rule := &rules[i]
		ruleLog := logger.With().Uint("rule_id", rule.ID).Uint("clinic_id", rule.ClinicID).Logger()

		fired, err := e.runRule(ctx, rule, now, ruleLog)
		res.Executions += fired
		if err != nil {
			res.Failures++
			ruleLog.Error().Err(err).Int("executions", fired).Msg("Automation rule failed")
			continue
		}
		ruleLog.Debug().Int("executions", fired).Msg("Automation rule processed")
	}

	logger.Info().
		Int("executions", res.Executions).
		Int("failures", res.Failures).
		Msg("Automation cycle finished")
	return res, nil
}

// runRule processes one rule detached from the cycle's cancellation so a
// rule is never abandoned half way.
func (e *Engine) runRule(ctx context.Context, rule *models.AutomationRule, now time.Time, logger zerolog.Logger) (fired int, err error) {
	ruleCtx := context.WithoutCancel(ctx)
	if e.ruleTimeout > 0 {
		var cancel context.CancelFunc
		ruleCtx, cancel = context.WithTimeout(ruleCtx, e.ruleTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing rule %d: %v", rule.ID, r)
		}
	}()

	return e.processRule(ruleCtx, rule, now, logger)
}

func (e *Engine) processRule(ctx context.Context, rule *models.AutomationRule, now time.Time, logger zerolog.Logger) (int, error) {
	fired := 0
	for _, triggerDay := range rule.TriggerDays {
		if triggerDay <= 0 {
			logger.Warn().Int("trigger_day", triggerDay).Msg("Ignoring non-positive trigger day")
			continue
		}
		cutoff := Cutoff(now, triggerDay)

		leads, err := e.evaluator.Eligible(ctx, rule, triggerDay, now)
		if err != nil {
			return fired, err
		}

		for i := range leads {
			lead := &leads[i]
			exec, err := e.ledger.Record(ctx, rule, lead.ID, cutoff, now)
			if errors.Is(err, store.ErrSuppressed) {
				logger.Debug().Uint("lead_id", lead.ID).Int("trigger_day", triggerDay).Msg("Execution already recorded, skipping")
				continue
			}
			if err != nil {
				return fired, err
			}
			fired++
			e.afterExecution(ctx, rule, lead, exec, triggerDay, logger)
		}
	}

	if _, _, err := e.stats.Recompute(ctx, rule.ID); err != nil {
		return fired, err
	}
	return fired, nil
}

// afterExecution writes the audit entry and hands the execution to the
// transport. Failures here are logged; the execution stands.
func (e *Engine) afterExecution(ctx context.Context, rule *models.AutomationRule, lead *models.Lead, exec *models.AutomationExecution, triggerDay int, logger zerolog.Logger) {
	leadLog := logger.With().Uint("lead_id", lead.ID).Uint("execution_id", exec.ID).Logger()

	if strings.Contains(exec.Message, "{") {
		// Personalisation placeholders are stored verbatim.
		leadLog.Debug().Strs("fields", rule.PersonalizationFields).Msg("Execution message stored without placeholder substitution")
	}

	activity := &models.Activity{
		ClinicID:    rule.ClinicID,
		UserID:      e.resolveAdmin(ctx, rule.ClinicID, leadLog),
		LeadID:      &lead.ID,
		Type:        models.ActivityAutomationExecuted,
		Description: fmt.Sprintf("Automation %q sent to %s after %d days without contact", rule.Name, leadLabel(lead), triggerDay),
	}
	if err := e.activities.Append(ctx, activity); err != nil {
		leadLog.Warn().Err(err).Msg("Failed to write automation activity")
	}

	event := notify.ExecutionEvent{
		EventID:      uuid.NewString(),
		ExecutionID:  exec.ID,
		AutomationID: rule.ID,
		LeadID:       lead.ID,
		ClinicID:     rule.ClinicID,
		TriggerDay:   triggerDay,
		Message:      exec.Message,
		ExecutedAt:   exec.ExecutedAt,
	}
	if err := e.publisher.PublishExecution(ctx, event); err != nil {
		leadLog.Warn().Err(err).Msg("Failed to publish execution event")
	}

	leadLog.Info().Int("trigger_day", triggerDay).Msg("Automation executed")
}

// resolveAdmin returns the clinic's first admin, or nil when there is none or
// the lookup fails.
func (e *Engine) resolveAdmin(ctx context.Context, clinicID uint, logger zerolog.Logger) *uint {
	adminID, err := e.directory.FirstAdminUser(ctx, clinicID)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not resolve clinic admin, writing activity without actor")
		return nil
	}
	if adminID == nil {
		logger.Debug().Msg("Clinic has no admin user, writing activity without actor")
	}
	return adminID
}

func leadLabel(lead *models.Lead) string {
	if lead.Name != "" {
		return lead.Name
	}
	return fmt.Sprintf("lead #%d", lead.ID)
}
