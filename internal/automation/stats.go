package automation

import (
	"context"
	"fmt"

	"lead-nurture/internal/store"
)

type ExecutionCounter interface {
	CountsFor(ctx context.Context, automationID uint) (store.ExecutionCounts, error)
}

type StatsWriter interface {
	SaveStats(ctx context.Context, id uint, counts store.ExecutionCounts, rate *float64) error
}

// SuccessRate is replies as a percentage of executions, nil when nothing has
// been executed.
func SuccessRate(total, replies int64) *float64 {
	if total == 0 {
		return nil
	}
	rate := float64(replies) / float64(total) * 100
	return &rate
}

// Aggregator rebuilds a rule's statistics from the execution ledger.
type Aggregator struct {
	ledger ExecutionCounter
	rules  StatsWriter
}

func NewAggregator(ledger ExecutionCounter, rules StatsWriter) *Aggregator {
	return &Aggregator{ledger: ledger, rules: rules}
}

func (a *Aggregator) Recompute(ctx context.Context, ruleID uint) (store.ExecutionCounts, *float64, error) {
	counts, err := a.ledger.CountsFor(ctx, ruleID)
	if err != nil {
		return counts, nil, err
	}
	rate := SuccessRate(counts.Total, counts.Replies)
	if err := a.rules.SaveStats(ctx, ruleID, counts, rate); err != nil {
		return counts, nil, fmt.Errorf("save stats for rule %d: %w", ruleID, err)
	}
	return counts, rate, nil
}
