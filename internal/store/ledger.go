package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lead-nurture/internal/models"

	"gorm.io/gorm"
)

// ExecutionCounts are a rule's ledger totals.
type ExecutionCounts struct {
	Total   int64
	Replies int64
}

// Ledger is the append-only record of automation executions.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WindowKey buckets an execution instant to the hour. Two executions for the
// same rule and lead never share a bucket.
func WindowKey(at time.Time) string {
	return at.UTC().Truncate(time.Hour).Format("2006-01-02T15")
}

// LastExecutedAt returns when the rule last fired for the lead, or nil if it
// never has.
func (l *Ledger) LastExecutedAt(ctx context.Context, automationID, leadID uint) (*time.Time, error) {
	var execs []models.AutomationExecution
	err := l.db.WithContext(ctx).
		Select("executed_at").
		Where("automation_id = ? AND lead_id = ?", automationID, leadID).
		Order("executed_at DESC").
		Limit(1).
		Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("last execution for rule %d lead %d: %w", automationID, leadID, err)
	}
	if len(execs) == 0 {
		return nil, nil
	}
	at := execs[0].ExecutedAt.UTC()
	return &at, nil
}

func existsSince(tx *gorm.DB, automationID, leadID uint, since time.Time) (bool, error) {
	var n int64
	err := tx.Model(&models.AutomationExecution{}).
		Where("automation_id = ? AND lead_id = ? AND executed_at >= ?", automationID, leadID, since.UTC()).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check executions for rule %d lead %d: %w", automationID, leadID, err)
	}
	return n > 0, nil
}

// Record re-checks the suppression window and appends an execution in a
// single transaction, bumping the rule's execution counter. It returns
// ErrSuppressed when an execution at or after cutoff already exists.
func (l *Ledger) Record(ctx context.Context, rule *models.AutomationRule, leadID uint, cutoff, now time.Time) (*models.AutomationExecution, error) {
	exec := &models.AutomationExecution{
		AutomationID: rule.ID,
		LeadID:       leadID,
		ExecutedAt:   now.UTC(),
		WindowKey:    WindowKey(now),
		Message:      rule.Message,
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := existsSince(tx, rule.ID, leadID, cutoff)
		if err != nil {
			return err
		}
		if found {
			return ErrSuppressed
		}
		if err := tx.Create(exec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrSuppressed
			}
			return fmt.Errorf("insert execution: %w", err)
		}
		return incrementExecutions(tx, rule.ID, now)
	}, l.txOptions())
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// MarkReplied flips an execution to replied exactly once and bumps the rule's
// reply counter.
func (l *Ledger) MarkReplied(ctx context.Context, executionID uint, at time.Time) (*models.AutomationExecution, error) {
	at = at.UTC()
	var exec models.AutomationExecution

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.AutomationExecution{}).
			Where("id = ? AND replied = ?", executionID, false).
			Updates(map[string]interface{}{"replied": true, "replied_at": at})
		if res.Error != nil {
			return res.Error
		}
		if err := tx.First(&exec, executionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyReplied
		}
		return tx.Model(&models.AutomationRule{}).Where("id = ?", exec.AutomationID).
			Update("reply_count", gorm.Expr("reply_count + 1")).Error
	}, l.txOptions())
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// LatestUnreplied returns the lead's most recent execution still awaiting a
// reply.
func (l *Ledger) LatestUnreplied(ctx context.Context, leadID uint) (*models.AutomationExecution, error) {
	var exec models.AutomationExecution
	err := l.db.WithContext(ctx).
		Where("lead_id = ? AND replied = ?", leadID, false).
		Order("executed_at DESC, id DESC").
		First(&exec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &exec, nil
}

func (l *Ledger) CountsFor(ctx context.Context, automationID uint) (ExecutionCounts, error) {
	var counts ExecutionCounts
	db := l.db.WithContext(ctx)
	if err := db.Model(&models.AutomationExecution{}).Where("automation_id = ?", automationID).Count(&counts.Total).Error; err != nil {
		return counts, fmt.Errorf("count executions for rule %d: %w", automationID, err)
	}
	if err := db.Model(&models.AutomationExecution{}).Where("automation_id = ? AND replied = ?", automationID, true).Count(&counts.Replies).Error; err != nil {
		return counts, fmt.Errorf("count replies for rule %d: %w", automationID, err)
	}
	return counts, nil
}

func (l *Ledger) ListForRule(ctx context.Context, automationID uint, limit int) ([]models.AutomationExecution, error) {
	var execs []models.AutomationExecution
	q := l.db.WithContext(ctx).Where("automation_id = ?", automationID).Order("executed_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&execs).Error; err != nil {
		return nil, err
	}
	return execs, nil
}

// txOptions asks Postgres for serializable isolation; sqlite transactions
// already serialize writers.
func (l *Ledger) txOptions() *sql.TxOptions {
	if l.db.Dialector.Name() == "postgres" {
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return nil
}
