package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lead-nurture/internal/models"

	"gorm.io/gorm"
)

type RuleStore struct {
	db *gorm.DB
}

func NewRuleStore(db *gorm.DB) *RuleStore {
	return &RuleStore{db: db}
}

// ListActive reads the active rules fresh from the database.
func (s *RuleStore) ListActive(ctx context.Context) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	return rules, nil
}

// List returns a clinic's rules, or every rule when clinicID is 0.
func (s *RuleStore) List(ctx context.Context, clinicID uint) ([]models.AutomationRule, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if clinicID != 0 {
		q = q.Where("clinic_id = ?", clinicID)
	}
	var rules []models.AutomationRule
	if err := q.Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *RuleStore) Get(ctx context.Context, id uint) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rule, nil
}

func (s *RuleStore) Create(ctx context.Context, rule *models.AutomationRule) error {
	return s.db.WithContext(ctx).Create(rule).Error
}

// Update applies the given column values; statistics columns are ignored.
func (s *RuleStore) Update(ctx context.Context, id uint, fields map[string]interface{}) error {
	for _, col := range []string{"id", "total_executions", "reply_count", "success_rate", "last_executed_at"} {
		delete(fields, col)
	}
	if len(fields) == 0 {
		return rowExists(s.db.WithContext(ctx), &models.AutomationRule{}, id)
	}
	res := s.db.WithContext(ctx).Model(&models.AutomationRule{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RuleStore) SetActive(ctx context.Context, id uint, active bool) error {
	res := s.db.WithContext(ctx).Model(&models.AutomationRule{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the rule; its executions go with it through the foreign key.
func (s *RuleStore) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.AutomationRule{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func incrementExecutions(tx *gorm.DB, id uint, at time.Time) error {
	return tx.Model(&models.AutomationRule{}).Where("id = ?", id).Updates(map[string]interface{}{
		"total_executions": gorm.Expr("total_executions + 1"),
		"last_executed_at": at.UTC(),
	}).Error
}

// SaveStats overwrites the rule's aggregated counters. A nil rate is stored
// as NULL.
func (s *RuleStore) SaveStats(ctx context.Context, id uint, counts ExecutionCounts, rate *float64) error {
	return s.db.WithContext(ctx).Model(&models.AutomationRule{}).Where("id = ?", id).Updates(map[string]interface{}{
		"total_executions": counts.Total,
		"reply_count":      counts.Replies,
		"success_rate":     rate,
	}).Error
}
