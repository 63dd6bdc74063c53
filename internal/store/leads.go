package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lead-nurture/internal/models"

	"gorm.io/gorm"
)

type LeadStore struct {
	db *gorm.DB
}

func NewLeadStore(db *gorm.DB) *LeadStore {
	return &LeadStore{db: db}
}

// FindEligible returns the clinic's leads in status whose last contact is at
// or before cutoff. A lead never contacted is always included.
func (s *LeadStore) FindEligible(ctx context.Context, clinicID uint, status string, cutoff time.Time) ([]models.Lead, error) {
	var leads []models.Lead
	err := s.db.WithContext(ctx).
		Where("clinic_id = ? AND status = ?", clinicID, status).
		Where("last_contacted_at IS NULL OR last_contacted_at <= ?", cutoff.UTC()).
		Find(&leads).Error
	if err != nil {
		return nil, fmt.Errorf("find eligible leads for clinic %d: %w", clinicID, err)
	}
	return leads, nil
}

func (s *LeadStore) ListClinics(ctx context.Context) ([]uint, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&models.Clinic{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list clinics: %w", err)
	}
	return ids, nil
}

func (s *LeadStore) Get(ctx context.Context, id uint) (*models.Lead, error) {
	var lead models.Lead
	if err := s.db.WithContext(ctx).First(&lead, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &lead, nil
}

// FindByPhone returns the most recently created lead with phone.
func (s *LeadStore) FindByPhone(ctx context.Context, phone string) (*models.Lead, error) {
	var lead models.Lead
	err := s.db.WithContext(ctx).Where("phone = ?", phone).Order("created_at DESC, id DESC").First(&lead).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &lead, nil
}

// RecordInbound stores an inbound message and moves the lead's last contact
// to at.
func (s *LeadStore) RecordInbound(ctx context.Context, lead *models.Lead, content string, at time.Time) (*models.Message, error) {
	return s.recordMessage(ctx, lead, models.DirectionInbound, content, at)
}

// RecordOutbound stores a message sent to the lead by clinic staff and moves
// the lead's last contact to at.
func (s *LeadStore) RecordOutbound(ctx context.Context, lead *models.Lead, content string, at time.Time) (*models.Message, error) {
	return s.recordMessage(ctx, lead, models.DirectionOutbound, content, at)
}

func (s *LeadStore) recordMessage(ctx context.Context, lead *models.Lead, direction, content string, at time.Time) (*models.Message, error) {
	at = at.UTC()
	msg := models.Message{
		LeadID:    lead.ID,
		ClinicID:  lead.ClinicID,
		Direction: direction,
		Content:   content,
		CreatedAt: at,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Lead{}).Where("id = ?", lead.ID).Update("last_contacted_at", at).Error
	})
	if err != nil {
		return nil, fmt.Errorf("record %s message for lead %d: %w", strings.ToLower(direction), lead.ID, err)
	}
	lead.LastContactedAt = &at
	return &msg, nil
}

// Messages returns the lead's conversation, oldest first.
func (s *LeadStore) Messages(ctx context.Context, leadID uint) ([]models.Message, error) {
	var msgs []models.Message
	if err := s.db.WithContext(ctx).Where("lead_id = ?", leadID).Order("created_at ASC, id ASC").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// List returns a clinic's leads, newest first, optionally filtered by status.
func (s *LeadStore) List(ctx context.Context, clinicID uint, status string) ([]models.Lead, error) {
	q := s.db.WithContext(ctx).Where("clinic_id = ?", clinicID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var leads []models.Lead
	if err := q.Order("created_at DESC, id DESC").Find(&leads).Error; err != nil {
		return nil, err
	}
	return leads, nil
}

func (s *LeadStore) Create(ctx context.Context, lead *models.Lead) error {
	return s.db.WithContext(ctx).Create(lead).Error
}

// Update applies the given column values to the lead.
func (s *LeadStore) Update(ctx context.Context, id uint, fields map[string]interface{}) error {
	delete(fields, "id")
	delete(fields, "clinic_id")
	if len(fields) == 0 {
		return rowExists(s.db.WithContext(ctx), &models.Lead{}, id)
	}
	res := s.db.WithContext(ctx).Model(&models.Lead{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the lead together with its messages and executions.
func (s *LeadStore) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Lead{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
