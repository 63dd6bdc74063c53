package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lead-nurture/internal/models"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

type ActivityLog struct {
	db *gorm.DB
}

func NewActivityLog(db *gorm.DB) *ActivityLog {
	return &ActivityLog{db: db}
}

func (a *ActivityLog) Append(ctx context.Context, activity *models.Activity) error {
	if err := a.db.WithContext(ctx).Create(activity).Error; err != nil {
		return fmt.Errorf("append %s activity: %w", activity.Type, err)
	}
	return nil
}

func (a *ActivityLog) ListForClinic(ctx context.Context, clinicID uint, limit int) ([]models.Activity, error) {
	var activities []models.Activity
	q := a.db.WithContext(ctx).Where("clinic_id = ?", clinicID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&activities).Error; err != nil {
		return nil, err
	}
	return activities, nil
}

// Directory resolves clinic users. Admin lookups are cached for ttl; misses
// are not cached. Concurrent lookups for one clinic share a query.
type Directory struct {
	db     *gorm.DB
	admins *cache.Cache
	group  singleflight.Group
}

func NewDirectory(db *gorm.DB, ttl time.Duration) *Directory {
	return &Directory{
		db:     db,
		admins: cache.New(ttl, 2*ttl),
	}
}

// FirstAdminUser returns the lowest-id admin of the clinic, or nil when the
// clinic has none.
func (d *Directory) FirstAdminUser(ctx context.Context, clinicID uint) (*uint, error) {
	key := fmt.Sprintf("clinic:%d", clinicID)
	if v, found := d.admins.Get(key); found {
		id := v.(uint)
		return &id, nil
	}

	v, err, _ := d.group.Do(key, func() (interface{}, error) {
		var user models.User
		err := d.db.WithContext(ctx).
			Where("clinic_id = ? AND role = ?", clinicID, models.RoleAdmin).
			Order("id").
			First(&user).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("resolve admin for clinic %d: %w", clinicID, err)
		}
		d.admins.Set(key, user.ID, cache.DefaultExpiration)
		return user.ID, nil
	})
	if err != nil || v == nil {
		return nil, err
	}
	id := v.(uint)
	return &id, nil
}
