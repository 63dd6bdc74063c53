package store

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")

	// ErrSuppressed means an execution for the same rule and lead already
	// exists inside the suppression window.
	ErrSuppressed = errors.New("execution suppressed by an earlier execution")

	ErrAlreadyReplied = errors.New("execution already marked replied")
)

// rowExists returns ErrNotFound unless model's table has a row with id.
func rowExists(db *gorm.DB, model interface{}, id uint) error {
	var n int64
	if err := db.Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
