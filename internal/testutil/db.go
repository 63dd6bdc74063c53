// Package testutil builds throwaway databases and fixtures for tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"lead-nurture/internal/database"
	"lead-nurture/internal/models"
	"lead-nurture/internal/store"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenDB returns a migrated SQLite database that lives for the test.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "nurture.db"))
	require.NoError(t, err)
	db = db.Session(&gorm.Session{Logger: db.Logger.LogMode(gormlogger.Warn)})
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// Now is a fixed, hour-aligned instant tests measure from.
var Now = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func DaysAgo(now time.Time, days int) *time.Time {
	t := now.Add(-time.Duration(days) * 24 * time.Hour)
	return &t
}

func CreateClinic(t *testing.T, db *gorm.DB, name string) *models.Clinic {
	t.Helper()
	c := &models.Clinic{Name: name}
	require.NoError(t, db.Create(c).Error)
	return c
}

func CreateUser(t *testing.T, db *gorm.DB, clinicID uint, email, role string) *models.User {
	t.Helper()
	u := &models.User{ClinicID: clinicID, Name: email, Email: email, Role: role}
	require.NoError(t, db.Create(u).Error)
	return u
}

func CreateLead(t *testing.T, db *gorm.DB, clinicID uint, name, status string, lastContacted *time.Time) *models.Lead {
	t.Helper()
	l := &models.Lead{ClinicID: clinicID, Name: name, Phone: "+1555" + name, Status: status, LastContactedAt: lastContacted}
	require.NoError(t, db.Create(l).Error)
	return l
}

func CreateRule(t *testing.T, db *gorm.DB, clinicID uint, status string, days ...int) *models.AutomationRule {
	t.Helper()
	r := &models.AutomationRule{
		ClinicID:     clinicID,
		Name:         "Re-engage " + status,
		TriggerDays:  days,
		Message:      "Hi {name}, we miss you!",
		TargetStatus: status,
		IsActive:     true,
	}
	require.NoError(t, db.Create(r).Error)
	return r
}

func CreateMessage(t *testing.T, db *gorm.DB, lead *models.Lead, direction string) *models.Message {
	t.Helper()
	m := &models.Message{LeadID: lead.ID, ClinicID: lead.ClinicID, Direction: direction, Content: "hello"}
	require.NoError(t, db.Create(m).Error)
	return m
}

// CreateExecution appends an execution at the given instant without any
// suppression check.
func CreateExecution(t *testing.T, db *gorm.DB, rule *models.AutomationRule, leadID uint, at time.Time) *models.AutomationExecution {
	t.Helper()
	e := &models.AutomationExecution{
		AutomationID: rule.ID,
		LeadID:       leadID,
		ExecutedAt:   at.UTC(),
		WindowKey:    store.WindowKey(at),
		Message:      rule.Message,
	}
	require.NoError(t, db.Create(e).Error)
	return e
}
