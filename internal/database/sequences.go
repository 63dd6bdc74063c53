package database

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// SequenceTables are the tables whose id sequences must follow rows copied in
// with explicit primary keys.
var SequenceTables = []string{
	"clinics",
	"users",
	"leads",
	"messages",
	"automation_rules",
	"automation_executions",
	"activities",
}

// SyncSequences moves every PostgreSQL id sequence past the table's current
// maximum id. It is a no-op on other dialects.
func SyncSequences(db *gorm.DB) error {
	if db.Dialector.Name() != DriverPostgres {
		log.Debug().Str("dialect", db.Dialector.Name()).Msg("Sequence sync skipped")
		return nil
	}

	failed := 0
	for _, table := range SequenceTables {
		query := "SELECT setval(pg_get_serial_sequence('" + table + "', 'id'), coalesce(max(id), 0) + 1, false) FROM " + table
		if err := db.Exec(query).Error; err != nil {
			log.Error().Err(err).Str("table", table).Msg("Error syncing sequence")
			failed++
			continue
		}
		log.Info().Str("table", table).Msg("Successfully synced sequence")
	}
	if failed > 0 {
		return fmt.Errorf("%d sequences failed to sync", failed)
	}
	return nil
}
