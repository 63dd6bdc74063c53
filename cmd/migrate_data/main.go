package main

import (
	"lead-nurture/internal/config"
	"lead-nurture/internal/database"
	"lead-nurture/internal/models"
	"lead-nurture/pkg/logger"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Copies every table from the SQLite file at DB_PATH into the PostgreSQL
// database described by DB_HOST and friends, keeping primary keys.
func main() {
	cfg := config.LoadConfig()
	logger.InitLogger(cfg.LogLevel, cfg.LogFormat)

	// 1. Connect to SQLite (Source)
	sqliteDB, err := database.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to SQLite")
	}

	// 2. Connect to PostgreSQL (Destination)
	pgDB, err := database.OpenPostgres(database.PostgresDSN(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}

	log.Info().Msg("Starting data migration...")

	failed := 0
	migrateTable := func(tableName string, rows interface{}) {
		logger := log.With().Str("table", tableName).Logger()

		if err := sqliteDB.Find(rows).Error; err != nil {
			logger.Error().Err(err).Msg("Error reading from SQLite")
			failed++
			return
		}

		err := pgDB.Transaction(func(tx *gorm.DB) error {
			// Associations are migrated as tables of their own.
			return tx.Omit(clause.Associations).CreateInBatches(rows, 500).Error
		})
		if err != nil {
			logger.Error().Err(err).Msg("Error writing to PostgreSQL")
			failed++
			return
		}
		logger.Info().Msg("Successfully migrated")
	}

	// Parents before children so foreign keys hold.
	var clinics []models.Clinic
	migrateTable("clinics", &clinics)

	var users []models.User
	migrateTable("users", &users)

	var leads []models.Lead
	migrateTable("leads", &leads)

	var messages []models.Message
	migrateTable("messages", &messages)

	var rules []models.AutomationRule
	migrateTable("automation_rules", &rules)

	var executions []models.AutomationExecution
	migrateTable("automation_executions", &executions)

	var activities []models.Activity
	migrateTable("activities", &activities)

	if failed > 0 {
		log.Fatal().Int("failed_tables", failed).Msg("Migration finished with errors")
	}

	if err := database.SyncSequences(pgDB); err != nil {
		log.Fatal().Err(err).Msg("Failed to sync sequences")
	}
	log.Info().Msg("Migration completed!")
}
