package main

import (
	"lead-nurture/internal/config"
	"lead-nurture/internal/database"
	"lead-nurture/pkg/logger"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.LoadConfig()
	logger.InitLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := database.OpenPostgres(database.PostgresDSN(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}

	log.Info().Msg("Syncing PostgreSQL sequences...")
	if err := database.SyncSequences(db); err != nil {
		log.Fatal().Err(err).Msg("Sequence sync incomplete")
	}
	log.Info().Msg("DONE!")
}
