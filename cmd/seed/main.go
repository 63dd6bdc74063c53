package main

import (
	"context"
	"flag"
	"os"
	"time"

	"lead-nurture/internal/config"
	"lead-nurture/internal/database"
	"lead-nurture/internal/seed"
	"lead-nurture/pkg/logger"

	"github.com/rs/zerolog/log"
)

func main() {
	file := flag.String("file", "cmd/seed/fixtures.yaml", "YAML fixtures to load")
	flag.Parse()

	cfg := config.LoadConfig()
	logger.InitLogger(cfg.LogLevel, cfg.LogFormat)

	f, err := os.Open(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("Failed to open fixtures")
	}
	defer f.Close()

	fx, err := seed.Load(f)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid fixtures")
	}

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}

	if err := seed.Apply(context.Background(), db, fx, time.Now()); err != nil {
		log.Fatal().Err(err).Msg("Seeding failed")
	}
	log.Info().Int("clinics", len(fx.Clinics)).Msg("Seed data loaded")
}
