package database

import (
	"fmt"
	"strings"
	"time"

	"lead-nurture/internal/config"
	"lead-nurture/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the configured database and runs automigration.
func Open(cfg *config.Config) (*gorm.DB, error) {
	switch strings.ToLower(cfg.DBDriver) {
	case DriverPostgres:
		return OpenPostgres(PostgresDSN(cfg))
	case DriverSQLite, "sqlite3", "":
		return OpenSQLite(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}

func PostgresDSN(cfg *config.Config) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
}

func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	log.Info().Msg("Connected to PostgreSQL successfully")
	return db, Migrate(db)
}

// OpenSQLite opens path with foreign keys enforced so deletes cascade.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	sqlDB.SetMaxOpenConns(1)

	log.Info().Str("path", path).Msg("Connected to SQLite successfully")
	return db, Migrate(db)
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to run auto-migration: %w", err)
	}
	log.Info().Int("models_migrated", len(models.All())).Msg("Database migration completed")
	return nil
}

// SQLX wraps the connection pool behind db for hand-written queries. Columns
// map to struct fields through their json tags, which follow the column names.
func SQLX(db *gorm.DB) (*sqlx.DB, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	driverName := "sqlite3"
	if db.Dialector.Name() == DriverPostgres {
		driverName = "postgres"
	}
	x := sqlx.NewDb(sqlDB, driverName)
	x.Mapper = reflectx.NewMapperFunc("json", strings.ToLower)
	return x, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         newGormLogger(log.Logger, SlowQueryThreshold),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}
