package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port        string
	VerifyToken string

	DBDriver   string
	DBPath     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	LogLevel  string
	LogFormat string

	SchedulerEnabled   bool
	AutomationInterval time.Duration
	FollowUpInterval   time.Duration
	CycleTimeout       time.Duration
	RuleTimeout        time.Duration
	AdminCacheTTL      time.Duration

	RabbitMQURL     string
	RabbitMQQueue   string
	ReplyWebhookURL string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded, relying on environment variables")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		VerifyToken: getEnv("VERIFY_TOKEN", ""),

		DBDriver:   getEnv("DB_DRIVER", "sqlite"),
		DBPath:     getEnv("DB_PATH", "./nurture.db"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "nurture"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		SchedulerEnabled:   getBool("SCHEDULER_ENABLED", true),
		AutomationInterval: getDuration("AUTOMATION_INTERVAL", time.Hour),
		FollowUpInterval:   getDuration("FOLLOWUP_INTERVAL", 24*time.Hour),
		CycleTimeout:       getDuration("CYCLE_TIMEOUT", 50*time.Minute),
		RuleTimeout:        getDuration("RULE_TIMEOUT", 5*time.Minute),
		AdminCacheTTL:      getDuration("ADMIN_CACHE_TTL", 10*time.Minute),

		RabbitMQURL:     getEnv("RABBITMQ_URL", ""),
		RabbitMQQueue:   getEnv("RABBITMQ_QUEUE", "nurture_executions"),
		ReplyWebhookURL: getEnv("REPLY_WEBHOOK_URL", ""),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid boolean, using default")
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid duration, using default")
		return fallback
	}
	return d
}
