package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Стратегии подбора ближайшего медучреждения
const (
	MatchStrategyPostGIS = "postgis"
	MatchStrategyScan    = "scan"
)

// Config - структура для хранения конфигурации приложения
type Config struct {
	DatabaseURL    string        `env:"DATABASE_URL"`
	DBMaxConns     int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	MigrationsPath string        `env:"MIGRATIONS_PATH" envDefault:"file://migrations"`
	HTTPPort       string        `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`

	// Redis Config
	RedisAddr        string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass        string        `env:"REDIS_PASSWORD"`
	RedisDB          int           `env:"REDIS_DB" envDefault:"0"`
	IncidentCacheTTL time.Duration `env:"INCIDENT_CACHE_TTL" envDefault:"5m"`

	// Webhook Config
	WebhookURL        string        `env:"WEBHOOK_URL"`
	WebhookSecret     string        `env:"WEBHOOK_SECRET"`
	WebhookTimeout    time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"5s"`
	WebhookMaxRetries int           `env:"WEBHOOK_MAX_RETRIES" envDefault:"3"`
	WebhookBaseDelay  time.Duration `env:"WEBHOOK_BASE_DELAY" envDefault:"1s"`

	// Stats Config
	StatsTimeWindowMinutes int `env:"STATS_TIME_WINDOW_MINUTES" envDefault:"60"`

	// Auth Config
	JWTSecret string        `env:"JWT_SECRET"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	// Matching Config
	MatchLimit      int    `env:"MATCH_LIMIT" envDefault:"5"`
	MatchStrategy   string `env:"MATCH_STRATEGY" envDefault:"postgis"`
	DisplayIDPrefix string `env:"DISPLAY_ID_PREFIX" envDefault:"LAG"`
}

// LoadConfig загружает конфигурацию из переменных окружения и .env файла
func LoadConfig() (*Config, error) {
	// Загрузка переменных окружения из .env файла (если есть)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("ошибка загрузки файла .env: %w", err)
	}

	cfg := &Config{
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		DBMaxConns:             int32(getEnvAsInt("DB_MAX_CONNS", 10)),
		MigrationsPath:         getEnv("MIGRATIONS_PATH", "file://migrations"),
		HTTPPort:               getEnv("HTTP_PORT", "8080"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		RequestTimeout:         getEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),
		RedisAddr:              getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:              os.Getenv("REDIS_PASSWORD"),
		RedisDB:                getEnvAsInt("REDIS_DB", 0),
		IncidentCacheTTL:       getEnvAsDuration("INCIDENT_CACHE_TTL", 5*time.Minute),
		WebhookURL:             os.Getenv("WEBHOOK_URL"),
		WebhookSecret:          os.Getenv("WEBHOOK_SECRET"),
		WebhookTimeout:         getEnvAsDuration("WEBHOOK_TIMEOUT", 5*time.Second),
		WebhookMaxRetries:      getEnvAsInt("WEBHOOK_MAX_RETRIES", 3),
		WebhookBaseDelay:       getEnvAsDuration("WEBHOOK_BASE_DELAY", time.Second),
		StatsTimeWindowMinutes: getEnvAsInt("STATS_TIME_WINDOW_MINUTES", 60),
		JWTSecret:              os.Getenv("JWT_SECRET"),
		JWTTTL:                 getEnvAsDuration("JWT_TTL", 24*time.Hour),
		MatchLimit:             getEnvAsInt("MATCH_LIMIT", 5),
		MatchStrategy:          getEnv("MATCH_STRATEGY", MatchStrategyPostGIS),
		DisplayIDPrefix:        getEnv("DISPLAY_ID_PREFIX", "LAG"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	if cfg.MatchLimit < 1 {
		cfg.MatchLimit = 5
	}

	switch cfg.MatchStrategy {
	case MatchStrategyPostGIS, MatchStrategyScan:
	default:
		return nil, fmt.Errorf("unsupported MATCH_STRATEGY %q", cfg.MatchStrategy)
	}

	return cfg, nil
}

// getEnv возвращает значение переменной окружения или значение по умолчанию
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt возвращает значение переменной окружения как int или значение по умолчанию
func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration возвращает значение переменной окружения как time.Duration или значение по умолчанию
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if durationValue, err := time.ParseDuration(value); err == nil {
			return durationValue
		}
	}
	return defaultValue
}
