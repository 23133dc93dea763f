package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for our application
type Config struct {
	Port                      string
	Origins                   []string
	Environment               string
	ReadTimeout               time.Duration
	WriteTimeout              time.Duration
	ShutdownTimeout           time.Duration
	JWTSecret                 string
	JWTRefreshSecret          string
	JWTExpirationMinutes      int
	JWTRefreshExpirationHours int
	MaxDocumentBytes          int64
	Database                  DatabaseConfig
	Log                       LogConfig
	Tracing                   TracingConfig
	Metrics                   MetricsConfig
	Schedule                  ScheduleConfig
	Kafka                     KafkaConfig
	RateLimit                 RateLimitConfig
	Bootstrap                 BootstrapConfig
}

// DatabaseConfig holds database connection details
type DatabaseConfig struct {
	Driver          string // mysql, postgres or memory
	Host            string
	Port            string
	Username        string
	Password        string
	Name            string
	SSLMode         string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string
	Format string // json or console
}

// TracingConfig controls the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	SampleRate  float64
}

type MetricsConfig struct {
	Namespace string
}

// ScheduleConfig is the daily working-hours template used for slot generation.
type ScheduleConfig struct {
	DayStartHour      int
	DayEndHour        int
	SlotMinutes       int
	Timezone          string
	DefaultProviderID string
}

// Location resolves the configured timezone.
func (s ScheduleConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || strings.EqualFold(s.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// KafkaConfig enables lifecycle event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// BootstrapConfig seeds the first admin account when none exists.
type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
}

// Enabled reports whether both credentials were supplied.
func (b BootstrapConfig) Enabled() bool {
	return b.AdminEmail != "" && b.AdminPassword != ""
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	dbConfig := DatabaseConfig{
		Driver:          strings.ToLower(getEnv("DB_DRIVER", "mysql")),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnv("DB_PORT", "3306"),
		Username:        getEnv("DB_USERNAME", "root"),
		Password:        getEnv("DB_PASSWORD", ""),
		Name:            getEnv("DB_NAME", "telecare"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
		ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}
	dbConfig.DSN = buildDSN(dbConfig)

	jwtExpMinutes, err := strconv.Atoi(getEnv("JWT_EXPIRATION_MINUTES", "15"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRATION_MINUTES: %w", err)
	}

	jwtRefreshExpHours, err := strconv.Atoi(getEnv("JWT_REFRESH_EXPIRATION_HOURS", "168")) // 7 days
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_REFRESH_EXPIRATION_HOURS: %w", err)
	}

	cfg := &Config{
		Port:                      getEnv("PORT", "3001"),
		Origins:                   getEnvSlice("ORIGIN", []string{"http://localhost:3000"}),
		Environment:               getEnv("APP_ENV", "development"),
		ReadTimeout:               getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:              getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		ShutdownTimeout:           getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 20*time.Second),
		JWTSecret:                 getEnv("JWT_SECRET", "default_jwt_secret"),
		JWTRefreshSecret:          getEnv("JWT_REFRESH_SECRET", "default_refresh_secret"),
		JWTExpirationMinutes:      jwtExpMinutes,
		JWTRefreshExpirationHours: jwtRefreshExpHours,
		MaxDocumentBytes:          int64(getEnvInt("MAX_DOCUMENT_BYTES", 10<<20)),
		Database:                  dbConfig,
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			ServiceName: getEnv("TRACING_SERVICE_NAME", "telecare-server"),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			SampleRate:  getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
		},
		Metrics: MetricsConfig{
			Namespace: getEnv("METRICS_NAMESPACE", "telecare"),
		},
		Schedule: ScheduleConfig{
			DayStartHour:      getEnvInt("SCHEDULE_DAY_START_HOUR", 9),
			DayEndHour:        getEnvInt("SCHEDULE_DAY_END_HOUR", 17),
			SlotMinutes:       getEnvInt("SCHEDULE_SLOT_MINUTES", 60),
			Timezone:          getEnv("SCHEDULE_TIMEZONE", "Local"),
			DefaultProviderID: getEnv("DEFAULT_PROVIDER_ID", ""),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "telecare.lifecycle"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 20),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 40),
		},
		Bootstrap: BootstrapConfig{
			AdminEmail:    getEnv("BOOTSTRAP_ADMIN_EMAIL", ""),
			AdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", ""),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildDSN(d DatabaseConfig) string {
	if dsn, ok := os.LookupEnv("DB_DSN"); ok {
		return dsn
	}
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			d.Host, d.Username, d.Password, d.Name, d.Port, d.SSLMode)
	case "memory":
		return ""
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			d.Username, d.Password, d.Host, d.Port, d.Name)
	}
}

func validate(cfg *Config) error {
	var errs []string

	switch cfg.Database.Driver {
	case "mysql", "postgres", "memory":
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER %q is not supported", cfg.Database.Driver))
	}

	s := cfg.Schedule
	if s.DayStartHour < 0 || s.DayEndHour > 24 || s.DayStartHour >= s.DayEndHour {
		errs = append(errs, "SCHEDULE_DAY_START_HOUR must be before SCHEDULE_DAY_END_HOUR within 0-24")
	}
	if s.SlotMinutes <= 0 {
		errs = append(errs, "SCHEDULE_SLOT_MINUTES must be positive")
	}
	if _, err := s.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("SCHEDULE_TIMEZONE: %v", err))
	}

	if b := cfg.Bootstrap; b.AdminEmail != "" && len(b.AdminPassword) < 8 {
		errs = append(errs, "BOOTSTRAP_ADMIN_PASSWORD must be at least 8 characters")
	}

	if cfg.Environment == "production" {
		if cfg.JWTSecret == "default_jwt_secret" || cfg.JWTRefreshSecret == "default_refresh_secret" {
			errs = append(errs, "JWT_SECRET and JWT_REFRESH_SECRET must be set in production")
		}
		if cfg.Database.Driver == "memory" {
			errs = append(errs, "DB_DRIVER=memory is not allowed in production")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Helper function to get environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
