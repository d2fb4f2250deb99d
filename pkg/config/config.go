package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Scheduler SchedulerConfig
	Editor    EditorConfig
	Cache     CacheConfig
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

type RedisConfig struct {
	Host        string
	Port        int
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulerConfig tunes the generation pipeline and the asynchronous run queue.
type SchedulerConfig struct {
	LabWindows           string
	LabTrials            int
	MaxOrderings         int
	LabWorkers           int
	MinLabGapMinutes     int
	Seed                 int64
	TheorySessionMinutes int
	MaxDailyMinutes      int
	EarlyDayLatestEnd    string
	CapProfessor         int
	CapAssociate         int
	CapAssistant         int
	AsyncWorkers         int
	RunRetries           int
	RunTimeout           time.Duration
}

// EditorConfig governs interactive editing sessions.
type EditorConfig struct {
	SessionTTL time.Duration
}

// CacheConfig toggles caching of timetable views and run reports.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:            v.GetString("DB_HOST"),
		Port:            v.GetInt("DB_PORT"),
		User:            v.GetString("DB_USER"),
		Password:        v.GetString("DB_PASSWORD"),
		Name:            v.GetString("DB_NAME"),
		SSLMode:         v.GetString("DB_SSL_MODE"),
		MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		ConnMaxLifetime: parseDuration(v.GetString("DB_CONN_MAX_LIFETIME"), time.Hour),
		ConnectTimeout:  parseDuration(v.GetString("DB_CONNECT_TIMEOUT"), 5*time.Second),
	}

	cfg.Redis = RedisConfig{
		Host:        v.GetString("REDIS_HOST"),
		Port:        v.GetInt("REDIS_PORT"),
		Password:    v.GetString("REDIS_PASSWORD"),
		DB:          v.GetInt("REDIS_DB"),
		PoolSize:    v.GetInt("REDIS_POOL_SIZE"),
		DialTimeout: parseDuration(v.GetString("REDIS_DIAL_TIMEOUT"), 2*time.Second),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Scheduler = SchedulerConfig{
		LabWindows:           v.GetString("SCHEDULER_LAB_WINDOWS"),
		LabTrials:            v.GetInt("SCHEDULER_LAB_TRIALS"),
		MaxOrderings:         v.GetInt("SCHEDULER_MAX_ORDERINGS"),
		LabWorkers:           v.GetInt("SCHEDULER_LAB_WORKERS"),
		MinLabGapMinutes:     v.GetInt("SCHEDULER_MIN_LAB_GAP_MINUTES"),
		Seed:                 v.GetInt64("SCHEDULER_SEED"),
		TheorySessionMinutes: v.GetInt("SCHEDULER_THEORY_SESSION_MINUTES"),
		MaxDailyMinutes:      v.GetInt("SCHEDULER_MAX_DAILY_MINUTES"),
		EarlyDayLatestEnd:    v.GetString("SCHEDULER_EARLY_DAY_LATEST_END"),
		CapProfessor:         v.GetInt("SCHEDULER_CAP_PROFESSOR"),
		CapAssociate:         v.GetInt("SCHEDULER_CAP_ASSOCIATE"),
		CapAssistant:         v.GetInt("SCHEDULER_CAP_ASSISTANT"),
		AsyncWorkers:         v.GetInt("SCHEDULER_ASYNC_WORKERS"),
		RunRetries:           v.GetInt("SCHEDULER_RUN_RETRIES"),
		RunTimeout:           parseDuration(v.GetString("SCHEDULER_RUN_TIMEOUT"), 5*time.Minute),
	}

	cfg.Editor = EditorConfig{
		SessionTTL: parseDuration(v.GetString("EDITOR_SESSION_TTL"), 2*time.Hour),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_TIMETABLE_CACHE"),
		TTL:     parseDuration(v.GetString("TIMETABLE_CACHE_TTL"), 10*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "ise_timetable")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DB_CONNECT_TIMEOUT", "5s")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "2s")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHEDULER_LAB_WINDOWS", "08:00-10:00,10:00-12:00,12:00-14:00,14:00-16:00,15:00-17:00")
	v.SetDefault("SCHEDULER_LAB_TRIALS", 240)
	v.SetDefault("SCHEDULER_MAX_ORDERINGS", 10800)
	v.SetDefault("SCHEDULER_LAB_WORKERS", 1)
	v.SetDefault("SCHEDULER_MIN_LAB_GAP_MINUTES", 120)
	v.SetDefault("SCHEDULER_SEED", 0)
	v.SetDefault("SCHEDULER_THEORY_SESSION_MINUTES", 60)
	v.SetDefault("SCHEDULER_MAX_DAILY_MINUTES", 480)
	v.SetDefault("SCHEDULER_EARLY_DAY_LATEST_END", "16:00")
	v.SetDefault("SCHEDULER_CAP_PROFESSOR", 2)
	v.SetDefault("SCHEDULER_CAP_ASSOCIATE", 4)
	v.SetDefault("SCHEDULER_CAP_ASSISTANT", 6)
	v.SetDefault("SCHEDULER_ASYNC_WORKERS", 1)
	v.SetDefault("SCHEDULER_RUN_RETRIES", 1)
	v.SetDefault("SCHEDULER_RUN_TIMEOUT", "5m")

	v.SetDefault("EDITOR_SESSION_TTL", "2h")
	v.SetDefault("ENABLE_TIMETABLE_CACHE", true)
	v.SetDefault("TIMETABLE_CACHE_TTL", "10m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
