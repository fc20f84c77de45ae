package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/spec-kit/pod-racer/internal/domain"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Pool     PoolConfig
	Race     RaceConfig
	Credits  CreditsConfig
	Queue    QueueConfig
	Sweep    SweepConfig
	Events   EventsConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values. An empty DSN keeps everything in memory.
type PostgresConfig struct {
	DSN             string
	ApplicationName string
	MaxConns        int32
	MinConns        int32
	ConnectAttempts int
	RunMigrations   bool
	ConnMaxIdleSec  int32
	ConnMaxLifeSec  int32
}

// RedisConfig holds Redis connection values. An empty Addr disables the event relay.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	TimeoutMS int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level       string
	Development bool
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	SharedKey       string
	JWTSecret       string
	TokenTTLMinutes int
	KeyHashCost     int
}

// PoolConfig lists the pods managed by the service.
type PoolConfig struct {
	Pods []domain.PodSpec
}

// RaceConfig tunes pod races and the simulated readiness probe.
type RaceConfig struct {
	Candidates          int
	TimeoutMS           int
	MinDelayMS          int
	MaxDelayMS          int
	FailureRate         float64
	DrainCooldownSecond int
}

// CreditsConfig holds credit defaults.
type CreditsConfig struct {
	Initial int64
}

// QueueConfig tunes the waiting queue.
type QueueConfig struct {
	MaxLength          int
	AverageHoldSeconds int
}

// SweepConfig controls the background sweep.
type SweepConfig struct {
	IntervalSeconds int
}

// EventsConfig controls the Redis event relay.
type EventsConfig struct {
	RedisChannel string
}

// Load reads configuration from environment variables, applying defaults where possible.
// Variables from envFiles are loaded first without overriding the environment; with no
// files a local .env is tried.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	pods, err := ParsePods(getEnv("POOL_PODS", "A,B,C,D,E"))
	if err != nil {
		return nil, err
	}

	failureRate, err := strconv.ParseFloat(getEnv("RACE_FAILURE_RATE", "0"), 64)
	if err != nil || failureRate < 0 || failureRate > 1 {
		return nil, fmt.Errorf("invalid RACE_FAILURE_RATE %q", os.Getenv("RACE_FAILURE_RATE"))
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "pod-racer"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		// One persistence worker writes; restore and readiness only read.
		Postgres: PostgresConfig{
			DSN:             os.Getenv("POSTGRES_DSN"),
			ApplicationName: getEnv("POSTGRES_APPLICATION_NAME", getEnv("APP_NAME", "pod-racer")),
			MaxConns:        int32(getEnvAsInt("POSTGRES_MAX_CONNS", 4)),
			MinConns:        int32(getEnvAsInt("POSTGRES_MIN_CONNS", 1)),
			ConnectAttempts: getEnvAsInt("POSTGRES_CONNECT_ATTEMPTS", 3),
			RunMigrations:   getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec:  int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec:  int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:      os.Getenv("REDIS_ADDR"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			PoolSize:  getEnvAsInt("REDIS_POOL_SIZE", 4),
			TimeoutMS: getEnvAsInt("REDIS_TIMEOUT_MS", 250),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnv("APP_ENV", "development") == "development",
		},
		Auth: AuthConfig{
			SharedKey:       getEnv("AUTH_SHARED_KEY", "generate@123"),
			JWTSecret:       getEnv("AUTH_JWT_SECRET", "dev-secret"),
			TokenTTLMinutes: getEnvAsInt("AUTH_TOKEN_TTL_MINUTES", 24*60),
			KeyHashCost:     getEnvAsInt("AUTH_KEY_HASH_COST", 10),
		},
		Pool: PoolConfig{Pods: pods},
		Race: RaceConfig{
			Candidates:          getEnvAsInt("RACE_CANDIDATES", 2),
			TimeoutMS:           getEnvAsInt("RACE_TIMEOUT_MS", 10000),
			MinDelayMS:          getEnvAsInt("RACE_MIN_DELAY_MS", 200),
			MaxDelayMS:          getEnvAsInt("RACE_MAX_DELAY_MS", 1500),
			FailureRate:         failureRate,
			DrainCooldownSecond: getEnvAsInt("POD_DRAIN_COOLDOWN_SECONDS", 30),
		},
		Credits: CreditsConfig{
			Initial: int64(getEnvAsInt("CREDITS_INITIAL", int(domain.DefaultInitialCredits))),
		},
		Queue: QueueConfig{
			MaxLength:          getEnvAsInt("QUEUE_MAX_LENGTH", 0),
			AverageHoldSeconds: getEnvAsInt("QUEUE_AVERAGE_HOLD_SECONDS", 300),
		},
		Sweep: SweepConfig{
			IntervalSeconds: getEnvAsInt("SWEEP_INTERVAL_SECONDS", 2),
		},
		Events: EventsConfig{
			RedisChannel: getEnv("EVENTS_REDIS_CHANNEL", "podracer:events"),
		},
	}

	if cfg.Race.MaxDelayMS < cfg.Race.MinDelayMS {
		return nil, fmt.Errorf("RACE_MAX_DELAY_MS (%d) below RACE_MIN_DELAY_MS (%d)", cfg.Race.MaxDelayMS, cfg.Race.MinDelayMS)
	}
	if cfg.Race.DrainCooldownSecond <= 0 {
		return nil, fmt.Errorf("POD_DRAIN_COOLDOWN_SECONDS must be positive, got %d", cfg.Race.DrainCooldownSecond)
	}
	return cfg, nil
}

// ParsePods parses a comma separated pod list. Each entry is either a type, in
// which case the ID is derived from its position, or an id=type pair.
func ParsePods(raw string) ([]domain.PodSpec, error) {
	var specs []domain.PodSpec
	seen := make(map[string]struct{})
	for i, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		spec := domain.PodSpec{ID: fmt.Sprintf("pod-%d", i+1), Type: entry}
		if id, typ, ok := strings.Cut(entry, "="); ok {
			spec = domain.PodSpec{ID: strings.TrimSpace(id), Type: strings.TrimSpace(typ)}
		}
		if spec.ID == "" || spec.Type == "" {
			return nil, fmt.Errorf("invalid POOL_PODS entry %q", entry)
		}
		if _, dup := seen[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate pod id %q in POOL_PODS", spec.ID)
		}
		seen[spec.ID] = struct{}{}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("POOL_PODS is empty")
	}
	return specs, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// TokenTTL returns the lifetime of issued user tokens.
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLMinutes) * time.Minute
}

// Timeout bounds a whole race.
func (r RaceConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// DelayRange returns the simulated readiness delay bounds.
func (r RaceConfig) DelayRange() (time.Duration, time.Duration) {
	return time.Duration(r.MinDelayMS) * time.Millisecond, time.Duration(r.MaxDelayMS) * time.Millisecond
}

// Timeout bounds every Redis dial, read and write.
func (r RedisConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// DrainCooldown is how long a pod that failed its probe stays out of rotation.
func (r RaceConfig) DrainCooldown() time.Duration {
	return time.Duration(r.DrainCooldownSecond) * time.Second
}

// AverageHold seeds the queue wait estimate.
func (q QueueConfig) AverageHold() time.Duration {
	return time.Duration(q.AverageHoldSeconds) * time.Second
}

// Interval is the sweep period.
func (s SweepConfig) Interval() time.Duration {
	if s.IntervalSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(s.IntervalSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
