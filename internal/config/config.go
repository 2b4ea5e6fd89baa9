package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Remote   RemoteConfig
	Sync     SyncConfig
	Mail     MailConfig
	Inbox    InboxConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	InboundToken          string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
	// Format is "json" or "console".
	Format  string
	Service string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// RemoteConfig describes how to reach the remote incident system.
type RemoteConfig struct {
	BaseURL        string
	Username       string
	Password       string
	CallerSysID    string
	ContactType    string
	TimeoutSeconds int
}

// SyncConfig tunes the sync lifecycle.
type SyncConfig struct {
	MaxAttempts       int
	BackoffBaseSec    int
	BackoffMaxSec     int
	Workers           int
	QueueSize         int
	LockTTLSeconds    int
	PollConcurrency   int
	SweepSchedule     string
	PollSchedule      string
	SweepBatchSize    int
	NotifyTimeoutSecs int
}

// MailConfig configures outbound SMTP replies. An empty Host logs instead of sending.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Accounts map[string]string
}

// InboxConfig configures the IMAP poller.
type InboxConfig struct {
	Enabled    bool
	Addr       string
	Username   string
	Password   string
	Mailbox    string
	ChannelKey string
	Schedule   string
	BatchSize  int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	accounts, err := parseAccounts(os.Getenv("MAIL_ACCOUNTS"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAIL_ACCOUNTS: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-sync"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			InboundToken:          os.Getenv("INBOUND_EMAIL_TOKEN"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:   getEnv("LOG_LEVEL", "info"),
			Format:  getEnv("LOG_FORMAT", "json"),
			Service: getEnv("APP_NAME", "ticket-sync"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Remote: RemoteConfig{
			BaseURL:        remoteBaseURL(),
			Username:       os.Getenv("REMOTE_USERNAME"),
			Password:       os.Getenv("REMOTE_PASSWORD"),
			CallerSysID:    os.Getenv("REMOTE_CALLER_SYS_ID"),
			ContactType:    getEnv("REMOTE_CONTACT_TYPE", "virtual_agent"),
			TimeoutSeconds: getEnvAsInt("REMOTE_TIMEOUT_SECONDS", 30),
		},
		Sync: SyncConfig{
			MaxAttempts:       getEnvAsInt("SYNC_MAX_ATTEMPTS", 1),
			BackoffBaseSec:    getEnvAsInt("SYNC_BACKOFF_BASE_SECONDS", 30),
			BackoffMaxSec:     getEnvAsInt("SYNC_BACKOFF_MAX_SECONDS", 900),
			Workers:           getEnvAsInt("SYNC_WORKERS", 4),
			QueueSize:         getEnvAsInt("SYNC_QUEUE_SIZE", 256),
			LockTTLSeconds:    getEnvAsInt("SYNC_LOCK_TTL_SECONDS", 90),
			PollConcurrency:   getEnvAsInt("SYNC_POLL_CONCURRENCY", 8),
			SweepSchedule:     getEnv("SYNC_SWEEP_SCHEDULE", "@every 1m"),
			PollSchedule:      getEnv("SYNC_POLL_SCHEDULE", "@every 5m"),
			SweepBatchSize:    getEnvAsInt("SYNC_SWEEP_BATCH_SIZE", 100),
			NotifyTimeoutSecs: getEnvAsInt("NOTIFY_TIMEOUT_SECONDS", 15),
		},
		Mail: MailConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     getEnv("SMTP_FROM", "noreply@example.com"),
			Accounts: accounts,
		},
		Inbox: InboxConfig{
			Enabled:    getEnvAsBool("IMAP_ENABLED", false),
			Addr:       os.Getenv("IMAP_ADDR"),
			Username:   os.Getenv("IMAP_USERNAME"),
			Password:   os.Getenv("IMAP_PASSWORD"),
			Mailbox:    getEnv("IMAP_MAILBOX", "INBOX"),
			ChannelKey: getEnv("IMAP_CHANNEL_KEY", "default"),
			Schedule:   getEnv("IMAP_POLL_SCHEDULE", "@every 1m"),
			BatchSize:  getEnvAsInt("IMAP_BATCH_SIZE", 25),
		},
	}

	if cfg.Sync.MaxAttempts < 1 {
		return nil, fmt.Errorf("SYNC_MAX_ATTEMPTS must be >= 1, got %d", cfg.Sync.MaxAttempts)
	}
	if cfg.Inbox.Enabled && cfg.Inbox.Addr == "" {
		return nil, fmt.Errorf("IMAP_ADDR is required when IMAP_ENABLED is set")
	}

	return cfg, nil
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

// Timeout returns the per-call timeout for remote requests.
func (r RemoteConfig) Timeout() time.Duration {
	if r.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// LockTTL returns how long a per-ticket sync lock may be held.
func (s SyncConfig) LockTTL() time.Duration {
	return time.Duration(s.LockTTLSeconds) * time.Second
}

// BackoffBase returns the first retry delay.
func (s SyncConfig) BackoffBase() time.Duration {
	return time.Duration(s.BackoffBaseSec) * time.Second
}

// BackoffMax returns the retry delay ceiling.
func (s SyncConfig) BackoffMax() time.Duration {
	return time.Duration(s.BackoffMaxSec) * time.Second
}

// NotifyTimeout bounds a single reply notification.
func (s SyncConfig) NotifyTimeout() time.Duration {
	return time.Duration(s.NotifyTimeoutSecs) * time.Second
}

// FromFor returns the sender address configured for a channel key.
func (m MailConfig) FromFor(channelKey string) string {
	if from, ok := m.Accounts[channelKey]; ok && from != "" {
		return from
	}
	return m.From
}

// remoteBaseURL honours REMOTE_BASE_URL, otherwise derives it from the instance name.
func remoteBaseURL() string {
	if base := os.Getenv("REMOTE_BASE_URL"); base != "" {
		return strings.TrimRight(base, "/")
	}
	if instance := os.Getenv("REMOTE_INSTANCE"); instance != "" {
		return fmt.Sprintf("https://%s.service-now.com", instance)
	}
	return ""
}

// parseAccounts reads "key=address,key2=address2".
func parseAccounts(raw string) (map[string]string, error) {
	accounts := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return accounts, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		key, addr, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || key == "" || addr == "" {
			return nil, fmt.Errorf("malformed entry %q", pair)
		}
		accounts[strings.TrimSpace(key)] = strings.TrimSpace(addr)
	}
	return accounts, nil
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
