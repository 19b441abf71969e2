package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
	// AllowedUsers restricts the bot to these correspondents when non-empty.
	AllowedUsers []int64 `yaml:"allowed_users" envconfig:"TELEGRAM_ALLOWED_USERS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample" envconfig:"LOG_DEBUG_SAMPLE"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

// RateLimitConfig holds settings for per-correspondent rate limiting.
// ExcludeUpdates lists update kinds (wire names such as "callback_query",
// "message", "inline_query") that bypass the limiter.
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// DispatchConfig tunes the update dispatch engine.
type DispatchConfig struct {
	// Workers bounds how many updates are processed concurrently.
	Workers int `yaml:"workers" envconfig:"DISPATCH_WORKERS"`
	// MaxTransitionDepth bounds chained state entries per settle.
	MaxTransitionDepth int `yaml:"max_transition_depth" envconfig:"DISPATCH_MAX_TRANSITION_DEPTH"`
	// SenderWorkers and SenderQueue size the outbound sender.
	SenderWorkers int `yaml:"sender_workers" envconfig:"DISPATCH_SENDER_WORKERS"`
	SenderQueue   int `yaml:"sender_queue" envconfig:"DISPATCH_SENDER_QUEUE"`
	SenderRetries int `yaml:"sender_retries" envconfig:"DISPATCH_SENDER_RETRIES"`
}

const (
	// StateBackendMemory keeps envelopes in process memory.
	StateBackendMemory = "memory"
	// StateBackendPostgres stores envelopes in PostgreSQL.
	StateBackendPostgres = "postgres"
	// StateBackendSQLite stores envelopes in an SQLite file.
	StateBackendSQLite = "sqlite"
	// StateBackendRedis stores envelopes in Redis.
	StateBackendRedis = "redis"
)

// StateConfig selects and parameterizes the state store backend.
type StateConfig struct {
	Backend   string `yaml:"backend" envconfig:"STATE_BACKEND"`
	Namespace string `yaml:"namespace" envconfig:"STATE_NAMESPACE"`
	// TTLSeconds expires idle envelopes in backends that support it; 0 disables.
	TTLSeconds int `yaml:"ttl_seconds" envconfig:"STATE_TTL_SECONDS"`
}

// TTL returns the configured expiry as a duration.
func (s StateConfig) TTL() time.Duration {
	if s.TTLSeconds <= 0 {
		return 0
	}
	return time.Duration(s.TTLSeconds) * time.Second
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	MigrationsDir  string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// SQLiteConfig points at an SQLite database file.
type SQLiteConfig struct {
	Path string `yaml:"path" envconfig:"SQLITE_PATH"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password  string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" envconfig:"REDIS_DB"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"REDIS_KEY_PREFIX"`
}

// AdminConfig controls the optional admin HTTP server.
type AdminConfig struct {
	// Listen is a host:port address; empty disables the server.
	Listen string `yaml:"listen" envconfig:"ADMIN_LISTEN"`
}

// Config aggregates the configuration that belongs to the reusable core.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	State     StateConfig     `yaml:"state"`
	Database  DatabaseConfig  `yaml:"database"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Redis     RedisConfig     `yaml:"redis"`
	Admin     AdminConfig     `yaml:"admin"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := LoadInto(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadInto decodes the YAML file at path into dst and overlays the
// environment. dst may embed Config to carry application sections.
func LoadInto(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", dst); err != nil {
		return fmt.Errorf("failed to process env: %w", err)
	}
	return nil
}

var validUpdateKinds = map[string]struct{}{
	"message":                   {},
	"edited_message":            {},
	"channel_post":              {},
	"edited_channel_post":       {},
	"callback_query":            {},
	"inline_query":              {},
	"chosen_inline_result":      {},
	"shipping_query":            {},
	"pre_checkout_query":        {},
	"poll":                      {},
	"poll_answer":               {},
	"my_chat_member":            {},
	"chat_member":               {},
	"chat_join_request":         {},
	"message_reaction":          {},
	"message_reaction_count":    {},
	"chat_boost":                {},
	"removed_chat_boost":        {},
	"business_connection":       {},
	"business_message":          {},
	"edited_business_message":   {},
	"deleted_business_messages": {},
	"purchased_paid_media":      {},
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" || rm == "polling" {
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "callback" {
			key = "callback_query"
		}
		if key == "" {
			continue
		}
		if _, ok := validUpdateKinds[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}

	if err := normalizeDispatch(&cfg.Dispatch); err != nil {
		return err
	}
	return normalizeState(cfg)
}

func normalizeDispatch(d *DispatchConfig) error {
	if d.Workers < 0 {
		return fmt.Errorf("dispatch.workers must be >= 0")
	}
	if d.Workers == 0 {
		d.Workers = 16
	}
	if d.MaxTransitionDepth < 0 {
		return fmt.Errorf("dispatch.max_transition_depth must be >= 0")
	}
	if d.MaxTransitionDepth == 0 {
		d.MaxTransitionDepth = 64
	}
	if d.SenderRetries < 0 {
		return fmt.Errorf("dispatch.sender_retries must be >= 0")
	}
	return nil
}

func normalizeState(cfg *Config) error {
	st := &cfg.State
	st.Backend = strings.ToLower(strings.TrimSpace(st.Backend))
	if st.Backend == "" {
		st.Backend = StateBackendMemory
	}
	if st.Namespace = strings.TrimSpace(st.Namespace); st.Namespace == "" {
		st.Namespace = "default"
	}
	if st.TTLSeconds < 0 {
		return fmt.Errorf("state.ttl_seconds must be >= 0")
	}
	switch st.Backend {
	case StateBackendMemory:
	case StateBackendPostgres:
		if strings.TrimSpace(cfg.Database.Host) == "" || strings.TrimSpace(cfg.Database.Name) == "" {
			return fmt.Errorf("database.host and database.name are required for state.backend %q", st.Backend)
		}
		if cfg.Database.SSLMode == "" {
			cfg.Database.SSLMode = "disable"
		}
		if cfg.Database.Port == "" {
			cfg.Database.Port = "5432"
		}
		if cfg.Database.MaxConnections <= 0 {
			cfg.Database.MaxConnections = 10
		}
		if cfg.Database.MigrationsDir == "" {
			cfg.Database.MigrationsDir = "migrations"
		}
	case StateBackendSQLite:
		if strings.TrimSpace(cfg.SQLite.Path) == "" {
			return fmt.Errorf("sqlite.path is required for state.backend %q", st.Backend)
		}
	case StateBackendRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required for state.backend %q", st.Backend)
		}
		if cfg.Redis.KeyPrefix == "" {
			cfg.Redis.KeyPrefix = "flowbot"
		}
	default:
		return fmt.Errorf("invalid state.backend %q; allowed: memory, postgres, sqlite, redis", st.Backend)
	}
	return nil
}
