package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// LineConfig holds LINE Messaging API credentials.
type LineConfig struct {
	Enabled            bool   `yaml:"enabled" envconfig:"LINE_ENABLED"`
	ChannelSecret      string `yaml:"channel_secret" envconfig:"CHANNEL_SECRET"`
	ChannelAccessToken string `yaml:"channel_access_token" envconfig:"CHANNEL_ACCESS_TOKEN"`
	// WebhookPath is the route the LINE platform posts events to.
	WebhookPath string `yaml:"webhook_path" envconfig:"LINE_WEBHOOK_PATH"`
}

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"TELEGRAM_ENABLED"`
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies Telegram webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// HTTPConfig configures the public HTTP server (LINE webhook, admin API, health, metrics).
type HTTPConfig struct {
	Listen         string `yaml:"listen" envconfig:"HTTP_LISTEN"`
	Port           int    `yaml:"port" envconfig:"PORT"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms" envconfig:"HTTP_READ_TIMEOUT_MS"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms" envconfig:"HTTP_WRITE_TIMEOUT_MS"`
	// RequestsPerSecond limits requests to the admin API; 0 disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" envconfig:"HTTP_REQUESTS_PER_SECOND"`
	Burst             int     `yaml:"burst" envconfig:"HTTP_BURST"`
	MetricsEnabled    bool    `yaml:"metrics_enabled" envconfig:"HTTP_METRICS_ENABLED"`
}

// AdminConfig guards the tenant registry endpoints and names the operator account.
type AdminConfig struct {
	// Token is the shared secret expected as "Authorization: Bearer <token>".
	Token string `yaml:"token" envconfig:"ADMIN_TOKEN"`
	// UserID is the administrator's LINE user id; new orders are pushed to it when set.
	UserID string `yaml:"user_id" envconfig:"ADMIN_USER_ID"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Backend string `yaml:"backend" envconfig:"STORE_BACKEND"`
	// Path is the JSON document used by the file backend.
	Path string `yaml:"path" envconfig:"STORE_PATH"`
}

// DatabaseConfig holds postgres connection settings for the postgres store backend.
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

// ConversationConfig drives the wager conversation and its state tracker.
type ConversationConfig struct {
	EntryCommand string   `yaml:"entry_command" envconfig:"ENTRY_COMMAND"`
	Stocks       []string `yaml:"stocks" envconfig:"STOCKS"`
	Backend      string   `yaml:"backend" envconfig:"CONVERSATION_BACKEND"`
	TTLSeconds   int      `yaml:"ttl_seconds" envconfig:"CONVERSATION_TTL_SECONDS"`
	MaxUsers     int      `yaml:"max_users" envconfig:"CONVERSATION_MAX_USERS"`
	// EventTimeoutMS bounds processing of a single inbound event, including the store flush and reply.
	EventTimeoutMS int `yaml:"event_timeout_ms" envconfig:"EVENT_TIMEOUT_MS"`
}

// RedisConfig is used by the redis conversation backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
}

// KafkaConfig enables publication of placed orders. Empty brokers disable it.
type KafkaConfig struct {
	Brokers string `yaml:"brokers" envconfig:"KAFKA_BROKERS"`
	Topic   string `yaml:"topic" envconfig:"KAFKA_TOPIC_ORDER_PLACED"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	File        string `yaml:"file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// RateLimitConfig holds per-user throttling for the Telegram adapter.
// ExcludeUpdates accepts update types to bypass limiting:
// - "callback": Telegram callback button presses
// - "message": standard text messages
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// StoreFile keeps tenants and orders in a single JSON document.
	StoreFile = "file"
	// StorePostgres keeps tenants and orders in postgres tables.
	StorePostgres = "postgres"

	// ConversationMemory keeps conversations in a bounded in-process LRU.
	ConversationMemory = "memory"
	// ConversationRedis keeps conversations in redis with a TTL.
	ConversationRedis = "redis"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
)

const (
	defaultEntryCommand   = "แทงหวย"
	defaultStorePath      = "data.json"
	defaultHTTPPort       = 3000
	defaultLineWebhook    = "/webhook"
	defaultTTLSeconds     = 30 * 60
	defaultMaxUsers       = 10000
	defaultEventTimeoutMS = 10000
	defaultKafkaTopic     = "order_placed"
	defaultMigrationsDir  = "migrations"
)

// Config aggregates the service configuration.
type Config struct {
	Line         LineConfig         `yaml:"line"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	HTTP         HTTPConfig         `yaml:"http"`
	Admin        AdminConfig        `yaml:"admin"`
	Store        StoreConfig        `yaml:"store"`
	Database     DatabaseConfig     `yaml:"database"`
	Conversation ConversationConfig `yaml:"conversation"`
	Redis        RedisConfig        `yaml:"redis"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Logging      LoggingConfig      `yaml:"logging"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
}

// Load reads configuration from a YAML file and environment variables.
// A missing file is tolerated so the service can run from the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if !cfg.Line.Enabled && !cfg.Telegram.Enabled {
		// The original deployment is LINE only.
		cfg.Line.Enabled = true
	}

	if cfg.Line.Enabled {
		if strings.TrimSpace(cfg.Line.ChannelSecret) == "" {
			return fmt.Errorf("line.channel_secret is required when line is enabled")
		}
		if strings.TrimSpace(cfg.Line.ChannelAccessToken) == "" {
			return fmt.Errorf("line.channel_access_token is required when line is enabled")
		}
		if cfg.Line.WebhookPath == "" {
			cfg.Line.WebhookPath = defaultLineWebhook
		}
		if !strings.HasPrefix(cfg.Line.WebhookPath, "/") {
			cfg.Line.WebhookPath = "/" + cfg.Line.WebhookPath
		}
	}

	if cfg.Telegram.Enabled {
		if err := normalizeTelegram(cfg); err != nil {
			return err
		}
	}

	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = defaultHTTPPort
	}
	if cfg.HTTP.Port < 0 {
		return fmt.Errorf("http.port must be > 0")
	}
	if cfg.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	if cfg.HTTP.RequestsPerSecond > 0 && cfg.HTTP.Burst <= 0 {
		cfg.HTTP.Burst = int(cfg.HTTP.RequestsPerSecond) + 1
	}

	if err := normalizeStore(cfg); err != nil {
		return err
	}
	if err := normalizeConversation(cfg); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.Kafka.Brokers) != "" && strings.TrimSpace(cfg.Kafka.Topic) == "" {
		cfg.Kafka.Topic = defaultKafkaTopic
	}
	return nil
}

func normalizeTelegram(cfg *Config) error {
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required when telegram is enabled")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
	}
	if rm == "polling" { // accept alias
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

	allowed := map[string]struct{}{
		UpdateCallback: {},
		UpdateMessage:  {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}
	return nil
}

func normalizeStore(cfg *Config) error {
	backend := strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if backend == "" {
		backend = StoreFile
	}
	switch backend {
	case StoreFile:
		if strings.TrimSpace(cfg.Store.Path) == "" {
			cfg.Store.Path = defaultStorePath
		}
	case StorePostgres:
		if cfg.Database.Host == "" || cfg.Database.Name == "" {
			return fmt.Errorf("database.host and database.name are required when store.backend is 'postgres'")
		}
		if cfg.Database.Port == "" {
			cfg.Database.Port = "5432"
		}
		if cfg.Database.SSLMode == "" {
			cfg.Database.SSLMode = "disable"
		}
		if cfg.Database.MaxConnections <= 0 {
			cfg.Database.MaxConnections = 5
		}
		if cfg.Database.MigrationsDir == "" {
			cfg.Database.MigrationsDir = defaultMigrationsDir
		}
	default:
		return fmt.Errorf("invalid store.backend %q; allowed: file, postgres", cfg.Store.Backend)
	}
	cfg.Store.Backend = backend
	return nil
}

func normalizeConversation(cfg *Config) error {
	c := &cfg.Conversation
	c.EntryCommand = strings.TrimSpace(c.EntryCommand)
	if c.EntryCommand == "" {
		c.EntryCommand = defaultEntryCommand
	}

	stocks := make([]string, 0, len(c.Stocks))
	seen := make(map[string]struct{}, len(c.Stocks))
	for _, s := range c.Stocks {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.ContainsAny(s, "=&") {
			return fmt.Errorf("invalid conversation.stocks value %q; '=' and '&' are reserved", s)
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		stocks = append(stocks, s)
	}
	if len(stocks) == 0 {
		stocks = []string{"SET"}
	}
	c.Stocks = stocks

	if c.TTLSeconds <= 0 {
		c.TTLSeconds = defaultTTLSeconds
	}
	if c.MaxUsers <= 0 {
		c.MaxUsers = defaultMaxUsers
	}
	if c.EventTimeoutMS <= 0 {
		c.EventTimeoutMS = defaultEventTimeoutMS
	}

	backend := strings.ToLower(strings.TrimSpace(c.Backend))
	if backend == "" {
		backend = ConversationMemory
	}
	switch backend {
	case ConversationMemory:
	case ConversationRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required when conversation.backend is 'redis'")
		}
	default:
		return fmt.Errorf("invalid conversation.backend %q; allowed: memory, redis", c.Backend)
	}
	c.Backend = backend
	return nil
}
