package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lineConfig() *Config {
	cfg := &Config{}
	cfg.Line.ChannelSecret = "secret"
	cfg.Line.ChannelAccessToken = "token"
	return cfg
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := lineConfig()
	require.NoError(t, Normalize(cfg))

	assert.True(t, cfg.Line.Enabled, "line is the default transport")
	assert.Equal(t, "/webhook", cfg.Line.WebhookPath)
	assert.Equal(t, 3000, cfg.HTTP.Port)
	assert.Equal(t, StoreFile, cfg.Store.Backend)
	assert.Equal(t, "data.json", cfg.Store.Path)
	assert.Equal(t, "แทงหวย", cfg.Conversation.EntryCommand)
	assert.Equal(t, []string{"SET"}, cfg.Conversation.Stocks)
	assert.Equal(t, ConversationMemory, cfg.Conversation.Backend)
	assert.Equal(t, 1800, cfg.Conversation.TTLSeconds)
	assert.Equal(t, 10000, cfg.Conversation.EventTimeoutMS)
	assert.Empty(t, cfg.Kafka.Topic)
}

func TestNormalizeRequiresLineCredentials(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, Normalize(cfg))

	cfg = &Config{}
	cfg.Line.ChannelSecret = "secret"
	assert.Error(t, Normalize(cfg))
}

func TestNormalizeStocks(t *testing.T) {
	cfg := lineConfig()
	cfg.Conversation.Stocks = []string{" SET ", "", "NIKKEI", "SET"}
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, []string{"SET", "NIKKEI"}, cfg.Conversation.Stocks)

	cfg = lineConfig()
	cfg.Conversation.Stocks = []string{"A=B"}
	assert.Error(t, Normalize(cfg))
}

func TestNormalizeTelegram(t *testing.T) {
	cfg := &Config{}
	cfg.Telegram.Enabled = true
	assert.Error(t, Normalize(cfg), "token required")

	cfg.Telegram.Token = "123:abc"
	cfg.Telegram.RunMode = "Polling"
	cfg.RateLimit.ExcludeUpdates = []string{" Callback "}
	require.NoError(t, Normalize(cfg))
	assert.False(t, cfg.Line.Enabled)
	assert.Equal(t, RunModeLongpoll, cfg.Telegram.RunMode)
	assert.Equal(t, []string{UpdateCallback}, cfg.RateLimit.ExcludeUpdates)

	cfg.Telegram.RunMode = RunModeWebhook
	assert.Error(t, Normalize(cfg), "webhook mode needs url, listen and port")

	cfg.Telegram.RunMode = "carrier-pigeon"
	assert.Error(t, Normalize(cfg))
}

func TestNormalizeBackends(t *testing.T) {
	cfg := lineConfig()
	cfg.Store.Backend = "Postgres"
	assert.Error(t, Normalize(cfg), "database host and name required")

	cfg.Database.Host = "db"
	cfg.Database.Name = "betbot"
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, StorePostgres, cfg.Store.Backend)
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "migrations", cfg.Database.MigrationsDir)

	cfg = lineConfig()
	cfg.Conversation.Backend = "redis"
	assert.Error(t, Normalize(cfg))
	cfg.Redis.Addr = "localhost:6379"
	require.NoError(t, Normalize(cfg))

	cfg = lineConfig()
	cfg.Store.Backend = "sqlite"
	assert.Error(t, Normalize(cfg))
}

func TestNormalizeKafkaTopic(t *testing.T) {
	cfg := lineConfig()
	cfg.Kafka.Brokers = "k1:9092"
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, "order_placed", cfg.Kafka.Topic)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
line:
  channel_secret: from-file
  channel_access_token: token
http:
  port: 8080
conversation:
  stocks: [SET, NIKKEI]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CHANNEL_SECRET", "from-env")
	t.Setenv("ADMIN_USER_ID", "Uadmin")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Line.ChannelSecret)
	assert.Equal(t, "Uadmin", cfg.Admin.UserID)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, []string{"SET", "NIKKEI"}, cfg.Conversation.Stocks)
}

func TestLoadMissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("CHANNEL_SECRET", "s")
	t.Setenv("CHANNEL_ACCESS_TOKEN", "t")
	t.Setenv("PORT", "4000")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.HTTP.Port)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("line: [unclosed"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}
