package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// envVars lists every variable FromEnv reads, so tests can clear them.
var envVars = []string{
	"DATABASE_TYPE", "DATABASE_URL",
	"MYSQL_HOST", "MYSQL_PORT", "MYSQL_USER", "MYSQL_PASSWORD", "MYSQL_DATABASE",
	"OLLAMA_URL", "OLLAMA_MODEL", "OLLAMA_TIMEOUT",
	"TWITCH_CLIENT_ID", "TWITCH_CLIENT_SECRET", "TWITCH_CHANNELS",
	"TWITCH_ACCESS_TOKEN", "TWITCH_REFRESH_TOKEN", "TOKEN_ENCRYPTION_KEY",
	"CONTENT_FILTER_ENABLED", "BLOCKED_WORDS_FILE", "KNOWN_BOTS",
	"MAX_RECONNECT_ATTEMPTS", "BAN_RETRY_DELAY",
	"LOG_LEVEL", "LOG_FORMAT", "METRICS_ADDR",
	"MEMORY_WARNING_MB", "MEMORY_CRITICAL_MB",
	"DISK_WARNING_PERCENT", "DISK_CRITICAL_PERCENT",
	"MESSAGE_RETENTION_DAYS", "METRICS_RETENTION_DAYS", "CLEANUP_INTERVAL_MINUTES",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range envVars {
		t.Setenv(v, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "sqlite", p.Driver)
	assert.Equal(t, "./clank.db", p.DSN)
	assert.Equal(t, 3306, p.MySQLPort)
	assert.Equal(t, "http://localhost:11434", p.OllamaURL)
	assert.Equal(t, 30, p.OllamaTimeout)
	assert.True(t, p.ContentFilterEnabled)
	assert.Equal(t, "./blocked_words.txt", p.BlockedWordsFile)
	assert.Equal(t, 0, p.MaxReconnectAttempts)
	assert.Equal(t, 3600, p.BanRetryDelay)
	assert.Equal(t, "info", p.LogLevel)
	assert.Equal(t, "console", p.LogFormat)
	assert.Equal(t, 512, p.MemoryWarningMB)
	assert.Equal(t, 1024, p.MemoryCriticalMB)
	assert.InDelta(t, 85, p.DiskWarningPercent, 0.001)
	assert.InDelta(t, 95, p.DiskCriticalPercent, 0.001)
	assert.Equal(t, 30, p.MessageRetentionDays)
	assert.Equal(t, 7, p.MetricsRetentionDays)
	assert.Equal(t, 60, p.CleanupIntervalMinutes)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_TYPE", "mysql")
	t.Setenv("MYSQL_HOST", "db.internal")
	t.Setenv("MYSQL_PORT", "13306")
	t.Setenv("OLLAMA_MODEL", "llama3.1")
	t.Setenv("TWITCH_CHANNELS", " Alpha , beta,,GAMMA ")
	t.Setenv("CONTENT_FILTER_ENABLED", "false")
	t.Setenv("KNOWN_BOTS", "MyHelper, otherbot")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "mysql", p.Driver)
	assert.Equal(t, "db.internal", p.MySQLHost)
	assert.Equal(t, 13306, p.MySQLPort)
	assert.Equal(t, "llama3.1", p.OllamaModel)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, p.Channels)
	assert.False(t, p.ContentFilterEnabled)
	assert.Equal(t, []string{"myhelper", "otherbot"}, p.KnownBots)
}

func validProfile() *Profile {
	return &Profile{
		Driver:             "sqlite",
		DSN:                "./clank.db",
		OllamaModel:        "llama3.1",
		OllamaTimeout:      30,
		TwitchClientID:     "cid",
		TwitchClientSecret: "csecret",
		Channels:           []string{"somechannel"},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid sqlite profile", func(t *testing.T) {
		p := validProfile()
		require.NoError(t, p.Validate())
	})

	t.Run("unknown driver", func(t *testing.T) {
		p := validProfile()
		p.Driver = "postgres"
		assert.Error(t, p.Validate())
	})

	t.Run("mysql requires connection fields", func(t *testing.T) {
		p := validProfile()
		p.Driver = "mysql"
		assert.Error(t, p.Validate())

		p.MySQLHost = "localhost"
		p.MySQLUser = "clank"
		p.MySQLDatabase = "clank"
		assert.NoError(t, p.Validate())
	})

	t.Run("model required", func(t *testing.T) {
		p := validProfile()
		p.OllamaModel = ""
		assert.Error(t, p.Validate())
	})

	t.Run("twitch credentials required", func(t *testing.T) {
		p := validProfile()
		p.TwitchClientSecret = ""
		assert.Error(t, p.Validate())
	})

	t.Run("channels required and normalised", func(t *testing.T) {
		p := validProfile()
		p.Channels = nil
		assert.Error(t, p.Validate())

		p = validProfile()
		p.Channels = []string{"#SomeChannel", "  "}
		require.NoError(t, p.Validate())
		assert.Equal(t, []string{"somechannel"}, p.Channels)
	})

	t.Run("zero intervals fall back to defaults", func(t *testing.T) {
		p := validProfile()
		p.OllamaTimeout = 0
		p.BanRetryDelay = -5
		p.MaxReconnectAttempts = -1
		require.NoError(t, p.Validate())
		assert.Equal(t, 30, p.OllamaTimeout)
		assert.Equal(t, 3600, p.BanRetryDelay)
		assert.Equal(t, 0, p.MaxReconnectAttempts)
	})
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList(""))
	assert.Equal(t, []string{"a", "b"}, SplitList("A, b ,"))
}
