package profile

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the bot.
type Profile struct {
	// Persistence configuration
	Driver string // database driver: sqlite or mysql
	DSN    string // SQLite file path (ignored for mysql)

	MySQLHost     string
	MySQLPort     int
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string

	// Inference configuration
	OllamaURL     string
	OllamaModel   string // default model, required
	OllamaTimeout int    // total request timeout in seconds

	// Twitch configuration
	TwitchClientID     string
	TwitchClientSecret string
	Channels           []string // channels to join, lowercase

	// Optional bootstrap credentials imported into the encrypted
	// token store on first run.
	BootstrapAccessToken  string
	BootstrapRefreshToken string

	// TokenEncryptionKey is the base64-encoded 32-byte AES key for
	// token storage. Generated and logged once when absent.
	TokenEncryptionKey string

	// Content filter configuration
	ContentFilterEnabled bool
	BlockedWordsFile     string

	// KnownBots are extra usernames whose messages are ignored,
	// in addition to the built-in roster.
	KnownBots []string

	// Transport resilience
	MaxReconnectAttempts int // 0 means retry forever
	BanRetryDelay        int // seconds before a banned channel is retried

	// Observability
	LogLevel    string
	LogFormat   string // console or json
	MetricsAddr string // Prometheus listen address, empty disables

	// Resource thresholds and retention
	MemoryWarningMB        int
	MemoryCriticalMB       int
	DiskWarningPercent     float64
	DiskCriticalPercent    float64
	MessageRetentionDays   int
	MetricsRetentionDays   int
	CleanupIntervalMinutes int

	Version string
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float64 or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultBool returns environment variable value as bool or default value.
func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// SplitList splits a comma-separated value into trimmed, lowercased,
// non-empty entries.
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FromEnv loads the environment-only configuration. Fields that are
// also bound to CLI flags (driver, dsn, channels, logging, metrics
// address) are filled by the caller and left alone here when already
// set.
func (p *Profile) FromEnv() {
	if p.Driver == "" {
		p.Driver = getEnvOrDefault("DATABASE_TYPE", "sqlite")
	}
	if p.DSN == "" {
		p.DSN = getEnvOrDefault("DATABASE_URL", "./clank.db")
	}

	p.MySQLHost = getEnvOrDefault("MYSQL_HOST", "")
	p.MySQLPort = getEnvOrDefaultInt("MYSQL_PORT", 3306)
	p.MySQLUser = getEnvOrDefault("MYSQL_USER", "")
	p.MySQLPassword = getEnvOrDefault("MYSQL_PASSWORD", "")
	p.MySQLDatabase = getEnvOrDefault("MYSQL_DATABASE", "")

	p.OllamaURL = getEnvOrDefault("OLLAMA_URL", "http://localhost:11434")
	p.OllamaModel = getEnvOrDefault("OLLAMA_MODEL", "")
	p.OllamaTimeout = getEnvOrDefaultInt("OLLAMA_TIMEOUT", 30)

	p.TwitchClientID = getEnvOrDefault("TWITCH_CLIENT_ID", "")
	p.TwitchClientSecret = getEnvOrDefault("TWITCH_CLIENT_SECRET", "")
	if len(p.Channels) == 0 {
		p.Channels = SplitList(getEnvOrDefault("TWITCH_CHANNELS", ""))
	}
	p.BootstrapAccessToken = getEnvOrDefault("TWITCH_ACCESS_TOKEN", "")
	p.BootstrapRefreshToken = getEnvOrDefault("TWITCH_REFRESH_TOKEN", "")
	p.TokenEncryptionKey = getEnvOrDefault("TOKEN_ENCRYPTION_KEY", "")

	p.ContentFilterEnabled = getEnvOrDefaultBool("CONTENT_FILTER_ENABLED", true)
	p.BlockedWordsFile = getEnvOrDefault("BLOCKED_WORDS_FILE", "./blocked_words.txt")
	p.KnownBots = SplitList(getEnvOrDefault("KNOWN_BOTS", ""))

	p.MaxReconnectAttempts = getEnvOrDefaultInt("MAX_RECONNECT_ATTEMPTS", 0)
	p.BanRetryDelay = getEnvOrDefaultInt("BAN_RETRY_DELAY", 3600)

	if p.LogLevel == "" {
		p.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	}
	if p.LogFormat == "" {
		p.LogFormat = getEnvOrDefault("LOG_FORMAT", "console")
	}
	if p.MetricsAddr == "" {
		p.MetricsAddr = getEnvOrDefault("METRICS_ADDR", "")
	}

	p.MemoryWarningMB = getEnvOrDefaultInt("MEMORY_WARNING_MB", 512)
	p.MemoryCriticalMB = getEnvOrDefaultInt("MEMORY_CRITICAL_MB", 1024)
	p.DiskWarningPercent = getEnvOrDefaultFloat("DISK_WARNING_PERCENT", 85)
	p.DiskCriticalPercent = getEnvOrDefaultFloat("DISK_CRITICAL_PERCENT", 95)
	p.MessageRetentionDays = getEnvOrDefaultInt("MESSAGE_RETENTION_DAYS", 30)
	p.MetricsRetentionDays = getEnvOrDefaultInt("METRICS_RETENTION_DAYS", 7)
	p.CleanupIntervalMinutes = getEnvOrDefaultInt("CLEANUP_INTERVAL_MINUTES", 60)
}

// Validate checks required fields and normalises the channel list.
// Startup must not proceed on error.
func (p *Profile) Validate() error {
	switch p.Driver {
	case "sqlite":
		if p.DSN == "" {
			return errors.New("DATABASE_URL is required for sqlite")
		}
	case "mysql":
		if p.MySQLHost == "" || p.MySQLUser == "" || p.MySQLDatabase == "" {
			return errors.New("MYSQL_HOST, MYSQL_USER and MYSQL_DATABASE are required for mysql")
		}
	default:
		return errors.Errorf("unsupported database type %q (want sqlite or mysql)", p.Driver)
	}

	if p.OllamaModel == "" {
		return errors.New("OLLAMA_MODEL is required")
	}
	if p.OllamaTimeout <= 0 {
		p.OllamaTimeout = 30
	}

	if p.TwitchClientID == "" || p.TwitchClientSecret == "" {
		return errors.New("TWITCH_CLIENT_ID and TWITCH_CLIENT_SECRET are required")
	}

	channels := make([]string, 0, len(p.Channels))
	for _, ch := range p.Channels {
		ch = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(ch, "#")))
		if ch != "" {
			channels = append(channels, ch)
		}
	}
	p.Channels = channels
	if len(p.Channels) == 0 {
		return errors.New("TWITCH_CHANNELS must name at least one channel")
	}

	if p.MessageRetentionDays <= 0 {
		p.MessageRetentionDays = 30
	}
	if p.MetricsRetentionDays <= 0 {
		p.MetricsRetentionDays = 7
	}
	if p.CleanupIntervalMinutes <= 0 {
		p.CleanupIntervalMinutes = 60
	}
	if p.BanRetryDelay <= 0 {
		p.BanRetryDelay = 3600
	}
	if p.MaxReconnectAttempts < 0 {
		p.MaxReconnectAttempts = 0
	}

	return nil
}
