package app

import (
	"time"

	"brandlink/cmd/internal/ai"
	"brandlink/cmd/internal/chat"
	"brandlink/cmd/internal/notify"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// DevTokens seeds the in-memory verifier when no DB is configured.
	// Format: "token:participant_id,token2:participant2". Ignored in DB mode.
	DevTokens string

	AutoReply chat.AutoReplyConfig
	AI        ai.Config
	SMTP      notify.SMTPConfig
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("BRANDLINK_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("BRANDLINK_LOG_LEVEL", "info"),
		LogFormat: EnvString("BRANDLINK_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("BRANDLINK_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("BRANDLINK_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("BRANDLINK_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("BRANDLINK_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("BRANDLINK_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("BRANDLINK_DATABASE_URL", ""),
		DBSchema:    EnvString("BRANDLINK_DB_SCHEMA", "brandlink"),
		DBMaxConns:  EnvInt32("BRANDLINK_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("BRANDLINK_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("BRANDLINK_READINESS_REQUIRE_DB", false),

		DevTokens: EnvString("BRANDLINK_DEV_TOKENS", ""),

		AutoReply: chat.AutoReplyConfig{
			DelayMin: EnvDuration("BRANDLINK_AUTOREPLY_DELAY_MIN", 1*time.Second),
			DelayMax: EnvDuration("BRANDLINK_AUTOREPLY_DELAY_MAX", 3*time.Second),
		},

		AI: ai.Config{
			APIKey:    EnvString("BRANDLINK_ARK_API_KEY", ""),
			AccessKey: EnvString("BRANDLINK_ARK_ACCESS_KEY", ""),
			SecretKey: EnvString("BRANDLINK_ARK_SECRET_KEY", ""),
			Model:     EnvString("BRANDLINK_ARK_MODEL", ""),
			BaseURL:   EnvString("BRANDLINK_ARK_BASE_URL", ""),
			Region:    EnvString("BRANDLINK_ARK_REGION", ""),
			Timeout:   EnvDuration("BRANDLINK_ARK_TIMEOUT", 30*time.Second),
		},

		SMTP: notify.SMTPConfig{
			Addr:     EnvString("BRANDLINK_SMTP_ADDR", ""),
			From:     EnvString("BRANDLINK_SMTP_FROM", ""),
			Username: EnvString("BRANDLINK_SMTP_USERNAME", ""),
			Password: EnvString("BRANDLINK_SMTP_PASSWORD", ""),
		},
	}
}
