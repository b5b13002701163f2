// Package config loads the board's settings from the environment.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Reconcile policies applied after a successful signup.
const (
	ReconcileRefetch    = "refetch"
	ReconcileOptimistic = "optimistic"
)

// Config holds every setting the server reads at startup.
type Config struct {
	Addr string `env:"BOARD_ADDR" envDefault:":8080"`
	Env  string `env:"BOARD_ENV" envDefault:"development"`

	APIBaseURL string        `env:"BOARD_API_BASE_URL" envDefault:"http://localhost:8000"`
	APITimeout time.Duration `env:"BOARD_API_TIMEOUT" envDefault:"10s"`

	AllowRemoval          bool   `env:"BOARD_ALLOW_REMOVAL" envDefault:"true"`
	Reconcile             string `env:"BOARD_RECONCILE" envDefault:"refetch"`
	OrganizerPasscodeHash string `env:"BOARD_ORGANIZER_PASSCODE_HASH"`
	ConfirmationEmails    bool   `env:"BOARD_CONFIRMATION_EMAILS" envDefault:"false"`
	ResendKey             string `env:"BOARD_RESEND_KEY"`
	MailFrom              string `env:"BOARD_MAIL_FROM" envDefault:"Activity Board <board@localhost>"`

	// OutboxInterval is how often queued confirmation emails are retried.
	OutboxInterval time.Duration `env:"BOARD_OUTBOX_INTERVAL" envDefault:"1m"`

	CSRFKey        string        `env:"BOARD_CSRF_KEY"`
	TrustedOrigins []string      `env:"BOARD_TRUSTED_ORIGINS" envSeparator:","`
	RateLimit      int           `env:"BOARD_RATE_LIMIT" envDefault:"10"`
	SessionTTL     time.Duration `env:"BOARD_SESSION_TTL" envDefault:"24h"`

	DBPath string `env:"BOARD_DB_PATH" envDefault:"board.db"`

	SlowRequestMs  int `env:"BOARD_SLOW_REQUEST_MS" envDefault:"200"`
	SlowUpstreamMs int `env:"BOARD_SLOW_UPSTREAM_MS" envDefault:"500"`
	SlowQueryMs    int `env:"BOARD_SLOW_QUERY_MS" envDefault:"50"`

	LogLevel  string `env:"BOARD_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"BOARD_LOG_FORMAT" envDefault:"text"`
}

// Load reads an optional .env file, then parses the environment.
// PRE: none
// POST: Returns a validated Config or an error naming the bad setting
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv parses environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks cross-field rules the struct tags cannot express.
// PRE: none
// POST: Returns nil when the configuration is usable
func (c Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BOARD_API_BASE_URL must be an absolute http(s) URL, got %q", c.APIBaseURL)
	}
	switch c.Reconcile {
	case ReconcileRefetch:
	case ReconcileOptimistic:
		if !c.AllowRemoval {
			return errors.New("BOARD_RECONCILE=optimistic requires BOARD_ALLOW_REMOVAL=true")
		}
	default:
		return fmt.Errorf("BOARD_RECONCILE must be %q or %q, got %q", ReconcileRefetch, ReconcileOptimistic, c.Reconcile)
	}
	if c.APITimeout <= 0 {
		return errors.New("BOARD_API_TIMEOUT must be positive")
	}
	if c.RateLimit <= 0 {
		return errors.New("BOARD_RATE_LIMIT must be positive")
	}
	if c.SessionTTL <= 0 {
		return errors.New("BOARD_SESSION_TTL must be positive")
	}
	if c.OutboxInterval <= 0 {
		return errors.New("BOARD_OUTBOX_INTERVAL must be positive")
	}
	if c.CSRFKey != "" {
		if _, err := c.CSRFKeyBytes(); err != nil {
			return err
		}
	} else if c.IsProduction() {
		return errors.New("BOARD_CSRF_KEY is required in production")
	}
	if c.OrganizerPasscodeHash != "" && !strings.HasPrefix(c.OrganizerPasscodeHash, "$2") {
		return errors.New("BOARD_ORGANIZER_PASSCODE_HASH must be a bcrypt hash")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("BOARD_LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// IsProduction reports whether the server runs with production hardening.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// OrganizerGate reports whether removal requires an organizer unlock.
func (c Config) OrganizerGate() bool {
	return c.OrganizerPasscodeHash != ""
}

// CSRFKeyBytes decodes the 64-hex-character CSRF key.
// PRE: CSRFKey is non-empty
// POST: Returns 32 bytes or an error
func (c Config) CSRFKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(c.CSRFKey)
	if err != nil || len(key) != 32 {
		return nil, errors.New("BOARD_CSRF_KEY must be 64 hex characters (32 bytes)")
	}
	return key, nil
}

// ParseLevel maps BOARD_LOG_LEVEL onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("BOARD_LOG_LEVEL must be debug, info, warn or error, got %q", s)
}
