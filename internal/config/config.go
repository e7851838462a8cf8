// Package config reads agent and dev-backend settings from the environment,
// with an optional .env file layered underneath.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"frontdesk/internal/domain/kiosk"
	"frontdesk/internal/domain/scan"
)

// Reader kinds
const (
	ReaderStream   = "stream"
	ReaderKeyboard = "keyboard"
)

// Trainer check-in inputs
const (
	TrainerInputQR   = "qr"
	TrainerInputRFID = "rfid"
)

// EnvProduction is the FRONTDESK_ENV value that turns on strict checks.
const EnvProduction = "production"

// Kiosk configures cmd/kiosk.
type Kiosk struct {
	Env      string
	LogLevel slog.Level

	APIURL         string
	DBPath         string
	CookiePath     string
	CookieHashKey  []byte // empty disables the cookie jar mirror
	CookieBlockKey []byte

	Reader         string
	Device         string // device path, "stdin", or "" to detect
	MinLength      int
	ResetAfter     time.Duration
	SubmitOnIdle   bool
	TerminateOnTab bool

	PollInterval time.Duration
	Cooldown     time.Duration
	Mode         string
	TrainerInput string // qr or rfid; trainer mode only
}

// Backend configures cmd/devbackend.
type Backend struct {
	Env      string
	LogLevel slog.Level

	Addr          string
	JWTSecret     string
	CSRFKey       []byte
	AdminEmail    string
	AdminPassword string
}

// LoadDotEnv loads the named .env files (default ".env") without overriding
// variables already set. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		slog.Debug("config_event", "event", "dotenv_absent", "files", strings.Join(files, ","))
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// LoadKiosk reads the kiosk settings from the environment.
// POST: Returns every malformed variable in one joined error
func LoadKiosk() (Kiosk, error) {
	var p parser
	c := Kiosk{
		Env:            envOrDefault("FRONTDESK_ENV", "development"),
		LogLevel:       p.level("FRONTDESK_LOG_LEVEL", slog.LevelInfo),
		APIURL:         envOrDefault("FRONTDESK_API_URL", "http://localhost:8081/api"),
		DBPath:         envOrDefault("FRONTDESK_DB_PATH", "frontdesk.db"),
		CookiePath:     envOrDefault("FRONTDESK_COOKIE_PATH", "frontdesk.cookies"),
		CookieHashKey:  p.hexKey("FRONTDESK_COOKIE_HASH_KEY", 32, 64),
		CookieBlockKey: p.hexKey("FRONTDESK_COOKIE_BLOCK_KEY", 16, 24, 32),
		Reader:         strings.ToLower(envOrDefault("FRONTDESK_READER", ReaderStream)),
		Device:         os.Getenv("FRONTDESK_DEVICE"),
		MinLength:      p.integer("FRONTDESK_MIN_LENGTH", scan.DefaultMinLength),
		ResetAfter:     p.millis("FRONTDESK_RESET_MS", 500*time.Millisecond),
		SubmitOnIdle:   p.boolean("FRONTDESK_SUBMIT_ON_IDLE", true),
		TerminateOnTab: p.boolean("FRONTDESK_TERMINATE_ON_TAB", false),
		PollInterval:   p.millis("FRONTDESK_POLL_INTERVAL_MS", 3*time.Second),
		Cooldown:       p.millis("FRONTDESK_COOLDOWN_MS", 700*time.Millisecond),
		Mode:           strings.ToLower(envOrDefault("FRONTDESK_ROLE", kiosk.ModePublic)),
		TrainerInput:   strings.ToLower(envOrDefault("FRONTDESK_TRAINER_INPUT", TrainerInputQR)),
	}
	if c.Reader != ReaderStream && c.Reader != ReaderKeyboard {
		p.fail("FRONTDESK_READER", c.Reader, errors.New("must be stream or keyboard"))
	}
	if !kiosk.IsValidMode(c.Mode) {
		p.fail("FRONTDESK_ROLE", c.Mode, kiosk.ErrInvalidMode)
	}
	if c.TrainerInput != TrainerInputQR && c.TrainerInput != TrainerInputRFID {
		p.fail("FRONTDESK_TRAINER_INPUT", c.TrainerInput, errors.New("must be qr or rfid"))
	}
	if c.MinLength < 1 {
		p.fail("FRONTDESK_MIN_LENGTH", strconv.Itoa(c.MinLength), errors.New("must be at least 1"))
	}
	if c.IsProduction() && len(c.CookieHashKey) == 0 {
		slog.Warn("config_event", "event", "cookie_jar_disabled", "reason", "FRONTDESK_COOKIE_HASH_KEY is not set")
	}
	return c, p.err()
}

// IsProduction reports whether FRONTDESK_ENV is production.
func (c Kiosk) IsProduction() bool { return c.Env == EnvProduction }

// LoadBackend reads the dev backend settings from the environment.
// POST: In production an explicit JWT secret is required
func LoadBackend() (Backend, error) {
	var p parser
	c := Backend{
		Env:           envOrDefault("FRONTDESK_ENV", "development"),
		LogLevel:      p.level("FRONTDESK_LOG_LEVEL", slog.LevelInfo),
		Addr:          envOrDefault("FRONTDESK_BACKEND_ADDR", ":8081"),
		JWTSecret:     os.Getenv("FRONTDESK_JWT_SECRET"),
		CSRFKey:       p.hexKey("FRONTDESK_CSRF_KEY", 32),
		AdminEmail:    envOrDefault("FRONTDESK_ADMIN_EMAIL", "admin@frontdesk.local"),
		AdminPassword: envOrDefault("FRONTDESK_ADMIN_PASSWORD", "frontdesk-admin"),
	}
	if c.JWTSecret == "" {
		if c.Env == EnvProduction {
			p.fail("FRONTDESK_JWT_SECRET", "", errors.New("required in production"))
		}
		c.JWTSecret = "frontdesk-dev-secret"
	}
	return c, p.err()
}

// NewLogger returns a text logger writing to w at level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// parser collects conversion errors so all bad variables are reported at once.
type parser struct {
	errs []error
}

func (p *parser) fail(key, value string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (p *parser) err() error { return errors.Join(p.errs...) }

func (p *parser) integer(key string, fallback int) int {
	v := envOrDefault(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return n
}

func (p *parser) millis(key string, fallback time.Duration) time.Duration {
	v := envOrDefault(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		p.fail(key, v, errors.New("must be a positive number of milliseconds"))
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

func (p *parser) boolean(key string, fallback bool) bool {
	v := envOrDefault(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return b
}

func (p *parser) level(key string, fallback slog.Level) slog.Level {
	v := envOrDefault(key, "")
	if v == "" {
		return fallback
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return l
}

// hexKey decodes a hex key whose byte length must be one of sizes.
func (p *parser) hexKey(key string, sizes ...int) []byte {
	v := envOrDefault(key, "")
	if v == "" {
		return nil
	}
	b, err := hex.DecodeString(v)
	if err != nil {
		p.fail(key, "<redacted>", errors.New("must be hex"))
		return nil
	}
	for _, n := range sizes {
		if len(b) == n {
			return b
		}
	}
	p.fail(key, "<redacted>", fmt.Errorf("decodes to %d bytes, want one of %v", len(b), sizes))
	return nil
}
