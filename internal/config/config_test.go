package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"frontdesk/internal/config"
)

func TestLoadKiosk_Defaults(t *testing.T) {
	c, err := config.LoadKiosk()
	if err != nil {
		t.Fatalf("LoadKiosk: %v", err)
	}
	if c.Reader != config.ReaderStream || c.Mode != "public" || c.TrainerInput != config.TrainerInputQR {
		t.Errorf("reader/mode/trainer input = %q/%q/%q", c.Reader, c.Mode, c.TrainerInput)
	}
	if c.MinLength != 4 || c.ResetAfter != 500*time.Millisecond || !c.SubmitOnIdle || c.TerminateOnTab {
		t.Errorf("decoder settings = %+v", c)
	}
	if c.PollInterval != 3*time.Second || c.Cooldown != 700*time.Millisecond {
		t.Errorf("intervals = %v/%v", c.PollInterval, c.Cooldown)
	}
	if c.CookieHashKey != nil || c.IsProduction() {
		t.Errorf("unexpected cookie key or env: %+v", c)
	}
}

func TestLoadKiosk_Overrides(t *testing.T) {
	t.Setenv("FRONTDESK_READER", "Keyboard")
	t.Setenv("FRONTDESK_ROLE", "trainer")
	t.Setenv("FRONTDESK_TRAINER_INPUT", "RFID")
	t.Setenv("FRONTDESK_MIN_LENGTH", "8")
	t.Setenv("FRONTDESK_RESET_MS", "250")
	t.Setenv("FRONTDESK_TERMINATE_ON_TAB", "true")
	t.Setenv("FRONTDESK_LOG_LEVEL", "debug")
	t.Setenv("FRONTDESK_COOKIE_HASH_KEY", strings.Repeat("ab", 32))

	c, err := config.LoadKiosk()
	if err != nil {
		t.Fatalf("LoadKiosk: %v", err)
	}
	if c.Reader != config.ReaderKeyboard || c.Mode != "trainer" || c.MinLength != 8 || c.TrainerInput != config.TrainerInputRFID {
		t.Errorf("config = %+v", c)
	}
	if c.ResetAfter != 250*time.Millisecond || !c.TerminateOnTab || c.LogLevel != slog.LevelDebug {
		t.Errorf("config = %+v", c)
	}
	if len(c.CookieHashKey) != 32 {
		t.Errorf("hash key length = %d", len(c.CookieHashKey))
	}
}

func TestLoadKiosk_ReportsEveryBadValue(t *testing.T) {
	t.Setenv("FRONTDESK_READER", "camera")
	t.Setenv("FRONTDESK_RESET_MS", "-1")
	t.Setenv("FRONTDESK_SUBMIT_ON_IDLE", "maybe")
	t.Setenv("FRONTDESK_COOKIE_HASH_KEY", "abcd")
	t.Setenv("FRONTDESK_TRAINER_INPUT", "nfc")

	_, err := config.LoadKiosk()
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, key := range []string{"FRONTDESK_READER", "FRONTDESK_RESET_MS", "FRONTDESK_SUBMIT_ON_IDLE", "FRONTDESK_COOKIE_HASH_KEY", "FRONTDESK_TRAINER_INPUT"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
	if strings.Contains(err.Error(), "abcd") {
		t.Error("key material should be redacted")
	}
}

func TestLoadBackend(t *testing.T) {
	c, err := config.LoadBackend()
	if err != nil {
		t.Fatalf("LoadBackend: %v", err)
	}
	if c.Addr != ":8081" || c.JWTSecret == "" {
		t.Errorf("config = %+v", c)
	}

	t.Setenv("FRONTDESK_ENV", "production")
	if _, err := config.LoadBackend(); err == nil {
		t.Error("production without a JWT secret should fail")
	}
	t.Setenv("FRONTDESK_JWT_SECRET", "s3cret")
	if c, err := config.LoadBackend(); err != nil || c.JWTSecret != "s3cret" {
		t.Errorf("LoadBackend = %+v, %v", c, err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("FRONTDESK_DOTENV_A=from-file\nFRONTDESK_DOTENV_B=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FRONTDESK_DOTENV_B", "from-env")
	t.Cleanup(func() { os.Unsetenv("FRONTDESK_DOTENV_A") })

	if err := config.LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("FRONTDESK_DOTENV_A"); got != "from-file" {
		t.Errorf("A = %q", got)
	}
	if got := os.Getenv("FRONTDESK_DOTENV_B"); got != "from-env" {
		t.Errorf("B = %q, existing variables must win", got)
	}
	if err := config.LoadDotEnv(filepath.Join(dir, "nope.env")); err != nil {
		t.Errorf("missing file: %v", err)
	}
}
