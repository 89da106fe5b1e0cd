package config

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad_SQLiteDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no stray .env
	t.Setenv("APP_PORT", "8080")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE", "SQLite")
	t.Setenv("LOCK_TIMEOUT", "250ms")
	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("AMQP_URL", "amqp://broker:5672/")

	cfg := Load()
	if cfg.Store != StoreSQLite || cfg.SQLitePath != "booking.db" {
		t.Errorf("store = %q path = %q", cfg.Store, cfg.SQLitePath)
	}
	if cfg.LockTimeout != 250*time.Millisecond || cfg.WSWriteTimeout != 10*time.Second {
		t.Errorf("timeouts = %v %v", cfg.LockTimeout, cfg.WSWriteTimeout)
	}
	if cfg.WSPongWait != time.Minute {
		t.Errorf("pong wait = %v, want 1m", cfg.WSPongWait)
	}
	if cfg.AMQPURL != "amqp://broker:5672/" || cfg.AMQPEnabled {
		t.Errorf("amqp = %q enabled=%v", cfg.AMQPURL, cfg.AMQPEnabled)
	}
	if cfg.NATSSubjectPrefix != "seats" || cfg.Env != "dev" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir+"/.env", "APP_PORT=9090\nJWT_SECRET=fromfile\nSTORE=memory\n")
	unset(t, "APP_PORT")
	unset(t, "JWT_SECRET")
	unset(t, "STORE")

	cfg := Load()
	if cfg.Port != "9090" || cfg.JWTSecret != "fromfile" || cfg.Store != StoreMemory {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadRateLimitConfig_Clamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_EVERY", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	t.Setenv("RATE_LIMIT_ENABLED", "off")

	cfg := LoadRateLimitConfig()
	if cfg.Enabled || cfg.Capacity != 1 || cfg.RefillTokens != 1 || cfg.RefillInterval != 2*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.TTL != 10*time.Second {
		t.Errorf("TTL = %v, want 10s", cfg.TTL)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Env: "test", LogLevel: "warn", LogFormat: "json"}, &buf)
	log.Info("hidden")
	log.Warn("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "shown" || rec["env"] != "test" {
		t.Errorf("record = %v", rec)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

// unset removes key for the rest of the test; godotenv never overrides a
// variable that exists, even when empty.
func unset(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatal(err)
	}
}
