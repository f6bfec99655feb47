package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// memBackend is an in-memory ConfigBackend.
type memBackend struct {
	data map[string]any
}

func newMemBackend(kv map[string]any) *memBackend {
	if kv == nil {
		kv = make(map[string]any)
	}
	return &memBackend{data: kv}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	i, isInt := v.(int)
	if !isInt {
		return 0, true, errors.New("not an int")
	}
	return i, true, nil
}

func (m *memBackend) SetString(key, val string) error { m.data[key] = val; return nil }
func (m *memBackend) SetInt(key string, val int) error  { m.data[key] = val; return nil }
func (m *memBackend) Delete(key string) error           { delete(m.data, key); return nil }

// mockKeychain is a test double for the Keychain interface.
type mockKeychain struct {
	secrets map[string]string
	setErr  error
}

func newMockKeychain() *mockKeychain {
	return &mockKeychain{secrets: make(map[string]string)}
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	v, ok := m.secrets[service+"/"+account]
	if !ok {
		return "", ErrSecretNotFound
	}
	return v, nil
}

func (m *mockKeychain) Set(service, account, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.secrets[service+"/"+account] = value
	return nil
}

// TestDefaults verifies all default values are applied when nothing is configured.
func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newMemBackend(nil), newMockKeychain())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Sync.MaxAttempts != 4 || cfg.Sync.InitialInterval != 500*time.Millisecond || cfg.Sync.BackgroundInterval != 5*time.Minute {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if cfg.FollowUp.After() != 7*24*time.Hour {
		t.Errorf("FollowUp.After() = %v", cfg.FollowUp.After())
	}
	if cfg.Whisper.Model != "whisper-1" {
		t.Errorf("Whisper.Model = %q", cfg.Whisper.Model)
	}
	if cfg.Notion.Enabled() {
		t.Error("Notion should be disabled by default")
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
}

// TestBackendValues verifies backend values replace defaults.
func TestBackendValues(t *testing.T) {
	b := newMemBackend(map[string]any{
		"server.port":            5000,
		"notion.database_id":     "db-1",
		"sync.initial_interval":  "2s",
		"followup.after_days":    14,
		"gmail.credentials_file": "/tmp/creds.json",
	})
	kc := newMockKeychain()
	kc.secrets["jobtrack/notion_token"] = "secret_abc"

	cfg, err := loadWith(b, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 || cfg.FollowUp.AfterDays != 14 || cfg.Sync.InitialInterval != 2*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.Notion.Enabled() || cfg.Notion.Token != "secret_abc" {
		t.Errorf("Notion = %+v, want enabled with keychain token", cfg.Notion)
	}
	if cfg.Gmail.Enabled() {
		t.Error("Gmail needs a token file too")
	}
}

// TestEnvOverride verifies that environment variables override backend values
// and secrets from the keychain.
func TestEnvOverride(t *testing.T) {
	b := newMemBackend(map[string]any{"server.port": 5000, "log.level": "warn"})
	kc := newMockKeychain()
	kc.secrets["jobtrack/notion_token"] = "keychain-token"

	t.Setenv("JOBTRACK_SERVER_PORT", "6000")
	t.Setenv("JOBTRACK_LOG_LEVEL", "DEBUG")
	t.Setenv("JOBTRACK_NOTION_TOKEN", "env-token")
	t.Setenv("JOBTRACK_NOTION_DATABASE_ID", "db-env")
	t.Setenv("JOBTRACK_SYNC_ATTEMPT_TIMEOUT", "3s")

	cfg, err := loadWith(b, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Notion.Token != "env-token" || cfg.Notion.DatabaseID != "db-env" {
		t.Errorf("Notion = %+v", cfg.Notion)
	}
	if cfg.Sync.AttemptTimeout != 3*time.Second {
		t.Errorf("AttemptTimeout = %v", cfg.Sync.AttemptTimeout)
	}
}

// TestEnvOverride_BadValueKeepsDefault verifies unparsable env values are ignored.
func TestEnvOverride_BadValueKeepsDefault(t *testing.T) {
	t.Setenv("JOBTRACK_SERVER_PORT", "not-a-number")
	t.Setenv("JOBTRACK_SYNC_INITIAL_INTERVAL", "soon")
	cfg, err := loadWith(newMemBackend(nil), newMockKeychain())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 || cfg.Sync.InitialInterval != 500*time.Millisecond {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "Port"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "Level"},
		{"zero attempts", func(c *Config) { c.Sync.MaxAttempts = 0 }, "MaxAttempts"},
		{"database without token", func(c *Config) { c.Notion.DatabaseID = "db" }, "JOBTRACK_NOTION_TOKEN"},
		{"token without database", func(c *Config) { c.Notion.Token = "t" }, "DatabaseID"},
		{"bad whisper url", func(c *Config) { c.Whisper.BaseURL = "not a url" }, "BaseURL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend(nil)
	kc := newMockKeychain()

	if err := setKeyWith(b, kc, "server.port", "4200"); err != nil {
		t.Fatalf("set port: %v", err)
	}
	if b.data["server.port"] != 4200 {
		t.Errorf("server.port = %v", b.data["server.port"])
	}
	if err := setKeyWith(b, kc, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKeyWith(b, kc, "sync.initial_interval", "forever"); err == nil {
		t.Error("expected error for bad duration")
	}
	if err := setKeyWith(b, kc, "notion.token", "secret_x"); err != nil {
		t.Fatalf("set secret: %v", err)
	}
	if _, inBackend := b.data["notion.token"]; inBackend {
		t.Error("secret written to the plain backend")
	}
	if kc.secrets["jobtrack/notion_token"] != "secret_x" {
		t.Error("secret not stored in keychain")
	}
	if err := setKeyWith(b, kc, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAll_MasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Notion.Token = "secret_abc"
	for _, ki := range ShowAll(cfg) {
		if strings.Contains(ki.Value, "secret_abc") {
			t.Errorf("%s leaks secret", ki.Key)
		}
		if ki.Key == "notion.token" && ki.Value != "(set)" {
			t.Errorf("notion.token = %q, want (set)", ki.Value)
		}
		if ki.Key == "whisper.api_key" && ki.Value != "(unset)" {
			t.Errorf("whisper.api_key = %q, want (unset)", ki.Value)
		}
	}
	if len(ShowAll(cfg)) != len(ValidKeys()) {
		t.Error("ShowAll and ValidKeys disagree")
	}
}

func TestGetAPIToken(t *testing.T) {
	kc := newMockKeychain()
	tok, err := GetAPIToken(kc)
	if err != nil || tok == "" {
		t.Fatalf("GetAPIToken = %q, %v", tok, err)
	}
	again, _ := GetAPIToken(kc)
	if again != tok {
		t.Errorf("token changed: %q -> %q", tok, again)
	}

	broken := newMockKeychain()
	broken.setErr = errors.New("locked")
	if _, err := GetAPIToken(broken); err == nil {
		t.Error("expected error when the token cannot be stored")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("JOBTRACK_SERVER_PORT=4242\nJOBTRACK_LOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JOBTRACK_SERVER_PORT", "")
	os.Unsetenv("JOBTRACK_SERVER_PORT")
	t.Setenv("JOBTRACK_LOG_LEVEL", "warn")

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("JOBTRACK_SERVER_PORT"); got != "4242" {
		t.Errorf("JOBTRACK_SERVER_PORT = %q, want 4242", got)
	}
	if got := os.Getenv("JOBTRACK_LOG_LEVEL"); got != "warn" {
		t.Errorf("JOBTRACK_LOG_LEVEL = %q, existing value should win", got)
	}
}
