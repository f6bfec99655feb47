//go:build !darwin

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackend_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobtrack", "config.json")
	b := newFileBackend(path)
	if err := b.SetInt("server.port", 4300); err != nil {
		t.Fatal(err)
	}
	if err := b.SetString("notion.database_id", "db-9"); err != nil {
		t.Fatal(err)
	}

	reloaded := newFileBackend(path)
	port, ok, err := reloaded.GetInt("server.port")
	if err != nil || !ok || port != 4300 {
		t.Errorf("GetInt = %d, %v, %v", port, ok, err)
	}
	db, ok, _ := reloaded.GetString("notion.database_id")
	if !ok || db != "db-9" {
		t.Errorf("GetString = %q, %v", db, ok)
	}
	if err := reloaded.Delete("server.port"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := newFileBackend(path).GetInt("server.port"); ok {
		t.Error("deleted key still present")
	}
}

func TestFileBackend_CorruptFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte("{not json"), 0o600)
	b := newFileBackend(path)
	if _, ok, _ := b.GetString("server.port"); ok {
		t.Error("corrupt file produced values")
	}
}

func TestFileKeychain(t *testing.T) {
	kc := fileKeychain{path: filepath.Join(t.TempDir(), "secrets.json")}
	if _, err := kc.Get("jobtrack", "notion_token"); err == nil {
		t.Error("expected error before the file exists")
	}
	if err := kc.Set("jobtrack", "notion_token", "secret_1"); err != nil {
		t.Fatal(err)
	}
	v, err := kc.Get("jobtrack", "notion_token")
	if err != nil || v != "secret_1" {
		t.Errorf("Get = %q, %v", v, err)
	}
	if _, err := kc.Get("jobtrack", "other"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("err = %v, want ErrSecretNotFound", err)
	}
	info, _ := os.Stat(kc.path)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v", info.Mode().Perm())
	}
}
