package broker_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sessionworks/broker/broker"
)

func TestDefaultConfig(t *testing.T) {
	cfg := broker.DefaultConfig()

	if cfg.Observer != "slog" {
		t.Errorf("observer %q, want slog", cfg.Observer)
	}
	if cfg.Session.ClientGrace <= 0 {
		t.Error("client grace not defaulted")
	}
	if cfg.Queue.MaxFrames <= 0 {
		t.Error("queue bounds not defaulted")
	}
	if cfg.Server.Addr == "" {
		t.Error("server addr not defaulted")
	}
}

func TestConfigMerge(t *testing.T) {
	cfg := broker.DefaultConfig()
	override := broker.Config{
		Observer:     "noop",
		DialInWindow: 5 * time.Second,
	}
	override.Auth.ServiceToken = "tok"
	override.Session.ClientGrace = 10 * time.Second

	cfg.Merge(&override)

	if cfg.Observer != "noop" {
		t.Errorf("observer %q, want noop", cfg.Observer)
	}
	if cfg.DialInWindow != 5*time.Second {
		t.Errorf("dial-in window %v", cfg.DialInWindow)
	}
	if cfg.Auth.ServiceToken != "tok" {
		t.Error("auth override lost")
	}
	if cfg.Session.ClientGrace != 10*time.Second {
		t.Error("session override lost")
	}
	// Untouched fields keep their defaults.
	if cfg.Session.ApprovalTimeout != broker.DefaultConfig().Session.ApprovalTimeout {
		t.Error("unrelated session default clobbered")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.json")
	contents := `{
		"auth": {"signing_secret": "sec", "service_token": "tok"},
		"server": {"addr": "127.0.0.1:9999"},
		"observer": "noop"
	}`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := broker.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Auth.SigningSecret != "sec" || cfg.Auth.ServiceToken != "tok" {
		t.Errorf("auth %+v", cfg.Auth)
	}
	if cfg.Server.Addr != "127.0.0.1:9999" {
		t.Errorf("addr %q", cfg.Server.Addr)
	}
	if cfg.Observer != "noop" {
		t.Errorf("observer %q", cfg.Observer)
	}
	// Absent sections fall back to defaults.
	if cfg.Session.ClientGrace <= 0 {
		t.Error("session defaults missing")
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := broker.LoadConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := broker.LoadConfig(path); err == nil {
		t.Error("expected error for malformed file")
	}
}
