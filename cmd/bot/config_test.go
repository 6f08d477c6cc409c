package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadBotConfig_Overlay(t *testing.T) {
	path := writeFile(t, `
url = "ws://coordinator:9000/v1/ws"
policy = "STAY"
dial_timeout_ms = 2500
`)
	def := defaultBotConfig()
	cfg, err := loadBotConfig(path, def)
	if err != nil {
		t.Fatalf("loadBotConfig: %v", err)
	}
	if cfg.URL != "ws://coordinator:9000/v1/ws" || cfg.Policy != policyStay {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.DialTimeout != 2500*time.Millisecond {
		t.Fatalf("dial timeout = %s", cfg.DialTimeout)
	}
	if cfg.Name != def.Name || cfg.MaxQueue != def.MaxQueue || cfg.Seed != def.Seed {
		t.Fatalf("keys missing from the file must keep defaults: %+v", cfg)
	}
}

func TestLoadBotConfig_Rejects(t *testing.T) {
	for _, body := range []string{
		`policy = "teleport"`,
		`colour = "blue"`,
		`url = ""`,
		`url = `,
	} {
		if _, err := loadBotConfig(writeFile(t, body), defaultBotConfig()); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
}
