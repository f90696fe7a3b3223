package app

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	// Neutralize ambient environment so the assertions see the defaults.
	for _, key := range []string{
		"BRANDLINK_HTTP_ADDR", "BRANDLINK_LOG_LEVEL", "BRANDLINK_LOG_FORMAT",
		"BRANDLINK_DB_SCHEMA", "BRANDLINK_READINESS_REQUIRE_DB",
		"BRANDLINK_AUTOREPLY_DELAY_MIN", "BRANDLINK_AUTOREPLY_DELAY_MAX",
		"BRANDLINK_ARK_API_KEY", "BRANDLINK_ARK_ACCESS_KEY", "BRANDLINK_ARK_SECRET_KEY",
		"BRANDLINK_ARK_MODEL", "BRANDLINK_SMTP_ADDR",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()

	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr: %q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Fatalf("log defaults: %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.DBSchema != "brandlink" {
		t.Fatalf("DBSchema: %q", cfg.DBSchema)
	}
	if cfg.ReadinessRequireDB {
		t.Fatalf("ReadinessRequireDB should default to false")
	}
	if cfg.AutoReply.DelayMin != 1*time.Second || cfg.AutoReply.DelayMax != 3*time.Second {
		t.Fatalf("autoreply delays: %v/%v", cfg.AutoReply.DelayMin, cfg.AutoReply.DelayMax)
	}
	if cfg.AI.Enabled() {
		t.Fatalf("AI should be disabled without credentials")
	}
	if cfg.SMTP.Enabled() {
		t.Fatalf("SMTP should be disabled without an address")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("BRANDLINK_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("BRANDLINK_LOG_FORMAT", "pretty")
	t.Setenv("BRANDLINK_AUTOREPLY_DELAY_MIN", "100ms")
	t.Setenv("BRANDLINK_AUTOREPLY_DELAY_MAX", "250ms")

	cfg := LoadConfig()

	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("HTTPAddr: %q", cfg.HTTPAddr)
	}
	if cfg.LogFormat != "pretty" {
		t.Fatalf("LogFormat: %q", cfg.LogFormat)
	}
	if cfg.AutoReply.DelayMin != 100*time.Millisecond || cfg.AutoReply.DelayMax != 250*time.Millisecond {
		t.Fatalf("autoreply delays: %v/%v", cfg.AutoReply.DelayMin, cfg.AutoReply.DelayMax)
	}
}

func TestParseDevTokens(t *testing.T) {
	got := parseDevTokens("tok1:alice, tok2:bob ,,:missing,orphan, tok3 : carol ")

	want := map[string]string{
		"tok1": "alice",
		"tok2": "bob",
		"tok3": "carol",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries: %v", len(got), got)
	}
	for token, participant := range want {
		if got[token] != participant {
			t.Fatalf("token %q -> %q, want %q", token, got[token], participant)
		}
	}

	if n := len(parseDevTokens("")); n != 0 {
		t.Fatalf("empty input produced %d entries", n)
	}
}
