package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.DedupWindow != 10*time.Minute {
		t.Errorf("DedupWindow = %v, want 10m", cfg.DedupWindow)
	}
	if cfg.CommandQueueLen != 256 {
		t.Errorf("CommandQueueLen = %d, want 256", cfg.CommandQueueLen)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RCON_ADDR", "game:9999")
	t.Setenv("RCON_PASSWORD", "hunter2")
	t.Setenv("TAIL_POLL_INTERVAL", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.RconAddr != "game:9999" {
		t.Errorf("RconAddr = %q, want game:9999", cfg.RconAddr)
	}
	if cfg.TailPollInterval != 250*time.Millisecond {
		t.Errorf("TailPollInterval = %v, want 250ms", cfg.TailPollInterval)
	}
	if err := cfg.ValidateConsoleReady(); err != nil {
		t.Errorf("ValidateConsoleReady() error: %v", err)
	}
}

func TestValidateHelpers(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		check   func(*Config) error
		wantErr bool
	}{
		{"webhook missing secret", Config{}, (*Config).ValidateWebhookReady, true},
		{"webhook ok", Config{EventSubSecret: "s"}, (*Config).ValidateWebhookReady, false},
		{"console missing password", Config{RconAddr: "a:1"}, (*Config).ValidateConsoleReady, true},
		{"chat missing token", Config{TwitchChannel: "c", TwitchBotUsername: "b"}, (*Config).ValidateChatReady, true},
		{"chat ok", Config{TwitchChannel: "c", TwitchBotUsername: "b", TwitchOAuthToken: "oauth:x"}, (*Config).ValidateChatReady, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("got err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}
