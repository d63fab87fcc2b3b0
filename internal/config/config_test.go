package config

import (
	"strings"
	"testing"
	"time"
)

// mapBackend is an in-memory ConfigBackend.
type mapBackend struct {
	strs map[string]string
	ints map[string]int
}

func newMapBackend() *mapBackend {
	return &mapBackend{strs: map[string]string{}, ints: map[string]int{}}
}

func (m *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strs[key]
	return v, ok, nil
}

func (m *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *mapBackend) SetString(key, val string) error {
	m.strs[key] = val
	return nil
}

func (m *mapBackend) SetInt(key string, val int) error {
	m.ints[key] = val
	return nil
}

func (m *mapBackend) Delete(key string) error {
	delete(m.strs, key)
	delete(m.ints, key)
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when the backend is empty.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMapBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Lifecycle.FollowUpMinutes != 30 {
		t.Errorf("Lifecycle.FollowUpMinutes = %d, want 30", cfg.Lifecycle.FollowUpMinutes)
	}
	if cfg.Knowledge.DefaultTopic != "General" {
		t.Errorf("Knowledge.DefaultTopic = %q, want General", cfg.Knowledge.DefaultTopic)
	}
	if cfg.Notify.PollInterval != 2*time.Second {
		t.Errorf("Notify.PollInterval = %v, want 2s", cfg.Notify.PollInterval)
	}
	if cfg.FollowUp.SweepInterval != time.Minute {
		t.Errorf("FollowUp.SweepInterval = %v, want 1m", cfg.FollowUp.SweepInterval)
	}
	if cfg.Notify.RatePerSecond != 5 {
		t.Errorf("Notify.RatePerSecond = %v, want 5", cfg.Notify.RatePerSecond)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
}

// TestBackendValues verifies values stored in the backend replace defaults.
func TestBackendValues(t *testing.T) {
	clearEnv(t)
	b := newMapBackend()
	b.ints["server.port"] = 5000
	b.ints["lifecycle.follow_up_minutes"] = 45
	b.strs["knowledge.default_topic"] = "Salon"
	b.strs["storage.data_dir"] = "/tmp/escalator-test"
	b.strs["notify.rate_per_second"] = "0.5"
	b.strs["followup.sweep_interval"] = "5m"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Lifecycle.FollowUpMinutes != 45 {
		t.Errorf("Lifecycle.FollowUpMinutes = %d, want 45", cfg.Lifecycle.FollowUpMinutes)
	}
	if cfg.Knowledge.DefaultTopic != "Salon" {
		t.Errorf("Knowledge.DefaultTopic = %q", cfg.Knowledge.DefaultTopic)
	}
	if cfg.Storage.DataDir != "/tmp/escalator-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Notify.RatePerSecond != 0.5 {
		t.Errorf("Notify.RatePerSecond = %v, want 0.5", cfg.Notify.RatePerSecond)
	}
	if cfg.FollowUp.SweepInterval != 5*time.Minute {
		t.Errorf("FollowUp.SweepInterval = %v, want 5m", cfg.FollowUp.SweepInterval)
	}
}

func TestBackendBadDuration(t *testing.T) {
	clearEnv(t)
	b := newMapBackend()
	b.strs["notify.poll_interval"] = "every now and then"

	_, err := loadWith(b)
	if err == nil || !strings.Contains(err.Error(), "notify.poll_interval") {
		t.Errorf("err = %v, want a notify.poll_interval duration error", err)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	b := newMapBackend()
	b.ints["server.port"] = 5000

	t.Setenv("ESCALATOR_SERVER_PORT", "6000")
	t.Setenv("ESCALATOR_FOLLOWUP_SWEEP_INTERVAL", "30s")
	t.Setenv("ESCALATOR_NOTIFY_RATE_PER_SECOND", "not-a-number")
	t.Setenv("ESCALATOR_NOTIFY_POLL_INTERVAL", "soon")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.FollowUp.SweepInterval != 30*time.Second {
		t.Errorf("FollowUp.SweepInterval = %v, want 30s", cfg.FollowUp.SweepInterval)
	}
	if cfg.Notify.RatePerSecond != 5 {
		t.Errorf("unparsable env value should keep default, got %v", cfg.Notify.RatePerSecond)
	}
	if cfg.Notify.PollInterval != 2*time.Second {
		t.Errorf("unparsable duration should keep default, got %v", cfg.Notify.PollInterval)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"port", map[string]string{"ESCALATOR_SERVER_PORT": "70000"}, "server.port"},
		{"follow-up", map[string]string{"ESCALATOR_LIFECYCLE_FOLLOW_UP_MINUTES": "-5"}, "lifecycle.follow_up_minutes"},
		{"poll", map[string]string{"ESCALATOR_NOTIFY_POLL_INTERVAL": "0s"}, "notify.poll_interval"},
		{"sweep", map[string]string{"ESCALATOR_FOLLOWUP_SWEEP_INTERVAL": "-1m"}, "followup.sweep_interval"},
		{"rate", map[string]string{"ESCALATOR_NOTIFY_RATE_PER_SECOND": "-1"}, "notify.rate_per_second"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := loadWith(newMapBackend())
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestAddrAndBaseURL(t *testing.T) {
	cfg := defaults()
	if got := cfg.Addr(); got != "127.0.0.1:4100" {
		t.Errorf("Addr() = %q", got)
	}
	cfg.Server.Host = "0.0.0.0"
	if got := cfg.BaseURL(); got != "http://127.0.0.1:4100" {
		t.Errorf("BaseURL() = %q", got)
	}
}

func TestSetKey(t *testing.T) {
	b := newMapBackend()

	if err := setKeyWith(b, "server.port", "4200"); err != nil {
		t.Fatalf("setting int key: %v", err)
	}
	if b.ints["server.port"] != 4200 {
		t.Errorf("server.port = %d, want 4200", b.ints["server.port"])
	}
	if err := setKeyWith(b, "notify.rate_per_second", "2.5"); err != nil {
		t.Fatalf("setting float key: %v", err)
	}
	if b.strs["notify.rate_per_second"] != "2.5" {
		t.Errorf("notify.rate_per_second = %q", b.strs["notify.rate_per_second"])
	}

	if err := setKeyWith(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKeyWith(b, "notify.rate_per_second", "fast"); err == nil {
		t.Error("expected error for non-numeric rate")
	}
	if err := setKeyWith(b, "followup.sweep_interval", "90s"); err != nil {
		t.Fatalf("setting duration key: %v", err)
	}
	if b.strs["followup.sweep_interval"] != "90s" {
		t.Errorf("followup.sweep_interval = %q", b.strs["followup.sweep_interval"])
	}
	if err := setKeyWith(b, "followup.sweep_interval", "0s"); err == nil {
		t.Error("expected error for zero sweep interval")
	}
	if err := setKeyWith(b, "nope", "1"); err == nil || !strings.Contains(err.Error(), "unknown config key") {
		t.Errorf("unexpected error for unknown key: %v", err)
	}
}

func TestShowAllAndValidKeys(t *testing.T) {
	keys := ValidKeys()
	infos := ShowAll(defaults())
	if len(keys) != len(infos) {
		t.Fatalf("ValidKeys has %d keys, ShowAll %d", len(keys), len(infos))
	}
	for i, info := range infos {
		if info.Key != keys[i] {
			t.Errorf("key %d = %q, want %q", i, info.Key, keys[i])
		}
		if !strings.HasPrefix(info.EnvVar, "ESCALATOR_") {
			t.Errorf("env var for %s = %q", info.Key, info.EnvVar)
		}
		if info.Key == "notify.poll_interval" && info.Value != "2s" {
			t.Errorf("poll interval value = %q, want 2s", info.Value)
		}
		if info.Key == "lifecycle.follow_up_minutes" && info.Value != "30" {
			t.Errorf("follow-up value = %q, want 30", info.Value)
		}
	}
}
