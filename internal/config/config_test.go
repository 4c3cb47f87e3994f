package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return NewManager(path)
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
storage:
  driver: file
  path: ./store
timer:
  timezone: Europe/Berlin
  rtc_wakealarm: /sys/class/rtc/rtc0/wakealarm
maintenance:
  enabled: false
alarms:
  - label: wake
    hour: 7
    minute: 30
    brightness: 0.8
  - label: night
    hour: 22
    minute: 0
    brightness: 0.1
    auto_mode: true
    enabled: false
`)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Timer.Timezone != "Europe/Berlin" || cfg.Timer.RTCWakeAlarm == "" {
		t.Fatalf("timer = %+v", cfg.Timer)
	}
	if cfg.Maintenance.IsEnabled() {
		t.Fatal("maintenance should be disabled")
	}
	if len(cfg.Alarms) != 2 {
		t.Fatalf("alarms = %d, want 2", len(cfg.Alarms))
	}
	if a := cfg.Alarms[0]; a.Label != "wake" || a.Hour != 7 || a.Minute != 30 || a.Brightness != 0.8 || !a.IsEnabled() {
		t.Fatalf("alarms[0] = %+v", a)
	}
	if a := cfg.Alarms[1]; !a.AutoMode || a.IsEnabled() {
		t.Fatalf("alarms[1] = %+v", a)
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit")
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{name: "unknown yaml field", file: "c.yaml", body: "timer:\n  wrokers: 2\n", want: "unknown field"},
		{name: "unknown json field", file: "c.json", body: `{"nope": 1}`, want: "unknown field"},
		{name: "trailing json", file: "c.json", body: `{} {}`, want: "trailing data"},
		{name: "bad yaml", file: "c.yml", body: "alarms: [", want: "yaml unmarshal"},
		{name: "non-string key", file: "c.yaml", body: "alarms:\n  - {1: x}\n", want: "alarms[0]: mapping key 1"},
		{name: "unsupported extension", file: "c.toml", body: "", want: "unsupported config extension"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := writeConfig(t, tt.file, tt.body).Parse()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		def     time.Duration
		want    time.Duration
		wantErr bool
	}{
		{raw: "", def: 5 * time.Second, want: 5 * time.Second},
		{raw: " 2m ", def: time.Second, want: 2 * time.Minute},
		{raw: "0s", def: time.Second, want: time.Second},
		{raw: "-1s", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationOrDefault("x.timeout", tt.raw, tt.def)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%q: err = %v", tt.raw, err)
		}
		if err == nil && got != tt.want {
			t.Fatalf("%q: got %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "secret", OwnerUserIDs: []int64{1}},
			Alarms:   []AlarmConfig{{Label: "wake", Hour: 7, Brightness: 0.5}},
		}
	}

	if changed, _, restart := SummarizeConfigChange(base(), base()); len(changed) != 0 || len(restart) != 0 {
		t.Fatalf("identical configs: changed=%v restart=%v", changed, restart)
	}

	next := base()
	next.Alarms[0].Minute = 15
	next.Storage.Driver = "sqlite"
	next.Maintenance.Sweep = "@hourly"
	changed, _, restart := SummarizeConfigChange(base(), next)
	for _, want := range []string{"alarms", "storage", "maintenance"} {
		if !slices.Contains(changed, want) {
			t.Fatalf("changed = %v, missing %s", changed, want)
		}
	}
	if !slices.Equal(restart, []string{"storage"}) {
		t.Fatalf("restart = %v, want [storage]", restart)
	}

	// from nil: everything present counts as changed
	if changed, _, _ := SummarizeConfigChange(nil, base()); len(changed) == 0 {
		t.Fatal("nil old config reported no changes")
	}
}

func TestTelegramRestartOnlyForTokenAndPoll(t *testing.T) {
	t.Parallel()
	old := &Config{Telegram: TelegramConfig{Token: "a", OwnerUserIDs: []int64{1}}}

	owners := &Config{Telegram: TelegramConfig{Token: "a", OwnerUserIDs: []int64{1, 2}}}
	changed, _, restart := SummarizeConfigChange(old, owners)
	if !slices.Equal(changed, []string{"telegram"}) || len(restart) != 0 {
		t.Fatalf("owners change: changed=%v restart=%v", changed, restart)
	}

	token := &Config{Telegram: TelegramConfig{Token: "b", OwnerUserIDs: []int64{1}}}
	if _, _, restart := SummarizeConfigChange(old, token); !slices.Equal(restart, []string{"telegram"}) {
		t.Fatalf("token change: restart=%v", restart)
	}
}

func TestReloadIsTransactional(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := writeConfig(t, "config.yaml", "logging:\n  level: info\n")
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Logging.Level == "bogus" {
			return errors.New("bad level")
		}
		return nil
	})
	sub, unsub := m.Subscribe(1)
	defer unsub()

	if err := m.Reload(ctx); !errors.Is(err, ErrUnchanged) {
		t.Fatalf("unchanged reload err = %v", err)
	}

	rewrite := func(body string) {
		t.Helper()
		if err := os.WriteFile(m.Path(), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	rewrite("logging:\n  level: bogus\n")
	if err := m.Reload(ctx); err == nil || !strings.Contains(err.Error(), "bad level") {
		t.Fatalf("rejected reload err = %v", err)
	}
	if m.Get().Logging.Level != "info" {
		t.Fatalf("rejected config was committed: %q", m.Get().Logging.Level)
	}
	if m.Status().Err == nil {
		t.Fatal("status did not record the rejection")
	}

	rewrite("logging:\n  level: debug\n")
	if err := m.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	default:
		t.Fatal("nothing published")
	}
	if m.Status().Err != nil {
		t.Fatalf("status err = %v", m.Status().Err)
	}
}

func TestPublishKeepsLatest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.yaml")
	sub, unsub := m.Subscribe(1)
	m.publish(&Config{Logging: LoggingConfig{Level: "a"}})
	m.publish(&Config{Logging: LoggingConfig{Level: "b"}})
	if got := <-sub; got.Logging.Level != "b" {
		t.Fatalf("got %q, want latest", got.Logging.Level)
	}
	unsub()
	unsub()
	if _, ok := <-sub; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	// publishing with no subscribers must not block
	m.publish(&Config{})
}

func TestParseEmptyYAMLAndEnvToken(t *testing.T) {
	t.Setenv(EnvTelegramToken, " from-env ")
	cfg, err := writeConfig(t, "config.yaml", "").Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("token = %q, want env override", cfg.Telegram.Token)
	}
}
