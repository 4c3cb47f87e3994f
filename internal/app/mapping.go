package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"brightsched/internal/alarm"
	"brightsched/internal/alarmclock"
	"brightsched/internal/brightness"
	"brightsched/internal/storage"
	logx "brightsched/pkg/logx"
)

const defaultSweepSpec = "@every 15m"

func mapStorageConfig(cfg *Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		if path == "" {
			path = "./brightsched_store"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapLogConfig builds the logx config. The Telegram sink needs a numeric
// group_log chat id; without one it stays off.
func mapLogConfig(cfg *Config) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil || chatID == 0 || strings.TrimSpace(cfg.Telegram.Token) == "" {
		lc.Telegram.Enabled = false
	} else {
		lc.Telegram.ChatID = chatID
	}
	return lc
}

func mapTimerConfig(cfg *Config) (alarmclock.Config, error) {
	if cfg.Timer.Workers < 0 {
		return alarmclock.Config{}, fmt.Errorf("timer.workers must be >= 0")
	}
	catchUp, err := parseDurationOrDefault("timer.catch_up", cfg.Timer.CatchUp, 30*time.Second)
	if err != nil {
		return alarmclock.Config{}, err
	}
	return alarmclock.Config{
		Workers:      cfg.Timer.Workers,
		RTCWakeAlarm: strings.TrimSpace(cfg.Timer.RTCWakeAlarm),
		CatchUp:      catchUp,
	}, nil
}

// loadLocation resolves timer.timezone. Empty means the host's local zone.
func loadLocation(cfg *Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Timer.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timer.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func mapBrightnessConfig(cfg *Config) (brightness.Config, error) {
	bc := cfg.Brightness
	backend := strings.ToLower(strings.TrimSpace(bc.Backend))
	switch backend {
	case "", "sysfs", "logind", "log":
	default:
		return brightness.Config{}, fmt.Errorf("unknown brightness.backend: %s", bc.Backend)
	}
	timeout, err := parseDurationOrDefault("brightness.timeout", bc.Timeout, 5*time.Second)
	if err != nil {
		return brightness.Config{}, err
	}
	return brightness.Config{
		Backend:   backend,
		Device:    strings.TrimSpace(bc.Device),
		SysfsRoot: strings.TrimSpace(bc.SysfsRoot),
		AutoUnit:  strings.TrimSpace(bc.AutoUnit),
		Timeout:   timeout,
	}, nil
}

// mapSweep returns the sweep cron spec, or "" when the sweep is disabled.
func mapSweep(cfg *Config) (string, error) {
	if !cfg.Maintenance.IsEnabled() {
		return "", nil
	}
	spec := strings.TrimSpace(cfg.Maintenance.Sweep)
	if spec == "" {
		spec = defaultSweepSpec
	}
	if _, err := cronParser.Parse(spec); err != nil {
		return "", fmt.Errorf("maintenance.sweep: invalid %q: %w", spec, err)
	}
	return spec, nil
}

// mapAlarms converts declared alarms into specs keyed by identifier.
// Disabled entries are returned separately so reconciliation can cancel them.
func mapAlarms(cfg *Config) (enabled []alarm.Spec, disabled []string, err error) {
	seen := map[string]int{}
	for i, a := range cfg.Alarms {
		path := fmt.Sprintf("alarms[%d]", i)
		if a.Hour < 0 || a.Hour > 23 {
			return nil, nil, fmt.Errorf("%s.hour must be in 0..23, got %d", path, a.Hour)
		}
		if a.Minute < 0 || a.Minute > 59 {
			return nil, nil, fmt.Errorf("%s.minute must be in 0..59, got %d", path, a.Minute)
		}
		if a.Brightness < 0 || a.Brightness > 1 {
			return nil, nil, fmt.Errorf("%s.brightness must be in 0..1, got %v", path, a.Brightness)
		}
		id := alarm.FormatID(a.Label, a.Hour, a.Minute)
		if j, dup := seen[id]; dup {
			return nil, nil, fmt.Errorf("%s duplicates alarms[%d] (id %s)", path, j, id)
		}
		seen[id] = i
		if !a.IsEnabled() {
			disabled = append(disabled, id)
			continue
		}
		enabled = append(enabled, alarm.Spec{
			ID:         id,
			Hour:       a.Hour,
			Minute:     a.Minute,
			Brightness: a.Brightness,
			AutoMode:   a.AutoMode,
		})
	}
	return enabled, disabled, nil
}

// validateConfig rejects configs that would fail mapping. It runs on load
// and before every hot reload is committed.
func validateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := parseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Telegram.Token) != "" && len(cfg.Telegram.OwnerUserIDs) == 0 {
		return fmt.Errorf("telegram.owner_user_ids is required when telegram.token is set")
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			return fmt.Errorf("telegram.group_log must be a numeric chat id: %w", err)
		}
	}
	if cfg.Logging.Telegram.RatePerSec < 0 {
		return fmt.Errorf("logging.telegram.rate_per_sec must be >= 0")
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTimerConfig(cfg); err != nil {
		return err
	}
	if _, err := loadLocation(cfg); err != nil {
		return err
	}
	if _, err := mapBrightnessConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSweep(cfg); err != nil {
		return err
	}
	if _, _, err := mapAlarms(cfg); err != nil {
		return err
	}
	return nil
}
