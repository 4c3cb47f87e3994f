package config

type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Telegram    TelegramConfig    `json:"telegram"`
	Storage     StorageConfig     `json:"storage"`
	Timer       TimerConfig       `json:"timer"`
	Brightness  BrightnessConfig  `json:"brightness"`
	Maintenance MaintenanceConfig `json:"maintenance"`

	// Alarms are declared daily alarms. They are reconciled on start and on
	// every reload: new entries are armed, removed ones cancelled.
	Alarms []AlarmConfig `json:"alarms,omitempty"`
}

type TelegramConfig struct {
	// Token enables the command surface. Empty runs the daemon headless.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects where occurrences and the alarm registry live.
//
// Example:
//
//	storage: { driver: sqlite, path: ./brightsched.db }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TimerConfig controls the one-shot timer subsystem.
type TimerConfig struct {
	Workers int `json:"workers,omitempty"`
	// RTCWakeAlarm is a sysfs wakealarm file, e.g. /sys/class/rtc/rtc0/wakealarm.
	RTCWakeAlarm string `json:"rtc_wakealarm,omitempty"`
	// Timezone is an IANA name used for wall-clock fire times. Empty means local.
	Timezone string `json:"timezone,omitempty"`
	// CatchUp is how often pending fire times are checked against the wall
	// clock, so alarms due during suspend fire on resume. Default 30s.
	CatchUp string `json:"catch_up,omitempty"`
}

type BrightnessConfig struct {
	Backend   string `json:"backend"` // sysfs, logind, log
	Device    string `json:"device,omitempty"`
	SysfsRoot string `json:"sysfs_root,omitempty"`
	AutoUnit  string `json:"auto_unit,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

// MaintenanceConfig controls the periodic registry sweep.
//
// Enabled is a pointer so an omitted block keeps the sweep on.
type MaintenanceConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Sweep   string `json:"sweep,omitempty"` // cron spec, default "@every 15m"
}

type AlarmConfig struct {
	Label      string  `json:"label"`
	Hour       int     `json:"hour"`
	Minute     int     `json:"minute"`
	Brightness float64 `json:"brightness"`
	AutoMode   bool    `json:"auto_mode,omitempty"`
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled,omitempty"`
}

func (a AlarmConfig) IsEnabled() bool { return a.Enabled == nil || *a.Enabled }

func (m MaintenanceConfig) IsEnabled() bool { return m.Enabled == nil || *m.Enabled }
