package config

import (
	"reflect"
	"strings"

	logx "brightsched/pkg/logx"
)

// Sections whose changes only take effect after a restart. Telegram owners
// and the log group apply live; its token and poll timeout do not.
var restartSections = map[string]bool{
	"storage":    true,
	"timer":      true,
	"brightness": true,
}

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) the subset of changed sections that need a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)),
		)
	}

	if oldCfg.Timer != newCfg.Timer {
		changed = append(changed, "timer")
		attrs = append(attrs,
			logx.Int("timer.workers", newCfg.Timer.Workers),
			logx.String("timer.timezone", strings.TrimSpace(newCfg.Timer.Timezone)),
			logx.Bool("timer.rtc_wakealarm_set", strings.TrimSpace(newCfg.Timer.RTCWakeAlarm) != ""),
		)
	}

	if oldCfg.Brightness != newCfg.Brightness {
		changed = append(changed, "brightness")
		attrs = append(attrs,
			logx.String("brightness.backend", newCfg.Brightness.Backend),
			logx.String("brightness.device", newCfg.Brightness.Device),
			logx.String("brightness.auto_unit", newCfg.Brightness.AutoUnit),
		)
	}

	if oldCfg.Maintenance.IsEnabled() != newCfg.Maintenance.IsEnabled() ||
		strings.TrimSpace(oldCfg.Maintenance.Sweep) != strings.TrimSpace(newCfg.Maintenance.Sweep) {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.Bool("maintenance.enabled", newCfg.Maintenance.IsEnabled()),
			logx.String("maintenance.sweep", strings.TrimSpace(newCfg.Maintenance.Sweep)),
		)
	}

	if !alarmsEqual(oldCfg.Alarms, newCfg.Alarms) {
		changed = append(changed, "alarms")
		attrs = append(attrs,
			logx.Int("alarms.declared", len(newCfg.Alarms)),
			logx.Int("alarms.enabled", countEnabled(newCfg.Alarms)),
		)
	}

	var restart []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		restart = append(restart, "telegram")
	}
	for _, s := range changed {
		if restartSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}

func alarmsEqual(a, b []AlarmConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.Label != y.Label || x.Hour != y.Hour || x.Minute != y.Minute ||
			x.Brightness != y.Brightness || x.AutoMode != y.AutoMode ||
			x.IsEnabled() != y.IsEnabled() {
			return false
		}
	}
	return true
}

func countEnabled(as []AlarmConfig) int {
	n := 0
	for _, a := range as {
		if a.IsEnabled() {
			n++
		}
	}
	return n
}
