package brightness

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied means the process may not change brightness.
	ErrPermissionDenied = errors.New("brightness: permission denied")
	// ErrAutoUnavailable means auto mode was requested but no auto unit is configured.
	ErrAutoUnavailable = errors.New("brightness: auto mode unavailable")
)

// Applier is the side effect invoked on every fire.
type Applier interface {
	Apply(ctx context.Context, value float64, auto bool) error
}

// Config selects and configures the backend.
type Config struct {
	Backend   string // sysfs (default), logind, log
	Device    string // backlight device name, e.g. intel_backlight; empty picks the first one
	SysfsRoot string // default /sys/class/backlight
	AutoUnit  string // systemd unit giving auto brightness; empty disables auto mode
	Timeout   time.Duration
}

const defaultSysfsRoot = "/sys/class/backlight"

// backend writes a manual brightness in [0,1].
type backend interface {
	Name() string
	SetManual(ctx context.Context, value float64) error
	// Check verifies write access without changing the current value.
	Check(ctx context.Context) error
}

// autoSwitch toggles the auto brightness provider.
type autoSwitch interface {
	SetAuto(ctx context.Context, on bool) error
	Active(ctx context.Context) (bool, error)
	Close()
}

func clamp01(v float64) float64 {
	if v != v || v < 0 { // NaN or negative
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
