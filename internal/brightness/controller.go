package brightness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "brightsched/pkg/logx"
)

// Controller is the Applier used by the daemon.
type Controller struct {
	log     logx.Logger
	manual  backend
	auto    autoSwitch
	timeout time.Duration
}

// New builds a Controller from cfg. The D-Bus connections are opened lazily
// so a missing bus only fails the first Apply.
func New(cfg Config, log logx.Logger) (*Controller, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	root := strings.TrimSpace(cfg.SysfsRoot)
	if root == "" {
		root = defaultSysfsRoot
	}

	var b backend
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "sysfs":
		dev, err := resolveDevice(root, cfg.Device)
		if err != nil {
			return nil, err
		}
		b = &sysfsBackend{dir: dev}
	case "logind":
		dev, err := resolveDevice(root, cfg.Device)
		if err != nil {
			return nil, err
		}
		b = newLogindBackend(dev)
	case "log":
		b = logBackend{log: log}
	default:
		return nil, fmt.Errorf("unknown brightness backend %q", cfg.Backend)
	}

	c := &Controller{log: log, manual: b, timeout: cfg.Timeout}
	if unit := strings.TrimSpace(cfg.AutoUnit); unit != "" {
		c.auto = newUnitSwitch(unit)
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}
	return c, nil
}

// Backend reports the active backend name.
func (c *Controller) Backend() string { return c.manual.Name() }

// Apply switches to auto mode, or to manual mode with value in [0,1]
// (clamped). Permission failures wrap ErrPermissionDenied.
func (c *Controller) Apply(ctx context.Context, value float64, auto bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if auto {
		if c.auto == nil {
			return ErrAutoUnavailable
		}
		if err := c.auto.SetAuto(ctx, true); err != nil {
			return fmt.Errorf("enable auto brightness: %w", err)
		}
		c.log.Info("brightness set", logx.Bool("auto", true))
		return nil
	}

	var autoErr error
	if c.auto != nil {
		if err := c.auto.SetAuto(ctx, false); err != nil {
			// Continue: a manual value is still better than none.
			autoErr = fmt.Errorf("disable auto brightness: %w", err)
			c.log.Warn("auto brightness unit did not stop", logx.Err(err))
		}
	}
	v := clamp01(value)
	if err := c.manual.SetManual(ctx, v); err != nil {
		return errors.Join(autoErr, err)
	}
	c.log.Info("brightness set",
		logx.Bool("auto", false),
		logx.Float64("value", v),
		logx.String("backend", c.manual.Name()),
	)
	return autoErr
}

// Check reports whether brightness can be written. It returns an error
// wrapping ErrPermissionDenied when access is missing.
func (c *Controller) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.manual.Check(ctx)
}

// AutoEnabled reports whether the auto brightness unit is running. It
// returns ErrAutoUnavailable when no auto unit is configured.
func (c *Controller) AutoEnabled(ctx context.Context) (bool, error) {
	if c.auto == nil {
		return false, ErrAutoUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.auto.Active(ctx)
}

func (c *Controller) Close() {
	if c.auto != nil {
		c.auto.Close()
	}
	if cl, ok := c.manual.(interface{ Close() }); ok {
		cl.Close()
	}
}

type logBackend struct {
	log logx.Logger
}

func (logBackend) Name() string { return "log" }

func (b logBackend) SetManual(ctx context.Context, value float64) error {
	b.log.Info("brightness (dry run)", logx.Float64("value", value))
	return nil
}

func (logBackend) Check(context.Context) error { return nil }
