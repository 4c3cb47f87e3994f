package brightness

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	login1Dest      = "org.freedesktop.login1"
	login1Session   = dbus.ObjectPath("/org/freedesktop/login1/session/auto")
	setBrightness   = "org.freedesktop.login1.Session.SetBrightness"
	dbusAccessError = "org.freedesktop.DBus.Error.AccessDenied"
)

// logindBackend asks systemd-logind to set the backlight for the caller's
// session, which works without root for the active seat user.
type logindBackend struct {
	dir    string
	device string

	mu   sync.Mutex
	conn *dbus.Conn
}

func newLogindBackend(dir string) *logindBackend {
	return &logindBackend{dir: dir, device: filepath.Base(dir)}
}

func (b *logindBackend) Name() string { return "logind" }

func (b *logindBackend) bus(ctx context.Context) (*dbus.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil && b.conn.Connected() {
		return b.conn, nil
	}
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	b.conn = conn
	return conn, nil
}

func (b *logindBackend) SetManual(ctx context.Context, value float64) error {
	max, err := readMaxBrightness(b.dir)
	if err != nil {
		return err
	}
	return b.set(ctx, scaleRaw(value, max))
}

func (b *logindBackend) set(ctx context.Context, raw uint32) error {
	conn, err := b.bus(ctx)
	if err != nil {
		return err
	}
	obj := conn.Object(login1Dest, login1Session)
	call := obj.CallWithContext(ctx, setBrightness, 0, "backlight", b.device, raw)
	if call.Err != nil {
		return mapBusError(fmt.Errorf("logind SetBrightness: %w", call.Err))
	}
	return nil
}

// mapBusError wraps D-Bus AccessDenied (polkit refusal) as ErrPermissionDenied.
func mapBusError(err error) error {
	var derr dbus.Error
	if errors.As(err, &derr) && derr.Name == dbusAccessError {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	return mapPermission(err)
}

// Check rewrites the current raw value through logind.
func (b *logindBackend) Check(ctx context.Context) error {
	cur, err := readUint(filepath.Join(b.dir, "brightness"))
	if err != nil {
		return err
	}
	return b.set(ctx, cur)
}

func (b *logindBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
}
