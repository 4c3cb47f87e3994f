package brightness

import (
	"context"
	"fmt"
	"strings"
	"sync"

	sddbus "github.com/coreos/go-systemd/v22/dbus"
)

// unitSwitch toggles auto brightness by starting/stopping a systemd unit.
type unitSwitch struct {
	unit string

	mu   sync.Mutex
	conn *sddbus.Conn
}

func newUnitSwitch(unit string) *unitSwitch {
	if !strings.Contains(unit, ".") {
		unit += ".service"
	}
	return &unitSwitch{unit: unit}
}

func (u *unitSwitch) connect(ctx context.Context) (*sddbus.Conn, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil && u.conn.Connected() {
		return u.conn, nil
	}
	conn, err := sddbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	u.conn = conn
	return conn, nil
}

func (u *unitSwitch) SetAuto(ctx context.Context, on bool) error {
	conn, err := u.connect(ctx)
	if err != nil {
		return err
	}
	done := make(chan string, 1)
	if on {
		_, err = conn.StartUnitContext(ctx, u.unit, "replace", done)
	} else {
		_, err = conn.StopUnitContext(ctx, u.unit, "replace", done)
	}
	if err != nil {
		return mapBusError(fmt.Errorf("%s %s: %w", verb(on), u.unit, err))
	}
	select {
	case res := <-done:
		if res != "done" {
			return fmt.Errorf("%s %s: job %s", verb(on), u.unit, res)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active reports whether the unit is active or starting.
func (u *unitSwitch) Active(ctx context.Context) (bool, error) {
	conn, err := u.connect(ctx)
	if err != nil {
		return false, err
	}
	prop, err := conn.GetUnitPropertyContext(ctx, u.unit, "ActiveState")
	if err != nil {
		return false, mapBusError(fmt.Errorf("%s state: %w", u.unit, err))
	}
	state, _ := prop.Value.Value().(string)
	return isActiveState(state), nil
}

func isActiveState(state string) bool {
	return state == "active" || state == "activating" || state == "reloading"
}

func (u *unitSwitch) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		u.conn.Close()
		u.conn = nil
	}
}

func verb(on bool) string {
	if on {
		return "start"
	}
	return "stop"
}
