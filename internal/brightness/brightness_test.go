package brightness

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	logx "brightsched/pkg/logx"
)

func fakeBacklight(t *testing.T, name, max string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "max_brightness"), []byte(max+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "brightness"), []byte("0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func readRaw(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(b))
}

type fakeAuto struct {
	calls []bool
	on    bool
	err   error
}

func (f *fakeAuto) SetAuto(ctx context.Context, on bool) error {
	f.calls = append(f.calls, on)
	if f.err == nil {
		f.on = on
	}
	return f.err
}

func (f *fakeAuto) Active(ctx context.Context) (bool, error) { return f.on, f.err }

func (f *fakeAuto) Close() {}

func TestScaleRaw(t *testing.T) {
	t.Parallel()
	tests := []struct {
		value float64
		max   uint32
		want  uint32
	}{
		{0.5, 255, 127},
		{0.4, 255, 102},
		{1, 255, 255},
		{0, 255, 0},
		{1.7, 100, 100},
		{-0.2, 100, 0},
		{0.333, 1000, 333},
	}
	for _, tt := range tests {
		if got := scaleRaw(tt.value, tt.max); got != tt.want {
			t.Fatalf("scaleRaw(%v, %d) = %d, want %d", tt.value, tt.max, got, tt.want)
		}
	}
}

func TestSysfsApplyManual(t *testing.T) {
	t.Parallel()
	root := fakeBacklight(t, "intel_backlight", "255")
	c, err := New(Config{Backend: "sysfs", SysfsRoot: root}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Apply(context.Background(), 0.5, false); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := readRaw(t, filepath.Join(root, "intel_backlight", "brightness")); got != "127" {
		t.Fatalf("brightness = %s, want 127", got)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestAutoModeWithoutUnit(t *testing.T) {
	t.Parallel()
	c, err := New(Config{Backend: "log"}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Apply(context.Background(), 0.7, true); !errors.Is(err, ErrAutoUnavailable) {
		t.Fatalf("Apply(auto) = %v, want ErrAutoUnavailable", err)
	}
}

func TestAutoUnitToggling(t *testing.T) {
	t.Parallel()
	root := fakeBacklight(t, "acpi_video0", "100")
	c, err := New(Config{SysfsRoot: root}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	fa := &fakeAuto{}
	c.auto = fa

	if err := c.Apply(context.Background(), 0.9, true); err != nil {
		t.Fatalf("Apply(auto): %v", err)
	}
	// auto mode leaves the manual value untouched
	if got := readRaw(t, filepath.Join(root, "acpi_video0", "brightness")); got != "0" {
		t.Fatalf("brightness after auto = %s", got)
	}
	if err := c.Apply(context.Background(), 0.25, false); err != nil {
		t.Fatalf("Apply(manual): %v", err)
	}
	if got := readRaw(t, filepath.Join(root, "acpi_video0", "brightness")); got != "25" {
		t.Fatalf("brightness = %s, want 25", got)
	}
	if len(fa.calls) != 2 || !fa.calls[0] || fa.calls[1] {
		t.Fatalf("auto calls = %v, want [true false]", fa.calls)
	}

	// a failing stop still writes the manual value and reports the failure
	fa.err = errors.New("unit busy")
	err = c.Apply(context.Background(), 0.5, false)
	if err == nil || !strings.Contains(err.Error(), "unit busy") {
		t.Fatalf("Apply = %v, want unit error", err)
	}
	if got := readRaw(t, filepath.Join(root, "acpi_video0", "brightness")); got != "50" {
		t.Fatalf("brightness = %s, want 50", got)
	}
}

func TestResolveDevice(t *testing.T) {
	t.Parallel()
	root := fakeBacklight(t, "b_dev", "10")
	_ = os.MkdirAll(filepath.Join(root, "a_dev"), 0o755)

	got, err := resolveDevice(root, "")
	if err != nil || filepath.Base(got) != "a_dev" {
		t.Fatalf("resolveDevice(auto) = %q, %v", got, err)
	}
	if _, err := resolveDevice(root, "../etc"); err == nil {
		t.Fatal("expected error for path traversal")
	}
	if _, err := resolveDevice(t.TempDir(), ""); err == nil {
		t.Fatal("expected error for empty backlight class")
	}
}

func TestPermissionDeniedMapping(t *testing.T) {
	t.Parallel()
	if os.Geteuid() == 0 {
		t.Skip("root bypasses file permissions")
	}
	root := fakeBacklight(t, "intel_backlight", "255")
	if err := os.Chmod(filepath.Join(root, "intel_backlight", "brightness"), 0o444); err != nil {
		t.Fatal(err)
	}
	c, err := New(Config{SysfsRoot: root, Device: "intel_backlight"}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Apply(context.Background(), 0.5, false); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Apply = %v, want ErrPermissionDenied", err)
	}
	if err := c.Check(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Check = %v, want ErrPermissionDenied", err)
	}
}

func TestUnknownBackend(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Backend: "xrandr"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestUnitNameSuffix(t *testing.T) {
	t.Parallel()
	if u := newUnitSwitch("clightd"); u.unit != "clightd.service" {
		t.Fatalf("unit = %q", u.unit)
	}
	if u := newUnitSwitch("wluma.service"); u.unit != "wluma.service" {
		t.Fatalf("unit = %q", u.unit)
	}
}

func TestAutoEnabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, err := New(Config{Backend: "log"}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.AutoEnabled(ctx); !errors.Is(err, ErrAutoUnavailable) {
		t.Fatalf("AutoEnabled without unit = %v, want ErrAutoUnavailable", err)
	}

	fa := &fakeAuto{}
	c.auto = fa
	if on, err := c.AutoEnabled(ctx); err != nil || on {
		t.Fatalf("AutoEnabled = %v, %v; want false", on, err)
	}
	_ = c.Apply(ctx, 0, true)
	if on, err := c.AutoEnabled(ctx); err != nil || !on {
		t.Fatalf("AutoEnabled after auto = %v, %v; want true", on, err)
	}
	_ = c.Apply(ctx, 0.3, false)
	if on, _ := c.AutoEnabled(ctx); on {
		t.Fatal("AutoEnabled after manual = true")
	}
}

func TestIsActiveState(t *testing.T) {
	t.Parallel()
	for state, want := range map[string]bool{
		"active": true, "activating": true, "reloading": true,
		"inactive": false, "failed": false, "deactivating": false, "": false,
	} {
		if got := isActiveState(state); got != want {
			t.Errorf("isActiveState(%q) = %v, want %v", state, got, want)
		}
	}
}
