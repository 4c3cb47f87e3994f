package brightness

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// sysfsBackend writes raw values to <dir>/brightness, scaled by max_brightness.
type sysfsBackend struct {
	dir string
}

func (b *sysfsBackend) Name() string { return "sysfs" }

func (b *sysfsBackend) SetManual(ctx context.Context, value float64) error {
	max, err := readMaxBrightness(b.dir)
	if err != nil {
		return err
	}
	raw := scaleRaw(value, max)
	path := filepath.Join(b.dir, "brightness")
	if err := os.WriteFile(path, []byte(strconv.FormatUint(uint64(raw), 10)), 0o644); err != nil {
		return mapPermission(fmt.Errorf("write %s: %w", path, err))
	}
	return nil
}

func (b *sysfsBackend) Check(ctx context.Context) error {
	path := filepath.Join(b.dir, "brightness")
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return mapPermission(fmt.Errorf("open %s: %w", path, err))
	}
	return f.Close()
}

// scaleRaw maps [0,1] onto [0,max], rounding down.
func scaleRaw(value float64, max uint32) uint32 {
	return uint32(math.Floor(clamp01(value) * float64(max)))
}

func readMaxBrightness(dir string) (uint32, error) {
	return readUint(filepath.Join(dir, "max_brightness"))
}

func readUint(path string) (uint32, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, mapPermission(fmt.Errorf("read %s: %w", path, err))
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return uint32(n), nil
}

// resolveDevice returns <root>/<device>; with an empty device the first
// entry (sorted) under root is used.
func resolveDevice(root, device string) (string, error) {
	device = strings.TrimSpace(device)
	if device != "" {
		if strings.ContainsAny(device, `/\`) || device == ".." {
			return "", fmt.Errorf("invalid backlight device %q", device)
		}
		return filepath.Join(root, device), nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("list backlight devices: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "", fmt.Errorf("no backlight device under %s", root)
	}
	return filepath.Join(root, names[0]), nil
}

func mapPermission(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	return err
}
