// Package brightness applies display brightness on Linux hosts.
//
// A Controller combines a manual-value backend (sysfs backlight, logind over
// D-Bus, or log-only) with an optional auto-mode unit: a systemd service
// (an ambient light daemon) that is started for auto mode and stopped
// before a manual value is written.
package brightness
