// Package storage persists armed occurrences, the alarm registry and the
// audit log.
package storage

import (
	"errors"
	"strings"

	logx "brightsched/pkg/logx"
)

// Open initializes the configured store. Empty, "none" and "memory" drivers
// all yield the in-memory store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "none", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
