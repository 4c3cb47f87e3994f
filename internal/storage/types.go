package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "memory" (or empty / "none"): in-process only, nothing survives a restart
//   - "file": JSON snapshot + append-only journal
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Occurrence is one armed one-shot timer. Payload is opaque to storage.
type Occurrence struct {
	Token   int64           `json:"token"`
	FireAt  time.Time       `json:"fire_at"`
	Payload json.RawMessage `json:"payload"`
	Wake    bool            `json:"wake"`
	ArmedAt time.Time       `json:"armed_at"`
}

// AlarmRecord is the registry entry for a scheduled daily alarm.
type AlarmRecord struct {
	ID         string    `json:"id"`
	Hour       int       `json:"hour"`
	Minute     int       `json:"minute"`
	Brightness float64   `json:"brightness"`
	AutoMode   bool      `json:"auto_mode"`
	Source     string    `json:"source"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AuditEntry records one schedule/cancel/fire outcome. Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time `json:"at"`
	Action  string    `json:"action"`
	AlarmID string    `json:"alarm_id"`
	OK      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}

// OccurrenceStore persists armed timers for the alarm clock.
type OccurrenceStore interface {
	PutOccurrence(ctx context.Context, o Occurrence) error
	DeleteOccurrence(ctx context.Context, token int64) error
	ListOccurrences(ctx context.Context) ([]Occurrence, error)
}

// AlarmStore is the alarm registry.
type AlarmStore interface {
	PutAlarm(ctx context.Context, r AlarmRecord) error
	GetAlarm(ctx context.Context, id string) (AlarmRecord, bool, error)
	DeleteAlarm(ctx context.Context, id string) error
	ListAlarms(ctx context.Context) ([]AlarmRecord, error)
}

// Store is the full persistence API used by the app.
type Store interface {
	OccurrenceStore
	AlarmStore
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

func sortOccurrences(out []Occurrence) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		return out[i].Token < out[j].Token
	})
}

func sortAlarms(out []AlarmRecord) {
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
}
