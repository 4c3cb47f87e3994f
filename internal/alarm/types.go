package alarm

import (
	"context"
	"time"

	"brightsched/internal/storage"
)

// Source tags where a registry record came from.
const (
	SourceConfig  = "config"
	SourceCommand = "command"
	SourceTest    = "test"
)

// Spec describes one daily alarm.
type Spec struct {
	ID         string
	Hour       int
	Minute     int
	Brightness float64
	AutoMode   bool
}

// Payload is what travels with an armed occurrence.
type Payload struct {
	ID         string  `json:"id"`
	Brightness float64 `json:"brightness"`
	AutoMode   bool    `json:"auto_mode"`
}

// Timers is the one-shot timer subsystem (internal/alarmclock).
type Timers interface {
	Register(ctx context.Context, token int64, fireAt time.Time, payload []byte, wake bool) error
	Cancel(ctx context.Context, token int64) error
	Armed(token int64) (time.Time, bool)
}

// Registry records which alarms are scheduled.
type Registry interface {
	PutAlarm(ctx context.Context, r storage.AlarmRecord) error
	GetAlarm(ctx context.Context, id string) (storage.AlarmRecord, bool, error)
	DeleteAlarm(ctx context.Context, id string) error
	ListAlarms(ctx context.Context) ([]storage.AlarmRecord, error)
}

// Auditor receives one entry per schedule, cancel and fire.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Applier performs the brightness side effect.
type Applier interface {
	Apply(ctx context.Context, value float64, auto bool) error
}

// Entry is a registry record plus its live timer state.
type Entry struct {
	storage.AlarmRecord
	NextFire time.Time
	Armed    bool
}
