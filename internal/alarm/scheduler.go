package alarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"brightsched/internal/eventbus"
	"brightsched/internal/storage"
	logx "brightsched/pkg/logx"
)

// testFireDelay is how far in the future ScheduleTestFire arms its occurrence.
const testFireDelay = 10 * time.Second

// Scheduler converts (id, hour, minute, brightness, autoMode) into an armed
// one-shot occurrence at the next matching wall-clock instant.
type Scheduler struct {
	timers Timers
	log    logx.Logger

	// mu makes arm plus registry write atomic against cancel, so a cancel
	// is never followed by a registry record or occurrence it removed.
	mu sync.Mutex

	reg   Registry
	audit Auditor
	bus   eventbus.Bus
	now   func() time.Time
	loc   *time.Location
}

type Option func(*Scheduler)

// WithRegistry enables CancelAll, List and Sweep.
func WithRegistry(r Registry) Option { return func(s *Scheduler) { s.reg = r } }

func WithAudit(a Auditor) Option { return func(s *Scheduler) { s.audit = a } }

func WithBus(b eventbus.Bus) Option { return func(s *Scheduler) { s.bus = b } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithLocation pins the wall clock used for next-instant computation.
// Without it the clock's own location (normally time.Local) is used.
func WithLocation(loc *time.Location) Option { return func(s *Scheduler) { s.loc = loc } }

func NewScheduler(timers Timers, log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{timers: timers, log: log, now: time.Now}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

func (s *Scheduler) clock() time.Time {
	now := s.now()
	if s.loc != nil {
		now = now.In(s.loc)
	}
	return now
}

// Schedule arms id for the next hour:minute. The registry keeps the source
// of an existing record; new records are tagged SourceCommand.
func (s *Scheduler) Schedule(ctx context.Context, id string, hour, minute int, brightness float64, autoMode bool) bool {
	return s.ScheduleSpec(ctx, Spec{ID: id, Hour: hour, Minute: minute, Brightness: brightness, AutoMode: autoMode}, "")
}

// ScheduleSpec is Schedule with an explicit registry source. An empty source
// keeps the existing record's source.
func (s *Scheduler) ScheduleSpec(ctx context.Context, spec Spec, source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(ctx, spec, source) == nil
}

// rearm is the post-fire reschedule. It returns ErrSuperseded, without
// touching the registry, when the id was cancelled or replaced while firing.
func (s *Scheduler) rearm(ctx context.Context, spec Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(ctx, spec, "")
}

func (s *Scheduler) scheduleLocked(ctx context.Context, spec Spec, source string) error {
	start := time.Now()
	log := s.log.With(logx.String("id", spec.ID))

	fireAt := NextFireInstant(s.clock(), spec.Hour, spec.Minute)
	err := s.arm(ctx, spec.ID, fireAt, Payload{ID: spec.ID, Brightness: spec.Brightness, AutoMode: spec.AutoMode})
	if errors.Is(err, ErrSuperseded) {
		return err
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRegistration, err)
		log.Error("schedule alarm failed", logx.Err(err))
		s.record(ctx, "schedule", spec.ID, err, start)
		s.publish(eventbus.AlarmScheduled, spec.ID, err, time.Time{})
		return err
	}

	if s.reg != nil {
		s.remember(ctx, spec, source)
	}
	log.Info("alarm scheduled",
		logx.Time("fire_at", fireAt),
		logx.Duration("in", fireAt.Sub(s.now()).Round(time.Second)),
		logx.Float64("brightness", spec.Brightness),
		logx.Bool("auto", spec.AutoMode),
	)
	s.record(ctx, "schedule", spec.ID, nil, start)
	s.publish(eventbus.AlarmScheduled, spec.ID, nil, fireAt)
	return nil
}

// Cancel removes any pending occurrence for id. Cancelling an id that is
// not scheduled succeeds.
func (s *Scheduler) Cancel(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	log := s.log.With(logx.String("id", id))

	if err := s.timers.Cancel(ctx, TokenFor(id)); err != nil {
		err = fmt.Errorf("%w: %w", ErrCancellation, err)
		log.Error("cancel alarm failed", logx.Err(err))
		s.record(ctx, "cancel", id, err, start)
		s.publish(eventbus.AlarmCancelled, id, err, time.Time{})
		return false
	}
	if s.reg != nil {
		if err := s.reg.DeleteAlarm(ctx, id); err != nil {
			log.Warn("registry delete failed", logx.Err(err))
		}
	}
	log.Info("alarm cancelled")
	s.record(ctx, "cancel", id, nil, start)
	s.publish(eventbus.AlarmCancelled, id, nil, time.Time{})
	return true
}

// CancelAll cancels every registered alarm and returns how many were
// cancelled. Without a registry there is nothing to enumerate and it
// returns 0.
func (s *Scheduler) CancelAll(ctx context.Context) int {
	if s.reg == nil {
		s.log.Info("cancel all: no registry configured; nothing cancelled")
		return 0
	}
	recs, err := s.reg.ListAlarms(ctx)
	if err != nil {
		s.log.Error("cancel all: list registry failed", logx.Err(err))
		return 0
	}
	n := 0
	for _, r := range recs {
		if s.Cancel(ctx, r.ID) {
			n++
		}
	}
	s.log.Info("cancel all done", logx.Int("cancelled", n), logx.Int("registered", len(recs)))
	return n
}

// ScheduleTestFire arms TestAlarmID at 50% manual brightness ten seconds
// from now. It is not recorded in the registry and does not recur.
func (s *Scheduler) ScheduleTestFire(ctx context.Context) bool {
	start := time.Now()
	fireAt := s.clock().Add(testFireDelay)
	err := s.arm(ctx, TestAlarmID, fireAt, Payload{ID: TestAlarmID, Brightness: 0.5, AutoMode: false})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRegistration, err)
		s.log.Error("schedule test alarm failed", logx.Err(err))
		s.record(ctx, "test", TestAlarmID, err, start)
		return false
	}
	s.log.Info("test alarm scheduled", logx.Time("fire_at", fireAt))
	s.record(ctx, "test", TestAlarmID, nil, start)
	s.publish(eventbus.AlarmScheduled, TestAlarmID, nil, fireAt)
	return true
}

// List returns the registry joined with live timer state.
func (s *Scheduler) List(ctx context.Context) ([]Entry, error) {
	if s.reg == nil {
		return nil, nil
	}
	recs, err := s.reg.ListAlarms(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(recs))
	for _, r := range recs {
		at, ok := s.timers.Armed(TokenFor(r.ID))
		out = append(out, Entry{AlarmRecord: r, NextFire: at, Armed: ok})
	}
	return out, nil
}

// Sweep re-arms registry records whose occurrence is missing, e.g. after a
// failed reschedule. It returns the number re-armed.
func (s *Scheduler) Sweep(ctx context.Context) int {
	if s.reg == nil {
		return 0
	}
	recs, err := s.reg.ListAlarms(ctx)
	if err != nil {
		s.log.Warn("sweep: list registry failed", logx.Err(err))
		return 0
	}
	n := 0
	for _, r := range recs {
		if _, ok := s.timers.Armed(TokenFor(r.ID)); ok {
			continue
		}
		if s.sweepOne(ctx, r) {
			n++
		}
	}
	if n > 0 {
		s.publish(eventbus.AlarmSwept, "", nil, time.Time{})
	}
	s.log.Debug("sweep done", logx.Int("rearmed", n), logx.Int("registered", len(recs)))
	return n
}

// sweepOne re-arms r unless it was cancelled or armed since the listing.
func (s *Scheduler) sweepOne(ctx context.Context, r storage.AlarmRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok, err := s.reg.GetAlarm(ctx, r.ID)
	if err != nil || !ok {
		return false
	}
	if _, armed := s.timers.Armed(TokenFor(cur.ID)); armed {
		return false
	}
	s.log.Warn("sweep: alarm had no armed occurrence", logx.String("id", cur.ID))
	return s.scheduleLocked(ctx, specOf(cur), cur.Source) == nil
}

// forget drops a record without touching timers.
func (s *Scheduler) forget(ctx context.Context, id string) {
	if s.reg == nil {
		return
	}
	if err := s.reg.DeleteAlarm(ctx, id); err != nil {
		s.log.Warn("registry delete failed", logx.String("id", id), logx.Err(err))
	}
}

func (s *Scheduler) arm(ctx context.Context, id string, fireAt time.Time, p Payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return s.timers.Register(ctx, TokenFor(id), fireAt, b, true)
}

func (s *Scheduler) remember(ctx context.Context, spec Spec, source string) {
	if source == "" {
		source = SourceCommand
		if prev, ok, err := s.reg.GetAlarm(ctx, spec.ID); err == nil && ok && prev.Source != "" {
			source = prev.Source
		}
	}
	rec := storage.AlarmRecord{
		ID:         spec.ID,
		Hour:       spec.Hour,
		Minute:     spec.Minute,
		Brightness: spec.Brightness,
		AutoMode:   spec.AutoMode,
		Source:     source,
		UpdatedAt:  s.now(),
	}
	if err := s.reg.PutAlarm(ctx, rec); err != nil {
		// The occurrence is armed; only the registry is behind.
		s.log.Warn("registry update failed", logx.String("id", spec.ID), logx.Err(err))
	}
}

func (s *Scheduler) record(ctx context.Context, action, id string, err error, start time.Time) {
	if s.audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:      s.now(),
		Action:  action,
		AlarmID: id,
		OK:      err == nil,
		TookMS:  time.Since(start).Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := s.audit.AppendAudit(context.WithoutCancel(ctx), e); aerr != nil {
		s.log.Debug("audit append failed", logx.Err(aerr))
	}
}

func (s *Scheduler) publish(typ, id string, err error, next time.Time) {
	if s.bus == nil {
		return
	}
	ev := eventbus.AlarmEvent{ID: id, OK: err == nil}
	if err != nil {
		ev.Err = err.Error()
	}
	if !next.IsZero() {
		ev.NextFire = next.Format(time.RFC3339)
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func specOf(r storage.AlarmRecord) Spec {
	return Spec{ID: r.ID, Hour: r.Hour, Minute: r.Minute, Brightness: r.Brightness, AutoMode: r.AutoMode}
}
