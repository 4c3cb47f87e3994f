package alarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"brightsched/internal/eventbus"
	logx "brightsched/pkg/logx"
)

// FireHandler runs when an occurrence is delivered: apply brightness, then
// re-arm the same id for the next day.
type FireHandler struct {
	sched   *Scheduler
	applier Applier
	log     logx.Logger
}

func NewFireHandler(s *Scheduler, a Applier, log logx.Logger) *FireHandler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FireHandler{sched: s, applier: a, log: log}
}

// Deliver adapts OnFire to the alarm clock's handler signature.
func (h *FireHandler) Deliver(ctx context.Context, token int64, payload []byte) {
	h.OnFire(ctx, payload)
}

// OnFire never panics and never returns an error: failures are logged and,
// where possible, the alarm is still re-armed.
func (h *FireHandler) OnFire(ctx context.Context, payload []byte) {
	start := time.Now()

	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.log.Error("discarding undecodable fire payload", logx.Err(err), logx.Int("bytes", len(payload)))
		return
	}
	if p.ID == "" {
		h.log.Error("discarding fire payload without id")
		return
	}
	log := h.log.With(logx.String("id", p.ID))
	log.Info("alarm fired", logx.Float64("brightness", p.Brightness), logx.Bool("auto", p.AutoMode))

	applyErr := h.apply(ctx, p)
	switch {
	case applyErr == nil:
	case errors.Is(applyErr, ErrPermissionDenied):
		log.Warn("no permission to change brightness", logx.Err(applyErr))
	default:
		log.Error("apply brightness failed", logx.Err(applyErr))
	}

	hour, minute, err := ParseID(p.ID)
	if err != nil {
		if p.ID == TestAlarmID {
			log.Debug("test alarm done")
		} else {
			log.Warn("not rescheduling: malformed identifier", logx.Err(err))
			h.sched.forget(ctx, p.ID)
		}
		h.finish(ctx, p.ID, errors.Join(applyErr, err), start, false)
		return
	}

	err = h.sched.rearm(ctx, Spec{ID: p.ID, Hour: hour, Minute: minute, Brightness: p.Brightness, AutoMode: p.AutoMode})
	switch {
	case err == nil:
	case errors.Is(err, ErrSuperseded):
		log.Info("not rescheduling: alarm cancelled or replaced while firing")
	default:
		// The sweep re-arms it from the registry.
		log.Error("reschedule after fire failed")
		applyErr = errors.Join(applyErr, err)
	}
	h.finish(ctx, p.ID, applyErr, start, err == nil)
}

func (h *FireHandler) apply(ctx context.Context, p Payload) (err error) {
	if h.applier == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("brightness applier panic: %v", r)
		}
	}()
	return h.applier.Apply(ctx, p.Brightness, p.AutoMode)
}

func (h *FireHandler) finish(ctx context.Context, id string, err error, start time.Time, rearmed bool) {
	h.sched.record(ctx, "fire", id, err, start)
	var next time.Time
	if rearmed {
		next, _ = h.sched.timers.Armed(TokenFor(id))
	}
	h.sched.publish(eventbus.AlarmFired, id, err, next)
}
