package alarm

import "context"

// PermissionChecker reports whether the brightness setting is writable.
type PermissionChecker interface {
	Check(ctx context.Context) error
}

// AutoReporter reports whether automatic brightness is active.
type AutoReporter interface {
	AutoEnabled(ctx context.Context) (bool, error)
}

// Surface is the command-facing API used by the Telegram router.
type Surface struct {
	sched   *Scheduler
	applier Applier
	perm    PermissionChecker
}

func NewSurface(s *Scheduler, a Applier, perm PermissionChecker) *Surface {
	return &Surface{sched: s, applier: a, perm: perm}
}

// ScheduleAlarm arms id, or cancels it when enabled is false.
func (s *Surface) ScheduleAlarm(ctx context.Context, id string, hour, minute int, brightness float64, autoMode, enabled bool) bool {
	if !enabled {
		return s.CancelAlarm(ctx, id)
	}
	return s.sched.ScheduleSpec(ctx, Spec{ID: id, Hour: hour, Minute: minute, Brightness: brightness, AutoMode: autoMode}, SourceCommand)
}

func (s *Surface) CancelAlarm(ctx context.Context, id string) bool { return s.sched.Cancel(ctx, id) }

func (s *Surface) CancelAllAlarms(ctx context.Context) int { return s.sched.CancelAll(ctx) }

func (s *Surface) TestAlarm(ctx context.Context) bool { return s.sched.ScheduleTestFire(ctx) }

func (s *Surface) List(ctx context.Context) ([]Entry, error) { return s.sched.List(ctx) }

// SetBrightness applies a value immediately, outside any alarm.
func (s *Surface) SetBrightness(ctx context.Context, value float64, auto bool) error {
	if s.applier == nil {
		return nil
	}
	return s.applier.Apply(ctx, value, auto)
}

// CheckPermission returns nil when brightness can be written.
func (s *Surface) CheckPermission(ctx context.Context) error {
	if s.perm == nil {
		return nil
	}
	return s.perm.Check(ctx)
}

// AutoBrightnessEnabled reports whether automatic brightness is on. Appliers
// without an auto provider report false with an error.
func (s *Surface) AutoBrightnessEnabled(ctx context.Context) (bool, error) {
	r, ok := s.applier.(AutoReporter)
	if !ok {
		return false, ErrAutoUnavailable
	}
	return r.AutoEnabled(ctx)
}
