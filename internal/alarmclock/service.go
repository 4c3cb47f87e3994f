package alarmclock

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"brightsched/internal/storage"
	logx "brightsched/pkg/logx"
)

var (
	ErrStopped = errors.New("alarm clock stopped")
	// ErrSuperseded is returned when a handler re-registers the token it is
	// delivering after that token was cancelled or replaced mid-delivery.
	ErrSuperseded = errors.New("occurrence superseded during delivery")
)

// defaultCatchUp is how often Poll compares pending fire times with the
// wall clock.
const defaultCatchUp = 30 * time.Second

type deliveryKey struct{}

// delivery identifies the occurrence a handler was invoked for.
type delivery struct {
	token int64
	ver   uint64
}

// Handler receives a due occurrence. The persisted record is consumed after
// the handler returns, unless the token was registered again meanwhile.
// A Register for the delivered token made with the handler's ctx fails with
// ErrSuperseded if the token was cancelled or replaced since delivery began.
type Handler func(ctx context.Context, token int64, payload []byte)

// Config controls delivery.
type Config struct {
	Workers int // concurrent deliveries (default 4)

	// RTCWakeAlarm is a sysfs wakealarm file (e.g. /sys/class/rtc/rtc0/wakealarm).
	// Empty disables wake-from-suspend programming.
	RTCWakeAlarm string

	// CatchUp is the Poll interval (default 30s).
	CatchUp time.Duration
}

type Service struct {
	log   logx.Logger
	store storage.OccurrenceStore
	waker Waker

	sem     chan struct{}
	now     func() time.Time
	catchUp time.Duration

	// mu guards the maps below and serializes store writes so that a
	// registration can never be overwritten by a stale consume.
	mu       sync.Mutex
	pending  map[int64]storage.Occurrence
	timers   map[int64]*time.Timer
	ver      map[int64]uint64
	inflight map[int64]uint64
	handler  Handler
	started  bool
	stopping bool
	lastWake time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, store storage.OccurrenceStore, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	var w Waker
	if cfg.RTCWakeAlarm != "" {
		w = RTCWaker{Path: cfg.RTCWakeAlarm}
	}
	catchUp := cfg.CatchUp
	if catchUp <= 0 {
		catchUp = defaultCatchUp
	}
	return &Service{
		log:      log,
		store:    store,
		waker:    w,
		sem:      make(chan struct{}, workers),
		now:      time.Now,
		catchUp:  catchUp,
		pending:  map[int64]storage.Occurrence{},
		timers:   map[int64]*time.Timer{},
		ver:      map[int64]uint64{},
		inflight: map[int64]uint64{},
	}
}

// SetClock overrides the wall clock. Call before Start.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// SetWaker overrides the wake programmer. Call before Start.
func (s *Service) SetWaker(w Waker) {
	s.mu.Lock()
	s.waker = w
	s.mu.Unlock()
}

// Register persists an occurrence for token, replacing any previous one, and
// arms it. Before Start the occurrence is persisted and armed on Start.
func (s *Service) Register(ctx context.Context, token int64, fireAt time.Time, payload []byte, wake bool) error {
	if fireAt.IsZero() {
		return errors.New("fire time required")
	}
	occ := storage.Occurrence{
		Token:   token,
		FireAt:  fireAt,
		Payload: append([]byte(nil), payload...),
		Wake:    wake,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return ErrStopped
	}
	if d, ok := ctx.Value(deliveryKey{}).(delivery); ok && d.token == token && s.ver[token] != d.ver {
		return ErrSuperseded
	}
	occ.ArmedAt = s.now()
	if err := s.store.PutOccurrence(ctx, occ); err != nil {
		return fmt.Errorf("persist occurrence: %w", err)
	}

	if t, ok := s.timers[token]; ok {
		_ = t.Stop()
		delete(s.timers, token)
	}
	// bump version to ignore stale callbacks from previously armed timers
	s.ver[token]++
	s.pending[token] = occ
	if s.started {
		s.armLocked(occ, s.ver[token])
	}
	s.updateWakeLocked()

	s.log.Debug("occurrence registered",
		logx.Int64("token", token),
		logx.Time("fire_at", fireAt),
		logx.Duration("in", fireAt.Sub(occ.ArmedAt).Round(time.Second)),
		logx.Bool("wake", wake),
	)
	return nil
}

// Cancel removes the occurrence for token. Unknown tokens are not an error.
func (s *Service) Cancel(ctx context.Context, token int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.DeleteOccurrence(ctx, token); err != nil {
		return fmt.Errorf("delete occurrence: %w", err)
	}
	if t, ok := s.timers[token]; ok {
		_ = t.Stop()
		delete(s.timers, token)
	}
	if _, ok := s.pending[token]; ok {
		s.ver[token]++
		delete(s.pending, token)
		s.updateWakeLocked()
	}
	return nil
}

// Armed reports whether token has a live occurrence and when it fires.
func (s *Service) Armed(token int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	occ, ok := s.pending[token]
	if !ok {
		return time.Time{}, false
	}
	return occ.FireAt, true
}

// Pending returns a copy of all live occurrences, earliest first.
func (s *Service) Pending() []storage.Occurrence {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.Occurrence, 0, len(s.pending))
	for _, o := range s.pending {
		out = append(out, o)
	}
	sortByFireAt(out)
	return out
}

// Start restores persisted occurrences and arms every timer. Occurrences
// whose fire time has passed are delivered immediately.
func (s *Service) Start(ctx context.Context, h Handler) error {
	if h == nil {
		return errors.New("handler required")
	}
	stored, err := s.store.ListOccurrences(ctx)
	if err != nil {
		return fmt.Errorf("restore occurrences: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.stopping {
		return ErrStopped
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.handler = h
	s.started = true

	for _, o := range stored {
		if _, ok := s.pending[o.Token]; ok {
			continue
		}
		s.pending[o.Token] = o
		s.ver[o.Token]++
	}
	overdue := 0
	now := s.now()
	for token, o := range s.pending {
		if !o.FireAt.After(now) {
			overdue++
		}
		s.armLocked(o, s.ver[token])
	}
	s.updateWakeLocked()

	s.log.Info("alarm clock started",
		logx.Int("restored", len(stored)),
		logx.Int("armed", len(s.pending)),
		logx.Int("overdue", overdue),
		logx.Int("workers", cap(s.sem)),
	)
	return nil
}

// Stop stops all timers and waits for in-flight deliveries. Persisted
// occurrences remain so they resume on the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	for tok, t := range s.timers {
		_ = t.Stop()
		delete(s.timers, tok)
	}
	cancel := s.cancel
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("alarm clock stop timed out; deliveries still running")
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("alarm clock stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) armLocked(o storage.Occurrence, ver uint64) {
	if t, ok := s.timers[o.Token]; ok {
		_ = t.Stop()
	}
	delay := max(o.FireAt.Sub(s.now()), 0)
	token := o.Token
	s.timers[token] = time.AfterFunc(delay, func() { s.deliver(token, ver) })
}

// earlyTolerance bounds how far ahead of FireAt a timer may fire before it
// is re-armed instead of delivered (wall clock stepped back).
const earlyTolerance = time.Second

func (s *Service) deliver(token int64, ver uint64) {
	s.mu.Lock()
	occ, ok := s.pending[token]
	if !ok || s.ver[token] != ver || s.stopping || !s.started {
		s.mu.Unlock()
		return
	}
	if v, busy := s.inflight[token]; busy && v == ver {
		s.mu.Unlock()
		return
	}
	if ahead := occ.FireAt.Sub(s.now()); ahead > earlyTolerance {
		s.armLocked(occ, ver)
		s.mu.Unlock()
		s.log.Info("timer fired early; re-armed", logx.Int64("token", token), logx.Duration("ahead", ahead.Round(time.Second)))
		return
	}
	delete(s.timers, token)
	s.inflight[token] = ver
	h := s.handler
	ctx := context.WithValue(s.ctx, deliveryKey{}, delivery{token: token, ver: ver})
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	start := time.Now()
	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.inflight[token] == ver {
			delete(s.inflight, token)
		}
		if s.ver[token] != ver {
			// re-registered (normal daily re-arm) or cancelled during delivery
			return
		}
		if s.stopping || ctx.Err() != nil {
			// the handler may not have re-armed; keep the record for the next start
			return
		}
		if err := s.store.DeleteOccurrence(context.WithoutCancel(ctx), token); err != nil {
			// The record stays and is delivered again after restart.
			s.log.Warn("consume occurrence failed", logx.Int64("token", token), logx.Err(err))
		}
		delete(s.pending, token)
		s.updateWakeLocked()
		s.log.Debug("occurrence consumed", logx.Int64("token", token), logx.Duration("took", time.Since(start)))
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.sem }()

	s.invoke(ctx, h, occ)
}

// CatchUp delivers every armed occurrence whose fire time has passed on the
// wall clock. Go timers follow the monotonic clock, which stops during
// suspend and ignores clock steps, so a resumed host would otherwise fire
// late. It returns the number of occurrences dispatched.
func (s *Service) CatchUp() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopping {
		return 0
	}
	now := s.now()
	n := 0
	for token, t := range s.timers {
		occ, ok := s.pending[token]
		if !ok || occ.FireAt.After(now) {
			continue
		}
		_ = t.Stop()
		delete(s.timers, token)
		ver := s.ver[token]
		go s.deliver(token, ver)
		n++
	}
	if n > 0 {
		s.log.Info("wall clock passed pending occurrences; delivering", logx.Int("due", n))
	}
	return n
}

// Poll runs CatchUp every catch-up interval until ctx is done.
func (s *Service) Poll(ctx context.Context) error {
	t := time.NewTicker(s.catchUp)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.CatchUp()
		}
	}
}

func (s *Service) invoke(ctx context.Context, h Handler, occ storage.Occurrence) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("alarm handler panic",
				logx.Int64("token", occ.Token),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	late := s.clockNow().Sub(occ.FireAt)
	if late > time.Minute {
		s.log.Info("delivering overdue occurrence", logx.Int64("token", occ.Token), logx.Duration("late", late.Round(time.Second)))
	}
	h(ctx, occ.Token, occ.Payload)
}

func (s *Service) clockNow() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

func (s *Service) updateWakeLocked() {
	if s.waker == nil {
		return
	}
	now := s.now()
	var next time.Time
	for _, o := range s.pending {
		if !o.Wake || !o.FireAt.After(now) {
			continue
		}
		if next.IsZero() || o.FireAt.Before(next) {
			next = o.FireAt
		}
	}
	if next.Equal(s.lastWake) {
		return
	}
	if err := s.waker.SetWake(next); err != nil {
		s.log.Warn("program wake alarm failed", logx.Err(err))
		return
	}
	s.lastWake = next
}
