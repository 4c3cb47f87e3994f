package alarmclock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"brightsched/internal/storage"
	logx "brightsched/pkg/logx"
)

type testDelivery struct {
	token   int64
	payload string
}

type recorder struct {
	mu  sync.Mutex
	got []testDelivery
	ch  chan testDelivery
}

func newRecorder() *recorder { return &recorder{ch: make(chan testDelivery, 16)} }

func (r *recorder) handle(ctx context.Context, token int64, payload []byte) {
	d := testDelivery{token: token, payload: string(payload)}
	r.mu.Lock()
	r.got = append(r.got, d)
	r.mu.Unlock()
	r.ch <- d
}

func (r *recorder) wait(t *testing.T) testDelivery {
	t.Helper()
	select {
	case d := <-r.ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return testDelivery{}
	}
}

func (r *recorder) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case got := <-r.ch:
		t.Fatalf("unexpected delivery %+v", got)
	case <-time.After(d):
	}
}

func waitConsumed(t *testing.T, st storage.OccurrenceStore, token int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		list, _ := st.ListOccurrences(context.Background())
		found := false
		for _, o := range list {
			if o.Token == token {
				found = true
			}
		}
		if !found {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("token %d still persisted", token)
}

func TestRegisterDelivers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	svc := New(Config{}, st, logx.Nop())
	rec := newRecorder()
	if err := svc.Start(ctx, rec.handle); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop(ctx)

	if err := svc.Register(ctx, 7, time.Now().Add(20*time.Millisecond), []byte(`{"id":"a_1_2"}`), true); err != nil {
		t.Fatal(err)
	}
	if _, ok := svc.Armed(7); !ok {
		t.Fatal("token should be armed after Register")
	}
	d := rec.wait(t)
	if d.token != 7 || d.payload != `{"id":"a_1_2"}` {
		t.Fatalf("delivery = %+v", d)
	}
	waitConsumed(t, st, 7)
	if _, ok := svc.Armed(7); ok {
		t.Fatal("token should not be armed after consume")
	}
}

func TestRegisterReplacesByToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := New(Config{}, storage.NewMemory(), logx.Nop())
	rec := newRecorder()
	_ = svc.Start(ctx, rec.handle)
	defer svc.Stop(ctx)

	_ = svc.Register(ctx, 1, time.Now().Add(30*time.Millisecond), []byte("old"), false)
	_ = svc.Register(ctx, 1, time.Now().Add(60*time.Millisecond), []byte("new"), false)

	d := rec.wait(t)
	if d.payload != "new" {
		t.Fatalf("payload = %q, want new", d.payload)
	}
	rec.none(t, 100*time.Millisecond)
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	svc := New(Config{}, st, logx.Nop())
	rec := newRecorder()
	_ = svc.Start(ctx, rec.handle)
	defer svc.Stop(ctx)

	_ = svc.Register(ctx, 5, time.Now().Add(30*time.Millisecond), nil, false)
	if err := svc.Cancel(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if err := svc.Cancel(ctx, 5); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if err := svc.Cancel(ctx, 99); err != nil {
		t.Fatalf("cancel unknown: %v", err)
	}
	rec.none(t, 80*time.Millisecond)
	if list, _ := st.ListOccurrences(ctx); len(list) != 0 {
		t.Fatalf("persisted after cancel: %+v", list)
	}
}

func TestStartRestoresAndDeliversOverdue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	_ = st.PutOccurrence(ctx, storage.Occurrence{Token: 3, FireAt: time.Now().Add(-time.Hour), Payload: []byte("late")})
	_ = st.PutOccurrence(ctx, storage.Occurrence{Token: 4, FireAt: time.Now().Add(time.Hour), Payload: []byte("later")})

	svc := New(Config{}, st, logx.Nop())
	rec := newRecorder()
	if err := svc.Start(ctx, rec.handle); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop(ctx)

	if d := rec.wait(t); d.token != 3 {
		t.Fatalf("delivered %+v, want token 3", d)
	}
	if _, ok := svc.Armed(4); !ok {
		t.Fatal("future occurrence should be armed after restore")
	}
	rec.none(t, 50*time.Millisecond)
}

func TestReRegisterDuringDeliveryKeepsRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	svc := New(Config{}, st, logx.Nop())

	next := time.Now().Add(24 * time.Hour)
	done := make(chan struct{})
	h := func(ctx context.Context, token int64, payload []byte) {
		// daily re-arm from inside the handler
		if err := svc.Register(ctx, token, next, payload, true); err != nil {
			t.Errorf("re-register: %v", err)
		}
		close(done)
	}
	_ = svc.Start(ctx, h)
	defer svc.Stop(ctx)

	_ = svc.Register(ctx, 11, time.Now().Add(10*time.Millisecond), []byte("p"), true)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	time.Sleep(30 * time.Millisecond)

	at, ok := svc.Armed(11)
	if !ok || !at.Equal(next) {
		t.Fatalf("Armed = %v %v, want %v", at, ok, next)
	}
	list, _ := st.ListOccurrences(ctx)
	if len(list) != 1 || !list[0].FireAt.Equal(next) {
		t.Fatalf("persisted = %+v", list)
	}
}

func TestCrashDuringDeliveryRedelivers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	svc := New(Config{}, st, logx.Nop())

	entered := make(chan struct{})
	release := make(chan struct{})
	_ = svc.Start(ctx, func(ctx context.Context, token int64, payload []byte) {
		close(entered)
		<-release
	})
	_ = svc.Register(ctx, 21, time.Now(), []byte("x"), false)
	<-entered

	// Process dies mid-delivery: Stop while the handler is still running.
	stopCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	svc.Stop(stopCtx)
	cancel()
	close(release)
	time.Sleep(20 * time.Millisecond)

	if list, _ := st.ListOccurrences(ctx); len(list) != 1 {
		t.Fatalf("record should survive an interrupted delivery, got %+v", list)
	}

	svc2 := New(Config{}, st, logx.Nop())
	rec := newRecorder()
	_ = svc2.Start(ctx, rec.handle)
	defer svc2.Stop(ctx)
	if d := rec.wait(t); d.token != 21 {
		t.Fatalf("redelivered %+v", d)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := New(Config{}, storage.NewMemory(), logx.Nop())
	calls := make(chan int64, 2)
	_ = svc.Start(ctx, func(ctx context.Context, token int64, payload []byte) {
		calls <- token
		if token == 1 {
			panic("boom")
		}
	})
	defer svc.Stop(ctx)

	_ = svc.Register(ctx, 1, time.Now(), nil, false)
	_ = svc.Register(ctx, 2, time.Now().Add(20*time.Millisecond), nil, false)
	seen := map[int64]bool{}
	for i := 0; i < 2; i++ {
		select {
		case tok := <-calls:
			seen[tok] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("deliveries seen: %v", seen)
		}
	}
}

func TestRegisterAfterStop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := New(Config{}, storage.NewMemory(), logx.Nop())
	_ = svc.Start(ctx, func(context.Context, int64, []byte) {})
	svc.Stop(ctx)
	if err := svc.Register(ctx, 1, time.Now(), nil, false); !errors.Is(err, ErrStopped) {
		t.Fatalf("Register after Stop = %v, want ErrStopped", err)
	}
}

func TestRTCWakerProgramsEarliestWake(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wakealarm")
	svc := New(Config{RTCWakeAlarm: path}, storage.NewMemory(), logx.Nop())
	_ = svc.Start(ctx, func(context.Context, int64, []byte) {})
	defer svc.Stop(ctx)

	early := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	late := early.Add(time.Hour)
	_ = svc.Register(ctx, 1, late, nil, true)
	_ = svc.Register(ctx, 2, early, nil, true)
	_ = svc.Register(ctx, 3, early.Add(-time.Minute), nil, false) // no wake requested

	if got := readEpoch(t, path); got != early.Unix() {
		t.Fatalf("wakealarm = %d, want %d", got, early.Unix())
	}
	_ = svc.Cancel(ctx, 2)
	if got := readEpoch(t, path); got != late.Unix() {
		t.Fatalf("wakealarm after cancel = %d, want %d", got, late.Unix())
	}
	_ = svc.Cancel(ctx, 1)
	if got := readEpoch(t, path); got != 0 {
		t.Fatalf("wakealarm after clearing = %d, want 0", got)
	}
}

func readEpoch(t *testing.T, path string) int64 {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		t.Fatalf("parse %q: %v", b, err)
	}
	return n
}

func TestCancelDuringDeliveryRejectsRearm(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	svc := New(Config{}, st, logx.Nop())

	entered := make(chan struct{})
	release := make(chan struct{})
	rearm := make(chan error, 1)
	_ = svc.Start(ctx, func(ctx context.Context, token int64, payload []byte) {
		close(entered)
		<-release
		rearm <- svc.Register(ctx, token, time.Now().Add(24*time.Hour), payload, true)
	})
	defer svc.Stop(ctx)

	_ = svc.Register(ctx, 12, time.Now().Add(10*time.Millisecond), []byte("p"), true)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	if err := svc.Cancel(ctx, 12); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(release)

	if err := <-rearm; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("re-arm after cancel = %v, want ErrSuperseded", err)
	}
	waitConsumed(t, st, 12)
	if _, ok := svc.Armed(12); ok {
		t.Fatal("token armed again after cancel")
	}

	// A registration outside the delivery is unaffected.
	if err := svc.Register(ctx, 12, time.Now().Add(time.Hour), []byte("p"), true); err != nil {
		t.Fatalf("Register after cancel: %v", err)
	}
}

type wallClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *wallClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *wallClock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestCatchUpDeliversAfterWallClockJump(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	svc := New(Config{}, st, logx.Nop())
	clk := &wallClock{t: time.Now()}
	svc.SetClock(clk.Now)

	rec := newRecorder()
	_ = svc.Start(ctx, rec.handle)
	defer svc.Stop(ctx)

	_ = svc.Register(ctx, 5, clk.Now().Add(time.Hour), []byte("morning"), true)
	if n := svc.CatchUp(); n != 0 {
		t.Fatalf("CatchUp before due = %d, want 0", n)
	}
	rec.none(t, 50*time.Millisecond)

	// Resume from suspend: the wall clock moved, the monotonic timer did not.
	clk.Add(2 * time.Hour)
	if n := svc.CatchUp(); n != 1 {
		t.Fatalf("CatchUp after jump = %d, want 1", n)
	}
	if d := rec.wait(t); d.token != 5 || d.payload != "morning" {
		t.Fatalf("delivery = %+v", d)
	}
	waitConsumed(t, st, 5)
	if n := svc.CatchUp(); n != 0 {
		t.Fatalf("second CatchUp = %d, want 0", n)
	}
	rec.none(t, 50*time.Millisecond)
}

func TestEarlyTimerIsRearmed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := New(Config{}, storage.NewMemory(), logx.Nop())
	clk := &wallClock{t: time.Now()}
	svc.SetClock(clk.Now)

	rec := newRecorder()
	_ = svc.Start(ctx, rec.handle)
	defer svc.Stop(ctx)

	_ = svc.Register(ctx, 6, clk.Now().Add(20*time.Millisecond), []byte("p"), false)
	// Wall clock stepped back before the timer fired.
	clk.Add(-time.Hour)
	rec.none(t, 100*time.Millisecond)
	if _, ok := svc.Armed(6); !ok {
		t.Fatal("early occurrence dropped")
	}

	clk.Add(time.Hour + time.Second)
	if n := svc.CatchUp(); n != 1 {
		t.Fatalf("CatchUp = %d, want 1", n)
	}
	if d := rec.wait(t); d.token != 6 {
		t.Fatalf("delivery = %+v", d)
	}
}

func TestPollRunsCatchUp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := New(Config{CatchUp: 10 * time.Millisecond}, storage.NewMemory(), logx.Nop())
	clk := &wallClock{t: time.Now()}
	svc.SetClock(clk.Now)

	rec := newRecorder()
	_ = svc.Start(ctx, rec.handle)
	defer svc.Stop(ctx)

	pctx, cancel := context.WithCancel(ctx)
	polled := make(chan error, 1)
	go func() { polled <- svc.Poll(pctx) }()

	_ = svc.Register(ctx, 7, clk.Now().Add(8*time.Hour), []byte("p"), true)
	clk.Add(9 * time.Hour)
	if d := rec.wait(t); d.token != 7 {
		t.Fatalf("delivery = %+v", d)
	}
	cancel()
	if err := <-polled; err != nil {
		t.Fatalf("Poll = %v", err)
	}
}
