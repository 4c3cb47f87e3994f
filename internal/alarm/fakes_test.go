package alarm

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type fakeOcc struct {
	at      time.Time
	payload []byte
	wake    bool
}

type fakeTimers struct {
	mu          sync.Mutex
	occ         map[int64]fakeOcc
	registers   int
	registerErr error
	cancelErr   error
}

func newFakeTimers() *fakeTimers { return &fakeTimers{occ: map[int64]fakeOcc{}} }

func (f *fakeTimers) Register(ctx context.Context, token int64, fireAt time.Time, payload []byte, wake bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return f.registerErr
	}
	f.registers++
	f.occ[token] = fakeOcc{at: fireAt, payload: append([]byte(nil), payload...), wake: wake}
	return nil
}

func (f *fakeTimers) Cancel(ctx context.Context, token int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	delete(f.occ, token)
	return nil
}

func (f *fakeTimers) Armed(token int64) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.occ[token]
	return o.at, ok
}

func (f *fakeTimers) get(t *testing.T, id string) (fakeOcc, Payload) {
	t.Helper()
	f.mu.Lock()
	o, ok := f.occ[TokenFor(id)]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no occurrence armed for %q", id)
	}
	var p Payload
	if err := json.Unmarshal(o.payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	return o, p
}

func (f *fakeTimers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.occ)
}

// consume simulates the alarm clock removing a delivered occurrence.
func (f *fakeTimers) consume(id string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.occ[TokenFor(id)]
	delete(f.occ, TokenFor(id))
	return o.payload
}

type applyCall struct {
	value float64
	auto  bool
}

type fakeApplier struct {
	mu    sync.Mutex
	calls []applyCall
	err   error
	panic bool
}

func (f *fakeApplier) Apply(ctx context.Context, value float64, auto bool) error {
	f.mu.Lock()
	f.calls = append(f.calls, applyCall{value, auto})
	err, p := f.err, f.panic
	f.mu.Unlock()
	if p {
		panic("backlight exploded")
	}
	return err
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
