package app

import (
	"context"
	"testing"

	"brightsched/internal/alarm"
	"brightsched/internal/alarmclock"
	"brightsched/internal/storage"
	logx "brightsched/pkg/logx"
)

// newTestScheduler wires a scheduler over an unstarted clock: occurrences
// are persisted and tracked but never fire.
func newTestScheduler(t *testing.T) *alarm.Scheduler {
	t.Helper()
	store := storage.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	clock := alarmclock.New(alarmclock.Config{}, store, logx.Nop())
	return alarm.NewScheduler(clock, logx.Nop(), alarm.WithRegistry(store))
}

func listByID(t *testing.T, s *alarm.Scheduler) map[string]alarm.Entry {
	t.Helper()
	entries, err := s.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	out := map[string]alarm.Entry{}
	for _, e := range entries {
		out[e.ID] = e
	}
	return out
}

func TestReconcileAlarms(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestScheduler(t)
	log := logx.Nop()

	wake := alarm.Spec{ID: "wake_7_30", Hour: 7, Minute: 30, Brightness: 0.8}
	night := alarm.Spec{ID: "night_22_0", Hour: 22, Brightness: 0.1, AutoMode: true}

	res := reconcileAlarms(ctx, s, []alarm.Spec{wake, night}, nil, log)
	if res != (reconcileResult{Armed: 2}) {
		t.Fatalf("first pass = %+v", res)
	}
	got := listByID(t, s)
	if e := got["wake_7_30"]; !e.Armed || e.Source != alarm.SourceConfig {
		t.Fatalf("wake entry = %+v", e)
	}

	// unchanged and armed: left alone
	res = reconcileAlarms(ctx, s, []alarm.Spec{wake, night}, nil, log)
	if res != (reconcileResult{Kept: 2}) {
		t.Fatalf("second pass = %+v", res)
	}

	// changed brightness re-arms
	wake.Brightness = 0.6
	res = reconcileAlarms(ctx, s, []alarm.Spec{wake, night}, nil, log)
	if res != (reconcileResult{Armed: 1, Kept: 1}) {
		t.Fatalf("changed pass = %+v", res)
	}
	if e := listByID(t, s)["wake_7_30"]; e.Brightness != 0.6 {
		t.Fatalf("wake brightness = %v", e.Brightness)
	}

	// an alarm set from chat survives reconciliation
	if !s.Schedule(ctx, "nap_14_0", 14, 0, 0.3, false) {
		t.Fatal("schedule nap failed")
	}

	// night disabled, wake removed from config
	res = reconcileAlarms(ctx, s, nil, []string{"night_22_0"}, log)
	if res != (reconcileResult{Cancelled: 2}) {
		t.Fatalf("removal pass = %+v", res)
	}
	got = listByID(t, s)
	if len(got) != 1 {
		t.Fatalf("entries = %v", got)
	}
	if e, ok := got["nap_14_0"]; !ok || e.Source != alarm.SourceCommand || !e.Armed {
		t.Fatalf("nap entry = %+v", e)
	}
}

func TestReconcileDisabledUnknownIsNoop(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t)
	res := reconcileAlarms(context.Background(), s, nil, []string{"ghost_1_0"}, logx.Nop())
	if res != (reconcileResult{}) {
		t.Fatalf("result = %+v", res)
	}
}
