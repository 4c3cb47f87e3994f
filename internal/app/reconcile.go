package app

import (
	"context"
	"slices"

	"brightsched/internal/alarm"
	logx "brightsched/pkg/logx"
)

type reconcileResult struct {
	Armed     int
	Kept      int
	Cancelled int
	Failed    int
}

// reconcileAlarms makes the registry match the declared alarms. An alarm
// that is already registered with the same settings and still armed is left
// alone, so an overdue occurrence restored at start is not replaced before
// it fires. Config-sourced records that are no longer declared, and declared
// alarms marked disabled, are cancelled. Command-sourced records are kept.
func reconcileAlarms(ctx context.Context, s *alarm.Scheduler, declared []alarm.Spec, disabled []string, log logx.Logger) reconcileResult {
	var res reconcileResult

	entries, err := s.List(ctx)
	if err != nil {
		log.Error("reconcile: list registry failed", logx.Err(err))
		res.Failed = len(declared)
		return res
	}
	current := make(map[string]alarm.Entry, len(entries))
	for _, e := range entries {
		current[e.ID] = e
	}

	want := make(map[string]bool, len(declared))
	for _, spec := range declared {
		want[spec.ID] = true
		if e, ok := current[spec.ID]; ok && e.Armed && e.Source == alarm.SourceConfig && sameSpec(e, spec) {
			res.Kept++
			continue
		}
		if s.ScheduleSpec(ctx, spec, alarm.SourceConfig) {
			res.Armed++
		} else {
			res.Failed++
		}
	}

	cancel := func(id string) {
		if s.Cancel(ctx, id) {
			res.Cancelled++
		} else {
			res.Failed++
		}
	}
	for _, id := range disabled {
		if _, ok := current[id]; ok && !want[id] {
			cancel(id)
		}
	}
	for _, e := range entries {
		if e.Source == alarm.SourceConfig && !want[e.ID] && !slices.Contains(disabled, e.ID) {
			cancel(e.ID)
		}
	}

	log.Info("declared alarms reconciled",
		logx.Int("declared", len(declared)),
		logx.Int("armed", res.Armed),
		logx.Int("kept", res.Kept),
		logx.Int("cancelled", res.Cancelled),
		logx.Int("failed", res.Failed),
	)
	return res
}

func sameSpec(e alarm.Entry, s alarm.Spec) bool {
	return e.Hour == s.Hour && e.Minute == s.Minute && e.Brightness == s.Brightness && e.AutoMode == s.AutoMode
}
