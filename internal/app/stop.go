package app

import (
	"context"
	"fmt"
	"time"

	logx "brightsched/pkg/logx"
)

// stopper runs shutdown steps one after another, each bounded by its own
// budget and by the caller's deadline.
type stopper struct {
	log logx.Logger
	ctx context.Context
}

// run executes fn with a context that expires after budget. A step that
// overruns is abandoned, and a late finish is still logged.
func (s stopper) run(name string, budget time.Duration, fn func(context.Context) error) {
	start := time.Now()
	log := s.log.With(logx.String("step", name))

	if dl, ok := s.ctx.Deadline(); ok {
		budget = min(budget, time.Until(dl))
	}
	if budget <= 0 {
		log.Warn("stop step skipped: no time left")
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, budget)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		switch {
		case err != nil:
			log.Warn("stop step failed", logx.Err(err), logx.Duration("took", took))
		case took >= 500*time.Millisecond:
			log.Info("stop step done", logx.Duration("took", took))
		default:
			log.Debug("stop step done", logx.Duration("took", took))
		}
	case <-ctx.Done():
		log.Warn("stop step over budget; continuing", logx.Duration("budget", budget))
		go func() {
			err := <-done
			log.Info("stop step finished late", logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}
