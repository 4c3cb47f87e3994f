package app

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "brightsched/pkg/logx"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// sweeper runs the registry sweep on a cron schedule.
type sweeper struct {
	log logx.Logger
	run func(ctx context.Context) int

	mu   sync.Mutex
	c    *cron.Cron
	id   cron.EntryID
	spec string
	ctx  context.Context
}

func newSweeper(log logx.Logger, loc *time.Location, run func(ctx context.Context) int) *sweeper {
	return &sweeper{
		log: log,
		run: run,
		c: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
	}
}

// Start begins triggering. Jobs run with ctx.
func (s *sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.c.Start()
}

// Apply installs spec, replacing the previous one. An empty spec disables the sweep.
func (s *sweeper) Apply(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if spec == s.spec {
		return nil
	}
	if s.id != 0 {
		s.c.Remove(s.id)
		s.id = 0
	}
	s.spec = spec
	if spec == "" {
		s.log.Info("maintenance sweep disabled")
		return nil
	}
	id, err := s.c.AddFunc(spec, s.tick)
	if err != nil {
		s.spec = ""
		return err
	}
	s.id = id
	s.log.Info("maintenance sweep scheduled", logx.String("spec", spec), logx.Time("next", s.c.Entry(id).Next))
	return nil
}

func (s *sweeper) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	start := time.Now()
	n := s.run(ctx)
	s.log.Debug("maintenance sweep done", logx.Int("rearmed", n), logx.Duration("took", time.Since(start)))
}

func (s *sweeper) Stop(ctx context.Context) {
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
}
