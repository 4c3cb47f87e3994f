package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"brightsched/internal/alarm"
	"brightsched/internal/alarmclock"
	"brightsched/internal/brightness"
	"brightsched/internal/config"
	"brightsched/internal/eventbus"
	"brightsched/internal/runtime/supervisor"
	"brightsched/internal/storage"
	kit "brightsched/internal/transport"
	telegram "brightsched/internal/transport/telegram/adapter"
	"brightsched/internal/transport/telegram/router"
	logx "brightsched/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	loc   *time.Location

	clock   *alarmclock.Service
	sched   *alarm.Scheduler
	fire    *alarm.FireHandler
	bright  *brightness.Controller
	surface *alarm.Surface
	sweeper *sweeper

	// nil when telegram.token is empty
	adapter *telegram.Adapter
	cmdm    *router.CommandManager

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	var ad *telegram.Adapter
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
		pollTimeout, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		ad, err = telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
		}, bootLog)
		if err != nil {
			return nil, err
		}
	}

	// A nil *Adapter must not end up inside the interface.
	var sender logx.Sender
	if ad != nil {
		sender = ad
	}
	logSvc, log := logx.New(mapLogConfig(cfg), sender)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	tc, err := mapTimerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	loc, err := loadLocation(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	clock := alarmclock.New(tc, store, log.With(logx.String("comp", "alarmclock")))

	sched := alarm.NewScheduler(clock, log.With(logx.String("comp", "scheduler")),
		alarm.WithRegistry(store),
		alarm.WithAudit(store),
		alarm.WithBus(bus),
		alarm.WithLocation(loc),
	)

	bc, err := mapBrightnessConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	bright, err := brightness.New(bc, log.With(logx.String("comp", "brightness")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		loc:     loc,
		clock:   clock,
		sched:   sched,
		fire:    alarm.NewFireHandler(sched, bright, log.With(logx.String("comp", "fire"))),
		bright:  bright,
		surface: alarm.NewSurface(sched, bright, bright),
		sweeper: newSweeper(log.With(logx.String("comp", "maintenance")), loc, sched.Sweep),
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}

	if ad != nil {
		a.cmdm = router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs)
		a.cmdm.SetRegistry(alarmCommands(commandDeps{
			surface: a.surface,
			loc:     loc,
			backend: bright.Backend,
			pending: func() int { return len(clock.Pending()) },
			reload:  cfgm.Status,
			sups:    a.supervisors,
		}))
	}
	return a, nil
}

// supervisors names every runtime supervisor for the status command.
func (a *App) supervisors() map[string]*supervisor.Supervisor {
	out := map[string]*supervisor.Supervisor{"app": a.sup}
	if a.adapter != nil {
		out["telegram.adapter"] = a.adapter.Supervisor()
	}
	if a.cmdm != nil {
		out["commands"] = a.cmdm.Supervisor()
	}
	return out
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error { return validateConfig(cfg) })

	// Restores persisted occurrences; overdue ones are delivered right away.
	if err := a.clock.Start(a.sup.Context(), a.fire.Deliver); err != nil {
		return fmt.Errorf("alarm clock: %w", err)
	}
	a.sup.Go("alarmclock.catchup", a.clock.Poll)
	a.sup.Go0("logind.resume", func(c context.Context) {
		resumeLoop(c, a.log, func() { a.clock.CatchUp() })
	})

	cfg := a.cfgm.Get()
	declared, disabled, err := mapAlarms(cfg)
	if err != nil {
		return err
	}
	reconcileAlarms(a.sup.Context(), a.sched, declared, disabled, a.log)

	a.sweeper.Start(a.sup.Context())
	spec, err := mapSweep(cfg)
	if err != nil {
		return err
	}
	if err := a.sweeper.Apply(spec); err != nil {
		return fmt.Errorf("maintenance.sweep: %w", err)
	}

	if a.adapter != nil {
		if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.cmdm.DispatchLoop(c, a.updates)
		})
		a.sup.Go0("commands.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 15*time.Second)
			defer cancel()
			if err := a.cmdm.PublishMenu(mctx); err != nil {
				a.log.Warn("command menu publish failed", logx.Err(err))
			}
		})
	} else {
		a.log.Info("telegram disabled (no token)")
	}

	// Optional: log events for observability/debug (components can also subscribe themselves).
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
				if ae, ok := e.Data.(eventbus.AlarmEvent); ok {
					fields = append(fields, logx.String("id", ae.ID), logx.Bool("ok", ae.OK))
				}
				a.log.Debug("event", fields...)
			}
		}
	})

	// hot reload config fan-out
	sub, unsubCfg := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer unsubCfg()
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer, ok := <-sub:
						if !ok {
							drained = true
						} else if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("config.sighup", a.reloadOnHangup)

	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdogLoop(c, a.log) })
	sdNotify(a.log, "READY=1")

	a.log.Info("app started",
		logx.String("backend", a.bright.Backend()),
		logx.String("timezone", a.loc.String()),
		logx.Int("pending", len(a.clock.Pending())),
	)
	return nil
}

// reloadOnHangup re-reads the config file on SIGHUP.
func (a *App) reloadOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			err := a.cfgm.Reload(ctx)
			switch {
			case err == nil:
			case errors.Is(err, config.ErrUnchanged):
				a.log.Info("SIGHUP: config unchanged")
			default:
				a.log.Warn("SIGHUP: reload failed; keeping current config", logx.Err(err))
			}
		}
	}
}

// applyConfig applies the live-reloadable parts of a committed config.
// Storage, timer, brightness and the bot token need a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *Config) {
	sections, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(restart) > 0 {
		a.log.Warn("config changed in sections that apply on restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if a.cmdm != nil {
		a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)
	}

	if spec, err := mapSweep(newCfg); err != nil {
		a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
	} else if err := a.sweeper.Apply(spec); err != nil {
		a.log.Warn("maintenance sweep apply failed", logx.Err(err))
	}

	for _, s := range sections {
		if s != "alarms" {
			continue
		}
		declared, disabled, err := mapAlarms(newCfg)
		if err != nil {
			a.log.Warn("invalid alarms config; keeping previous", logx.Err(err))
			break
		}
		reconcileAlarms(ctx, a.sched, declared, disabled, a.log)
		break
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, "STOPPING=1")

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	step := stopper{log: a.log, ctx: ctx}.run

	step("maintenance", 2*time.Second, func(c context.Context) error { a.sweeper.Stop(c); return nil })
	if a.adapter != nil {
		step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	}
	// Supervised goroutines (dispatch, reload, watch) use the scheduler and
	// store, so they are drained before either closes.
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	// Pending occurrences stay persisted; only in-flight deliveries are awaited.
	step("alarmclock", 3*time.Second, func(c context.Context) error { a.clock.Stop(c); return nil })
	step("brightness", 1*time.Second, func(c context.Context) error { a.bright.Close(); return nil })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
