package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"brightsched/internal/alarm"
	"brightsched/internal/config"
	"brightsched/internal/runtime/supervisor"
	kit "brightsched/internal/transport"
	"brightsched/internal/transport/telegram/router"
	"brightsched/pkg/tgui"
)

// commandDeps is what the chat commands need from the running app.
type commandDeps struct {
	surface *alarm.Surface
	loc     *time.Location
	backend func() string
	pending func() int
	reload  func() config.ReloadStatus
	sups    func() map[string]*supervisor.Supervisor
}

func alarmCommands(d commandDeps) ([]router.Command, []router.CallbackRoute) {
	cmds := []router.Command{
		{
			Name:        "alarm_set",
			Aliases:     []string{"as"},
			Description: "schedule a daily brightness alarm",
			Usage:       "/alarm_set <label> <HH:MM> <brightness> [auto|manual] [on|off]",
			Timeout:     10 * time.Second,
			Handle:      d.handleSet,
		},
		{
			Name:        "alarm_cancel",
			Aliases:     []string{"ac"},
			Description: "cancel one alarm by id",
			Usage:       "/alarm_cancel <id>",
			Timeout:     10 * time.Second,
			Handle:      d.handleCancel,
		},
		{
			Name:        "alarm_cancel_all",
			Description: "cancel every scheduled alarm",
			Usage:       "/alarm_cancel_all",
			Timeout:     30 * time.Second,
			Handle:      d.handleCancelAll,
		},
		{
			Name:        "alarm_test",
			Description: "fire a 50% test alarm in 10 seconds",
			Usage:       "/alarm_test",
			Timeout:     10 * time.Second,
			Handle:      d.handleTest,
		},
		{
			Name:        "alarm_list",
			Aliases:     []string{"al"},
			Description: "list scheduled alarms",
			Usage:       "/alarm_list",
			Timeout:     10 * time.Second,
			Handle:      d.handleList,
		},
		{
			Name:        "brightness",
			Aliases:     []string{"b"},
			Description: "set brightness now",
			Usage:       "/brightness <0..1|0..100%|auto>",
			Timeout:     10 * time.Second,
			Handle:      d.handleBrightness,
		},
		{
			Name:        "status",
			Description: "daemon status",
			Usage:       "/status",
			Timeout:     10 * time.Second,
			Handle:      d.handleStatus,
		},
	}
	cbs := []router.CallbackRoute{
		{Group: "alarm", Action: "cancel", Timeout: 10 * time.Second, Handle: d.handleCancelButton},
	}
	return cmds, cbs
}

type setArgs struct {
	label      string
	hour       int
	minute     int
	brightness float64
	auto       bool
	enabled    bool
}

func parseSetArgs(args []string) (setArgs, error) {
	if len(args) < 3 || len(args) > 5 {
		return setArgs{}, errors.New("want <label> <HH:MM> <brightness> [auto|manual] [on|off]")
	}
	out := setArgs{label: args[0], enabled: true}
	var err error
	if out.hour, out.minute, err = parseClock(args[1]); err != nil {
		return setArgs{}, err
	}
	if out.brightness, err = parseBrightness(args[2]); err != nil {
		return setArgs{}, err
	}
	for _, a := range args[3:] {
		switch strings.ToLower(a) {
		case "auto":
			out.auto = true
		case "manual":
			out.auto = false
		case "on", "enable", "enabled":
			out.enabled = true
		case "off", "disable", "disabled":
			out.enabled = false
		default:
			return setArgs{}, fmt.Errorf("unknown option %q", a)
		}
	}
	return out, nil
}

// parseClock parses "H:MM" or "HH:MM" in 24h time.
func parseClock(s string) (hour, minute int, err error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("time %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(hs)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time %q: hour must be 0..23", s)
	}
	minute, err = strconv.Atoi(ms)
	if err != nil || len(ms) != 2 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time %q: minute must be 00..59", s)
	}
	return hour, minute, nil
}

// parseBrightness accepts a fraction in [0,1] or a percentage "0%".."100%".
func parseBrightness(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if p, ok := strings.CutSuffix(s, "%"); ok {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 || v > 100 {
			return 0, fmt.Errorf("brightness %q: percentage must be 0..100", s)
		}
		return v / 100, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 1 {
		return 0, fmt.Errorf("brightness %q: want 0..1 or 0..100%%", s)
	}
	return v, nil
}

func usageReply(ctx context.Context, req *router.Request, err error, usage string) error {
	return req.Reply(ctx, "⚠️ "+tgui.Esc(err.Error()).String()+"\nUsage: "+tgui.Code(usage).String(), nil)
}

func (d commandDeps) handleSet(ctx context.Context, req *router.Request) error {
	a, err := parseSetArgs(req.Args)
	if err != nil {
		return usageReply(ctx, req, err, "/alarm_set <label> <HH:MM> <brightness> [auto|manual] [on|off]")
	}
	id := alarm.FormatID(a.label, a.hour, a.minute)
	if !d.surface.ScheduleAlarm(ctx, id, a.hour, a.minute, a.brightness, a.auto, a.enabled) {
		return req.Reply(ctx, "❌ could not schedule "+tgui.Code(id).String()+", see logs", nil)
	}
	if !a.enabled {
		return req.Reply(ctx, "🗑 "+tgui.Code(id).String()+" disabled", nil)
	}
	mode := "manual"
	if a.auto {
		mode = "auto"
	}
	return req.Reply(ctx, fmt.Sprintf("✅ %s daily at %02d:%02d, %s, %s",
		tgui.Code(id), a.hour, a.minute, formatPercent(a.brightness), mode), nil)
}

func (d commandDeps) handleCancel(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return usageReply(ctx, req, errors.New("want exactly one id"), "/alarm_cancel <id>")
	}
	return d.cancelAndReply(ctx, req, req.Args[0])
}

func (d commandDeps) handleCancelButton(ctx context.Context, req *router.Request, payload string) error {
	if payload == "" {
		return nil
	}
	return d.cancelAndReply(ctx, req, payload)
}

func (d commandDeps) cancelAndReply(ctx context.Context, req *router.Request, id string) error {
	if !d.surface.CancelAlarm(ctx, id) {
		return req.Reply(ctx, "❌ cancel failed for "+tgui.Code(id).String(), nil)
	}
	return req.Reply(ctx, "🗑 "+tgui.Code(id).String()+" cancelled", nil)
}

func (d commandDeps) handleCancelAll(ctx context.Context, req *router.Request) error {
	n := d.surface.CancelAllAlarms(ctx)
	return req.Reply(ctx, fmt.Sprintf("🗑 cancelled %d alarm(s)", n), nil)
}

func (d commandDeps) handleTest(ctx context.Context, req *router.Request) error {
	if !d.surface.TestAlarm(ctx) {
		return req.Reply(ctx, "❌ could not schedule test alarm", nil)
	}
	return req.Reply(ctx, "⏱ test alarm fires in 10s at 50%", nil)
}

func (d commandDeps) handleList(ctx context.Context, req *router.Request) error {
	entries, err := d.surface.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return req.Reply(ctx, "no alarms scheduled", nil)
	}
	var b strings.Builder
	b.WriteString("⏰ " + tgui.B("Alarms").String() + "\n")
	kb := make([][]kit.Button, 0, len(entries))
	for _, e := range entries {
		mode := "manual"
		if e.AutoMode {
			mode = "auto"
		}
		next := "not armed"
		if e.Armed {
			next = "next " + e.NextFire.In(d.loc).Format("Mon 15:04")
		}
		fmt.Fprintf(&b, "\n%s %02d:%02d %s %s [%s] %s",
			tgui.Code(e.ID), e.Hour, e.Minute, formatPercent(e.Brightness), mode, e.Source, next)
		// Ids too long for callback data get no button.
		if data, err := tgui.Data("alarm", "cancel", e.ID); err == nil {
			kb = append(kb, []kit.Button{{Text: "✖ " + tgui.TruncRunes(e.ID, 32), Data: data}})
		}
	}
	return req.Reply(ctx, b.String(), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Keyboard: kb})
}

func (d commandDeps) handleBrightness(ctx context.Context, req *router.Request) error {
	const usage = "/brightness <0..1|0..100%|auto>"
	if len(req.Args) != 1 {
		return usageReply(ctx, req, errors.New("want one value"), usage)
	}
	var (
		value float64
		auto  bool
	)
	if strings.EqualFold(req.Args[0], "auto") {
		auto = true
	} else {
		v, err := parseBrightness(req.Args[0])
		if err != nil {
			return usageReply(ctx, req, err, usage)
		}
		value = v
	}
	if err := d.surface.SetBrightness(ctx, value, auto); err != nil {
		if errors.Is(err, alarm.ErrPermissionDenied) {
			return req.Reply(ctx, "🔒 no permission to change brightness", nil)
		}
		return req.Reply(ctx, "❌ "+tgui.Esc(err.Error()).String(), nil)
	}
	if auto {
		return req.Reply(ctx, "🔆 auto brightness on", nil)
	}
	return req.Reply(ctx, "🔆 brightness set to "+formatPercent(value), nil)
}

func (d commandDeps) handleStatus(ctx context.Context, req *router.Request) error {
	var b strings.Builder
	b.WriteString("📟 " + tgui.B("Status").String() + "\n")
	fmt.Fprintf(&b, "\nbackend: %s", tgui.Code(d.backend()))
	if err := d.surface.CheckPermission(ctx); err != nil {
		fmt.Fprintf(&b, "\npermission: ❌ %s", tgui.Esc(err.Error()))
	} else {
		b.WriteString("\npermission: ✅")
	}
	b.WriteString("\nauto brightness: " + autoState(d.surface.AutoBrightnessEnabled(ctx)))
	fmt.Fprintf(&b, "\npending occurrences: %d", d.pending())
	fmt.Fprintf(&b, "\ntimezone: %s", tgui.Esc(d.loc.String()))
	if d.reload != nil {
		if st := d.reload(); st.Err != nil {
			fmt.Fprintf(&b, "\nconfig: ❌ %s (%s)", tgui.Esc(st.Err.Error()), st.At.In(d.loc).Format("15:04:05"))
		} else if !st.At.IsZero() {
			fmt.Fprintf(&b, "\nconfig: ✅ loaded %s", st.At.In(d.loc).Format("15:04:05"))
		}
	}

	sups := d.sups()
	for _, name := range slices.Sorted(maps.Keys(sups)) {
		sup := sups[name]
		if sup == nil {
			continue
		}
		active, restarts, panics := 0, uint64(0), uint64(0)
		for _, g := range sup.Snapshot() {
			active += int(g.Active)
			restarts += g.Restarts
			panics += g.Panics
		}
		fmt.Fprintf(&b, "\n%s: %d active, %d restarts, %d panics", tgui.Esc(name), active, restarts, panics)
	}
	return req.Reply(ctx, b.String(), nil)
}

func autoState(on bool, err error) string {
	switch {
	case errors.Is(err, alarm.ErrAutoUnavailable):
		return "not configured"
	case err != nil:
		return "❌ " + tgui.Esc(err.Error()).String()
	case on:
		return "on"
	}
	return "off"
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(math.Round(v*1000)/10, 'f', -1, 64) + "%"
}
