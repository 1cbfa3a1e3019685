package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ixfnotify/internal/config"
	"ixfnotify/internal/dispatch"
	"ixfnotify/internal/eventbus"
	"ixfnotify/internal/notify"
	"ixfnotify/internal/render"
	rtsup "ixfnotify/internal/runtime/supervisor"
	"ixfnotify/internal/schedule"
	"ixfnotify/internal/storage"
	"ixfnotify/internal/ticket"
	"ixfnotify/internal/transport"
	"ixfnotify/internal/transport/email"
	"ixfnotify/internal/transport/telegram"
	logx "ixfnotify/pkg/logx"
	"ixfnotify/pkg/systemd"
)

// Scheduled job names.
const (
	JobTicketAged = "ixf.ticket_aged"
	JobSpool      = "ixf.spool"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	disp  *dispatch.Service
	notif *notify.Service
	sched *schedule.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	appLog := log.With(logx.Comp("app"))
	cfgm.SetLogger(log.With(logx.Comp("config")))

	a := &App{cfgm: cfgm, log: appLog, logs: logSvc, bus: eventbus.New()}
	fail := func(err error) (*App, error) {
		_ = a.Close()
		return nil, err
	}

	if sc, enabled, err := mapStorage(cfg); err != nil {
		return fail(err)
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.Comp("storage")))
		if err != nil {
			return fail(err)
		}
		a.store = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	renderer, err := render.New(log.With(logx.Comp("render")))
	if err != nil {
		return fail(err)
	}

	channels, err := buildChannels(cfg, log)
	if err != nil {
		return fail(err)
	}
	dcfg, err := mapDispatch(cfg)
	if err != nil {
		return fail(err)
	}
	a.disp = dispatch.New(dcfg, log.With(logx.Comp("dispatch")), a.bus, a.store, channels...)

	tickets, err := buildTickets(cfg, log)
	if err != nil {
		return fail(err)
	}
	ncfg, err := mapNotify(cfg)
	if err != nil {
		return fail(err)
	}
	a.notif = notify.New(ncfg, notify.Deps{
		Renderer:   renderer,
		Store:      a.store,
		Tickets:    tickets,
		Dispatcher: outbox{d: a.disp, log: appLog},
		Log:        log,
	})
	a.disp.OnSent(a.notif.Delivered)

	schedCfg, err := mapSchedule(cfg)
	if err != nil {
		return fail(err)
	}
	a.sched = schedule.New(schedCfg, log.With(logx.Comp("schedule")), a.bus)
	agedSpec, spoolSpec, err := jobSpecs(cfg)
	if err != nil {
		return fail(err)
	}
	if err := a.sched.Add(schedule.Job{Name: JobTicketAged, Spec: agedSpec, Run: a.notif.TicketAgedProposals}); err != nil {
		return fail(err)
	}
	if err := a.sched.Add(schedule.Job{Name: JobSpool, Spec: spoolSpec, Run: a.processSpool}); err != nil {
		return fail(err)
	}
	return a, nil
}

func buildChannels(cfg *config.Config, log logx.Logger) ([]transport.Channel, error) {
	var out []transport.Channel
	ecfg := mapEmail(cfg)
	if ecfg.Host == "" {
		out = append(out, email.NewDebug(log.With(logx.Comp("email"))))
	} else {
		out = append(out, email.New(ecfg, log.With(logx.Comp("email"))))
	}

	tcfg, err := mapTelegram(cfg)
	if err != nil {
		return nil, err
	}
	if tcfg.Token != "" {
		tlog := log.With(logx.Comp("telegram"))
		ch, err := telegram.New(tcfg, tlog)
		if err != nil {
			tlog.Warn("telegram channel unavailable", logx.Err(err))
		} else {
			out = append(out, ch)
		}
	}
	return out, nil
}

func buildTickets(cfg *config.Config, log logx.Logger) (ticket.Client, error) {
	tcfg, err := mapTickets(cfg)
	if err != nil {
		return nil, err
	}
	tlog := log.With(logx.Comp("ticket"))
	if tcfg.URL == "" {
		return ticket.NewMockClient(tlog), nil
	}
	return ticket.NewHTTPClient(tcfg, tlog)
}

// outbox hands emails to the dispatcher, or only logs them while dispatch
// is switched off.
type outbox struct {
	d   *dispatch.Service
	log logx.Logger
}

func (o outbox) Dispatch(ctx context.Context, m transport.Message) error {
	if !o.d.Enabled() {
		o.log.Info("dispatch disabled; message not sent",
			logx.String("channel", m.Channel),
			logx.Strings("to", m.To),
			logx.String("subject", m.Subject),
		)
		return nil
	}
	return o.d.Dispatch(ctx, m)
}

func (a *App) Notify() *notify.Service { return a.notif }
func (a *App) Store() storage.Store { return a.store }
func (a *App) Dispatch() *dispatch.Service { return a.disp }
func (a *App) Schedule() *schedule.Service { return a.sched }
func (a *App) Config() *config.Config { return a.cfgm.Get() }
func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) processSpool(ctx context.Context) error {
	dir := strings.TrimSpace(a.cfgm.Get().IXF.SpoolDir)
	if dir == "" {
		return nil
	}
	n, err := a.notif.ProcessSpool(ctx, dir)
	if n > 0 {
		a.log.Info("spool processed", logx.String("dir", dir), logx.Int("files", n))
		_, _ = systemd.Status(fmt.Sprintf("last spool run %s: %d file(s)", time.Now().Format(time.RFC3339), n))
	}
	return err
}

// RunBatch processes one batch file and waits until its messages are
// delivered. The caller still owns Close.
func (a *App) RunBatch(ctx context.Context, path string) error {
	b, err := notify.LoadBatch(path)
	if err != nil {
		return err
	}
	a.disp.Start(ctx)
	perr := a.notif.Process(ctx, b)

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.disp.Stop(stopCtx)
	return perr
}

// Start runs the service: delivery workers, scheduled jobs and config hot
// reload. systemd is told once everything is up.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	a.disp.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", func(c context.Context) error { return systemd.Watchdog(c, a.log) })

	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started", logx.Any("jobs", jobNames(a.sched.Snapshot())))
	return nil
}

func jobNames(s schedule.Snapshot) []string {
	out := make([]string, 0, len(s.Jobs))
	for _, j := range s.Jobs {
		out = append(out, j.Name+"="+j.Spec)
	}
	return out
}

// applyConfig pushes a reloaded config into the running components.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("sections", restart))
	}

	a.logs.Apply(mapLogging(newCfg))

	if ncfg, err := mapNotify(newCfg); err != nil {
		a.log.Warn("invalid ixf config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	if dcfg, err := mapDispatch(newCfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		was := a.disp.Enabled()
		a.disp.Apply(dcfg)
		switch {
		case was && !dcfg.Enabled:
			a.log.Info("dispatch disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			a.disp.Stop(stopCtx)
			cancel()
		case !was && dcfg.Enabled:
			a.log.Info("dispatch enabled via config")
			a.disp.Start(ctx)
		}
	}

	if scfg, err := mapSchedule(newCfg); err != nil {
		a.log.Warn("invalid schedule config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(scfg)
	}
	if aged, spool, err := jobSpecs(newCfg); err != nil {
		a.log.Warn("invalid job schedule; keeping previous", logx.Err(err))
	} else {
		err := errors.Join(a.sched.Reschedule(JobTicketAged, aged), a.sched.Reschedule(JobSpool, spool))
		if err != nil {
			a.log.Warn("reschedule failed", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in reverse dependency order, each bounded by
// its own deadline within ctx.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	a.step(ctx, "schedule", 10*time.Second, func(c context.Context) error { a.sched.Close(c); return nil })
	a.step(ctx, "dispatch", 10*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	a.sup.Cancel()
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	err := a.sup.Err()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.log.Info("stopped")
	return errors.Join(err, a.Close())
}

// Close releases storage and log sinks.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
		a.store = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
