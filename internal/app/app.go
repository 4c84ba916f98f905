// Package app wires the reminder bot together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/bot"
	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/observability/ops"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	"remindbot/internal/timezone"
	"remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter transport.Adapter
	zones   *timezone.Resolver
	notif   *notifier.Service
	sched   *scheduler.Service
	router  *router.Router
	ops     *ops.Service

	updates chan transport.Update
}

type Option func(*options)

type options struct {
	adapter transport.Adapter
}

// WithAdapter replaces the Telegram adapter, e.g. with a test double.
func WithAdapter(ad transport.Adapter) Option {
	return func(o *options) { o.adapter = ad }
}

// New loads the config at cfgPath (empty means environment only) and wires
// every component. A store that cannot be opened is a fatal error.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := checkMappings(cfg); err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole(cfg.Logging.Level)

	ad := o.adapter
	if ad == nil {
		tc, _ := mapTelegram(cfg)
		tg, err := telegram.New(tc, bootLog)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		ad = tg
	}

	sc, _ := mapStorage(cfg)
	store, err := storage.Open(ctx, sc, bootLog.With(logx.Comp("storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	logSvc, log := logx.New(mapLogging(cfg), chatSender(ad), entrySink(store))
	log.Info("storage opened", logx.String("driver", sc.Driver))

	bus := eventbus.New()
	zones := timezone.New(store, cfg.Scheduler.DefaultTimezone, log.With(logx.Comp("timezone")))
	reminders := reminder.NewService(store, zones, log.With(logx.Comp("reminder")))

	nc, _ := mapNotifier(cfg)
	var dedup notifier.DedupStore
	if nc.PersistDedup {
		dedup = store
	}
	notif := notifier.New(nc, ad, log, bus, dedup)

	schedCfg, _ := mapScheduler(cfg)
	sched := scheduler.New(schedCfg, store, reminders, zones, notif, log.With(logx.Comp("scheduler")), bus)

	rt := router.New(log.With(logx.Comp("router")), ad)
	bot.New(bot.Deps{
		Reminders: reminders,
		Users:     store,
		Zones:     zones,
		Confirmer: sched,
		Log:       log,
	}).Register(rt)

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.Comp("app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		zones:   zones,
		notif:   notif,
		sched:   sched,
		router:  rt,
		updates: make(chan transport.Update, 256),
	}
	oc, _ := mapOps(cfg)
	a.ops = ops.New(oc, ops.Probes{Store: store, Ready: a.ready, Stats: a.Stats}, log)
	return a, nil
}

func chatSender(ad transport.Adapter) logx.ChatSender {
	return logx.ChatSenderFunc(func(ctx context.Context, chatID int64, text string) error {
		_, err := ad.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, &transport.SendOptions{DisablePreview: true})
		return err
	})
}

func entrySink(store storage.Store) logx.EntrySink {
	return logx.EntrySinkFunc(func(ctx context.Context, e logx.Entry) error {
		return store.AppendLog(ctx, storage.LogEntry{Level: e.Level, Message: e.Message, Module: e.Module, At: e.At})
	})
}

// checkMappings rejects durations the struct tags cannot catch (negative values).
func checkMappings(cfg *config.Config) error {
	if _, err := mapTelegram(cfg); err != nil {
		return err
	}
	if _, err := mapScheduler(cfg); err != nil {
		return err
	}
	if _, err := mapNotifier(cfg); err != nil {
		return err
	}
	if _, err := mapStorage(cfg); err != nil {
		return err
	}
	_, err := mapOps(cfg)
	return err
}

// Done is closed when the app context is canceled (fatal error or Stop).
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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.Comp("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return checkMappings(cfg) })

	a.notif.Start(run)
	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	pctx, cancel := context.WithTimeout(run, 10*time.Second)
	if err := a.router.PublishMenu(pctx); err != nil {
		a.log.Warn("publish command menu failed", logx.Err(err))
	}
	cancel()

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	if err := a.sched.Start(run); err != nil {
		return err
	}
	a.ops.Start(run)

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
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							cfg = newer
						}
					default:
						break drain
					}
				}
				a.apply(c, last, cfg)
				last = cfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// apply pushes a committed config into the running components.
func (a *App) apply(ctx context.Context, prev, cfg *config.Config) {
	changed, attrs := config.SummarizeChange(prev, cfg)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.NeedsRestart(changed); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogging(cfg))
	if sc, err := mapScheduler(cfg); err == nil {
		a.sched.Apply(sc)
	}
	if err := a.zones.SetFallback(cfg.Scheduler.DefaultTimezone); err != nil {
		a.log.Warn("invalid default timezone; keeping previous", logx.Err(err))
	}
	if nc, err := mapNotifier(cfg); err == nil {
		a.notif.Apply(nc)
	}
	if oc, err := mapOps(cfg); err == nil {
		a.ops.Reconfigure(ctx, oc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

var (
	errNotStarted = errors.New("not started")
	errNoPolling  = errors.New("telegram polling not running")
	errScheduler  = errors.New("scheduler not running")
)

func (a *App) ready() error {
	if a.sup == nil || a.sup.Context().Err() != nil {
		return errNotStarted
	}
	if sp, ok := a.adapter.(interface{ Supervisor() *rtsup.Supervisor }); ok && sp.Supervisor() == nil {
		return errNoPolling
	}
	if !a.sched.Running() {
		return errScheduler
	}
	return nil
}

// Snapshot is served by the ops /stats endpoint.
type Snapshot struct {
	Scheduler   scheduler.Stats           `json:"scheduler"`
	Notifier    notifier.Stats            `json:"notifier"`
	Router      router.Stats              `json:"router"`
	Supervisors map[string]rtsup.Snapshot `json:"supervisors"`
}

func (a *App) Stats() any {
	s := Snapshot{
		Scheduler:   a.sched.Stats(),
		Notifier:    a.notif.Stats(),
		Router:      a.router.Stats(),
		Supervisors: map[string]rtsup.Snapshot{},
	}
	add := func(name string, sup *rtsup.Supervisor) {
		if sup != nil {
			s.Supervisors[name] = sup.Snapshot()
		}
	}
	add("app", a.sup)
	add("router", a.router.Supervisor())
	add("notifier", a.notif.Supervisor())
	add("ops", a.ops.Supervisor())
	if sp, ok := a.adapter.(interface{ Supervisor() *rtsup.Supervisor }); ok {
		add("telegram", sp.Supervisor())
	}
	return s
}

// Stop shuts components down in dependency order, closing the store last.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	// the store sink writes until the log service is closed
	_ = a.logs.Close()
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	return nil
}

// step runs fn bounded by max (never beyond ctx's deadline) so one component
// cannot stall the whole shutdown.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
		return
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
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
