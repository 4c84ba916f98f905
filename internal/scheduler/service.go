package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// Service runs scan cycles and owns the per-reminder grace timers.
type Service struct {
	mu    sync.Mutex
	cfg   Config
	c     *cron.Cron
	entry cron.EntryID
	base  context.Context
	stop  context.CancelFunc

	store     reminder.Store
	reminders *reminder.Service
	zones     reminder.ZoneResolver
	dispatch  Dispatcher
	bus       eventbus.Bus
	log       logx.Logger
	now       func() time.Time

	running atomic.Bool
	// first is closed when the cycle launched by Start returns.
	first chan struct{}

	tmu    sync.Mutex
	timers map[string]*graceTimer

	smu   sync.Mutex
	stats Stats
}

type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New wires the engine. reminders supplies the completion primitive shared
// with user-facing operations; store is used for the global due scan and
// the delivery bookkeeping.
func New(cfg Config, store reminder.Store, reminders *reminder.Service, zones reminder.ZoneResolver, dispatch Dispatcher, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:       cfg.withDefaults(),
		store:     store,
		reminders: reminders,
		zones:     zones,
		dispatch:  dispatch,
		bus:       bus,
		log:       log.With(logx.Comp("scheduler")),
		now:       time.Now,
		base:      context.Background(),
		timers:    map[string]*graceTimer{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply swaps the config. A changed interval reschedules the trigger; a
// changed grace applies to timers armed from now on.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.c != nil && old.Interval != cfg.Interval {
		s.c.Remove(s.entry)
		if err := s.scheduleLocked(); err != nil {
			s.log.Error("reschedule failed", logx.Err(err))
			return
		}
		s.log.Info("interval changed", logx.Duration("interval", cfg.Interval))
	}
}

// Start begins triggering cycles and runs the first one right away.
// It is idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.base, s.stop = context.WithCancel(ctx)
	s.c = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{s.log})),
	)
	if err := s.scheduleLocked(); err != nil {
		s.c = nil
		s.stop()
		return err
	}
	s.c.Start()
	first := make(chan struct{})
	s.first = first
	go func() {
		defer close(first)
		s.tick()
	}()
	s.log.Info("service started", logx.Duration("interval", s.cfg.Interval), logx.Duration("grace", s.cfg.Grace))
	return nil
}

func (s *Service) scheduleLocked() error {
	id, err := s.c.AddFunc("@every "+s.cfg.Interval.String(), s.tick)
	if err != nil {
		return err
	}
	s.entry = id
	return nil
}

func (s *Service) tick() {
	s.mu.Lock()
	ctx := s.base
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if _, err := s.RunOnce(ctx); err != nil && err != ErrCycleRunning {
		s.log.Warn("cycle failed", logx.Err(err))
	}
}

// Stop stops the trigger, waits for a running cycle until ctx is done and
// disarms every timer. Delivered reminders keep their delivered_at and are
// resolved by the first scan after the next Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel, first := s.c, s.stop, s.first
	s.c, s.stop, s.first = nil, nil, nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	if first != nil {
		select {
		case <-first:
		case <-ctx.Done():
		}
	}
	if cancel != nil {
		cancel()
	}

	s.tmu.Lock()
	for id, g := range s.timers {
		g.t.Stop()
		delete(s.timers, id)
	}
	s.tmu.Unlock()
	s.log.Info("service stopped")
}

// Running reports whether the trigger is started.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

func (s *Service) Stats() Stats {
	s.smu.Lock()
	st := s.stats
	s.smu.Unlock()
	s.tmu.Lock()
	st.ArmedTimers = len(s.timers)
	s.tmu.Unlock()
	return st
}

func (s *Service) count(f func(*Stats)) {
	s.smu.Lock()
	f(&s.stats)
	s.smu.Unlock()
}

func (s *Service) publish(typ string, r reminder.Reminder, next time.Time) {
	eventbus.Publish(s.bus, typ, ReminderEvent{
		ID:      r.ID,
		OwnerID: r.OwnerID,
		Due:     r.Due,
		NextDue: next,
		At:      s.now().UTC(),
	})
}

// cronLogger routes cron's panic recovery into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
