package app

import (
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/notifier"
	"remindbot/internal/observability/ops"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

const defaultDBPath = "./remindbot.db"

func mapTelegram(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.Duration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: poll,
		APIURL:      strings.TrimSpace(cfg.Telegram.APIURL),
	}, nil
}

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			ChatID:     l.Chat.ChatID,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
		Store: logx.StoreConfig{
			Enabled:   l.Store.Enabled,
			MinLevel:  l.Store.MinLevel,
			QueueSize: l.Store.QueueSize,
		},
	}
}

func mapScheduler(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	interval, err := config.Duration("scheduler.interval", sc.Interval, scheduler.DefaultInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	grace, err := config.Duration("scheduler.grace", sc.Grace, scheduler.DefaultGrace)
	if err != nil {
		return scheduler.Config{}, err
	}
	storeTimeout, err := config.Duration("scheduler.store_timeout", sc.StoreTimeout, 10*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Interval: interval, Grace: grace, StoreTimeout: storeTimeout}, nil
}

// mapNotifier always enables the pipeline; reminders are delivered through it.
func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	out := notifier.Config{
		Enabled:         true,
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		DedupMaxEntries: nc.DedupMaxEntries,
		PersistDedup:    nc.PersistDedup,
	}
	var err error
	if out.RetryBase, err = config.Duration("notifier.retry_base", nc.RetryBase, 500*time.Millisecond); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.Duration("notifier.retry_max_delay", nc.RetryMaxDelay, 10*time.Second); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.Duration("notifier.send_timeout", nc.SendTimeout, 10*time.Second); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.Duration("notifier.dedup_window", nc.DedupWindow, 10*time.Minute); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	out := storage.Config{
		Driver:   strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:     strings.TrimSpace(sc.Path),
		DSN:      strings.TrimSpace(sc.DSN),
		Database: strings.TrimSpace(sc.Database),
		MaxConns: sc.MaxConns,
		MinConns: sc.MinConns,
	}
	if out.Driver == "" {
		out.Driver = "sqlite"
	}
	if (out.Driver == "sqlite" || out.Driver == "sqlite3") && out.Path == "" {
		out.Path = defaultDBPath
	}
	var err error
	if out.BusyTimeout, err = config.Duration("storage.busy_timeout", sc.BusyTimeout, time.Second); err != nil {
		return storage.Config{}, err
	}
	if out.ConnMaxLifetime, err = config.Duration("storage.conn_max_lifetime", sc.ConnMaxLifetime, 0); err != nil {
		return storage.Config{}, err
	}
	if out.ConnectTimeout, err = config.Duration("storage.connect_timeout", sc.ConnectTimeout, 10*time.Second); err != nil {
		return storage.Config{}, err
	}
	return out, nil
}

func mapOps(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	out := ops.Config{
		Enabled:       oc.Enabled,
		Addr:          strings.TrimSpace(oc.Addr),
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.Duration("ops.read_timeout", oc.ReadTimeout, 10*time.Second); err != nil {
		return ops.Config{}, err
	}
	// pprof profiles stream for up to 30s by default.
	if out.WriteTimeout, err = config.Duration("ops.write_timeout", oc.WriteTimeout, 40*time.Second); err != nil {
		return ops.Config{}, err
	}
	if out.IdleTimeout, err = config.Duration("ops.idle_timeout", oc.IdleTimeout, 60*time.Second); err != nil {
		return ops.Config{}, err
	}
	return out, nil
}
