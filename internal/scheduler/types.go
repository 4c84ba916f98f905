package scheduler

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/transport"
)

const (
	DefaultInterval = 60 * time.Second
	DefaultGrace    = 5 * time.Minute
)

// ErrCycleRunning is returned by RunOnce while another cycle is in progress.
var ErrCycleRunning = errors.New("scheduler: cycle already running")

type Config struct {
	Interval time.Duration
	Grace    time.Duration
	// StoreTimeout bounds each store call made by a cycle or a timer.
	StoreTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 10 * time.Second
	}
	return c
}

// Dispatcher hands notifications to the delivery pipeline.
type Dispatcher interface {
	Notify(ctx context.Context, n transport.Notification) error
}

// CycleReport summarizes one scan cycle.
type CycleReport struct {
	Scanned       int           `json:"scanned"`
	Due           int           `json:"due"`
	Dispatched    int           `json:"dispatched"`
	Advanced      int           `json:"advanced"`
	AutoCompleted int           `json:"auto_completed"`
	Errors        int           `json:"errors"`
	Took          time.Duration `json:"took"`
}

// Stats are cumulative engine counters.
type Stats struct {
	Cycles        uint64      `json:"cycles"`
	Skipped       uint64      `json:"skipped"`
	Dispatched    uint64      `json:"dispatched"`
	Advanced      uint64      `json:"advanced"`
	Confirmed     uint64      `json:"confirmed"`
	AutoCompleted uint64      `json:"auto_completed"`
	Errors        uint64      `json:"errors"`
	ArmedTimers   int         `json:"armed_timers"`
	LastCycleAt   time.Time   `json:"last_cycle_at,omitempty"`
	LastCycle     CycleReport `json:"last_cycle"`
}

// ReminderEvent is the payload of reminder.* bus events.
type ReminderEvent struct {
	ID      string    `json:"id"`
	OwnerID string    `json:"owner_id"`
	Due     time.Time `json:"due"`
	NextDue time.Time `json:"next_due,omitempty"`
	At      time.Time `json:"at"`
}
