package scheduler

import (
	"context"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// Confirm completes an owner's delivered reminder. A reminder that is
// missing, owned by someone else or already completed yields
// reminder.ErrNotFound.
func (s *Service) Confirm(ctx context.Context, ownerID, id string) error {
	r, err := s.reminders.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if r.Completed {
		return reminder.ErrNotFound
	}
	ok, err := s.complete(ctx, s.config(), id)
	if err != nil {
		return err
	}
	s.disarm(id)
	if !ok {
		return reminder.ErrNotFound
	}
	s.count(func(st *Stats) { st.Confirmed++ })
	s.publish(eventbus.ReminderConfirmed, r, time.Time{})
	s.log.Info("reminder confirmed", logx.String("id", id), logx.String("owner", ownerID))
	return nil
}

// graceTimer is an armed timer; expire uses its identity to tell a stale
// callback from the current one. r is the reminder as delivered.
type graceTimer struct {
	t *time.Timer
	r reminder.Reminder
}

// expire is the grace timer callback.
func (s *Service) expire(g *graceTimer) {
	id := g.r.ID
	s.tmu.Lock()
	if s.timers[id] == g {
		delete(s.timers, id)
	}
	s.tmu.Unlock()

	s.mu.Lock()
	ctx, cfg := s.base, s.cfg
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	ok, err := s.complete(ctx, cfg, id)
	if err != nil {
		s.count(func(st *Stats) { st.Errors++ })
		s.log.Warn("auto-complete failed; next scan retries", logx.String("id", id), logx.Err(err))
		return
	}
	if !ok {
		s.log.Debug("grace expired on resolved reminder", logx.String("id", id))
		return
	}
	s.count(func(st *Stats) { st.AutoCompleted++ })
	s.publish(eventbus.ReminderAutoCompleted, g.r, time.Time{})
	s.log.Info("reminder auto-completed", logx.String("id", id))
}

// armLocked replaces any timer for id. Callers hold tmu.
func (s *Service) armLocked(r reminder.Reminder, d time.Duration) {
	if old, ok := s.timers[r.ID]; ok {
		old.t.Stop()
	}
	g := &graceTimer{r: r}
	g.t = time.AfterFunc(d, func() { s.expire(g) })
	s.timers[r.ID] = g
}

func (s *Service) arm(r reminder.Reminder, d time.Duration) {
	s.tmu.Lock()
	s.armLocked(r, d)
	s.tmu.Unlock()
}

func (s *Service) armIfMissing(r reminder.Reminder, d time.Duration) {
	s.tmu.Lock()
	if _, ok := s.timers[r.ID]; !ok {
		s.armLocked(r, d)
	}
	s.tmu.Unlock()
}

func (s *Service) disarm(id string) {
	s.tmu.Lock()
	if g, ok := s.timers[id]; ok {
		g.t.Stop()
		delete(s.timers, id)
	}
	s.tmu.Unlock()
}
