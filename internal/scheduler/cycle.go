package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// RunOnce runs a single scan cycle. Concurrent calls in one process are
// refused with ErrCycleRunning; concurrent processes are kept safe by the
// conditional updates alone.
func (s *Service) RunOnce(ctx context.Context) (CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.count(func(st *Stats) { st.Skipped++ })
		return CycleReport{}, ErrCycleRunning
	}
	defer s.running.Store(false)

	start := time.Now()
	cfg := s.config()
	var rep CycleReport

	lctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	items, err := s.store.FindActive(lctx, "")
	cancel()
	if err != nil {
		s.count(func(st *Stats) { st.Errors++ })
		return rep, fmt.Errorf("scan active reminders: %w", err)
	}

	now := s.now()
	rep.Scanned = len(items)
	for _, r := range items {
		if ctx.Err() != nil {
			break
		}
		s.process(ctx, cfg, r, now, &rep)
	}
	rep.Took = time.Since(start)

	s.count(func(st *Stats) {
		st.Cycles++
		st.Dispatched += uint64(rep.Dispatched)
		st.Advanced += uint64(rep.Advanced)
		st.AutoCompleted += uint64(rep.AutoCompleted)
		st.Errors += uint64(rep.Errors)
		st.LastCycleAt = now.UTC()
		st.LastCycle = rep
	})
	if rep.Due > 0 || rep.Errors > 0 {
		s.log.Debug("cycle finished",
			logx.Int("scanned", rep.Scanned),
			logx.Int("due", rep.Due),
			logx.Int("dispatched", rep.Dispatched),
			logx.Int("errors", rep.Errors),
			logx.Duration("took", rep.Took),
		)
	}
	return rep, nil
}

// process handles one reminder. Errors and panics stay local to it.
func (s *Service) process(ctx context.Context, cfg Config, r reminder.Reminder, now time.Time, rep *CycleReport) {
	log := s.log.With(logx.String("id", r.ID), logx.String("owner", r.OwnerID))
	defer func() {
		if p := recover(); p != nil {
			rep.Errors++
			log.Error("reminder processing panicked", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()

	if r.DeliveredAt != nil && r.OneShot() {
		s.resume(ctx, cfg, r, now, rep, log)
		return
	}

	loc := time.UTC
	if s.zones != nil {
		if l := s.zones.Resolve(ctx, r.OwnerID); l != nil {
			loc = l
		}
	}
	if !reminder.IsDue(now, r, loc) {
		return
	}
	rep.Due++

	var err error
	if r.OneShot() {
		err = s.deliverOneShot(ctx, cfg, r, now, loc, rep)
	} else {
		err = s.deliverRecurring(ctx, cfg, r, loc, rep)
	}
	if err != nil {
		rep.Errors++
		log.Warn("reminder skipped this cycle", logx.Err(err))
	}
}

func (s *Service) deliverRecurring(ctx context.Context, cfg Config, r reminder.Reminder, loc *time.Location, rep *CycleReport) error {
	next, err := reminder.Advance(r.Due, r.Recurrence)
	if err != nil {
		return err
	}
	if err := s.send(ctx, r, loc, false); err != nil {
		return err
	}
	rep.Dispatched++

	uctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	ok, err := s.store.UpdateIf(uctx, r.ID,
		reminder.Cond{Completed: reminder.Bool(false), Due: reminder.TimePtr(r.Due)},
		reminder.Patch{Due: reminder.TimePtr(next)},
	)
	if err != nil {
		return fmt.Errorf("advance: %w", err)
	}
	if !ok {
		s.log.Debug("advance lost race", logx.String("id", r.ID))
		return nil
	}
	rep.Advanced++
	s.publish(eventbus.ReminderAdvanced, r, next)
	return nil
}

func (s *Service) deliverOneShot(ctx context.Context, cfg Config, r reminder.Reminder, now time.Time, loc *time.Location, rep *CycleReport) error {
	if err := s.send(ctx, r, loc, true); err != nil {
		return err
	}
	rep.Dispatched++

	at := now.UTC()
	uctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	ok, err := s.store.UpdateIf(uctx, r.ID,
		reminder.Cond{Completed: reminder.Bool(false), Undelivered: true},
		reminder.Patch{DeliveredAt: reminder.TimePtr(at)},
	)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if !ok {
		// Confirmed, deleted or stamped by another process in between.
		return nil
	}
	r.DeliveredAt = &at
	s.publish(eventbus.ReminderDelivered, r, time.Time{})
	s.arm(r, cfg.Grace)
	return nil
}

// resume handles a one-shot delivered earlier: complete it when the grace
// window has passed, otherwise make sure a timer is armed.
func (s *Service) resume(ctx context.Context, cfg Config, r reminder.Reminder, now time.Time, rep *CycleReport, log logx.Logger) {
	left := r.DeliveredAt.Add(cfg.Grace).Sub(now)
	if left > 0 {
		s.armIfMissing(r, left)
		return
	}
	s.disarm(r.ID)
	ok, err := s.complete(ctx, cfg, r.ID)
	if err != nil {
		rep.Errors++
		log.Warn("auto-complete failed", logx.Err(err))
		return
	}
	if ok {
		rep.AutoCompleted++
		s.publish(eventbus.ReminderAutoCompleted, r, time.Time{})
		log.Info("reminder auto-completed")
	}
}

func (s *Service) complete(ctx context.Context, cfg Config, id string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	return s.reminders.Complete(cctx, id)
}

func (s *Service) send(ctx context.Context, r reminder.Reminder, loc *time.Location, confirm bool) error {
	if s.dispatch == nil {
		return fmt.Errorf("no dispatcher")
	}
	n := transport.Notification{
		Channel: "reminder",
		Key:     DeliveryKey(r),
		Target:  transport.ChatTarget{ChatID: r.ChatID},
		Text:    FormatNotice(r, loc),
	}
	if confirm {
		n.Options = &transport.SendOptions{
			Markup: tgui.NewInline().Row(tgui.Btn("Confirm", ConfirmData(r.ID))).Markup(),
		}
	}
	if err := s.dispatch.Notify(ctx, n); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	return nil
}

// DeliveryKey identifies one occurrence of a reminder.
func DeliveryKey(r reminder.Reminder) string {
	return "reminder:" + r.ID + "@" + reminder.Naive(r.Due).Format("2006-01-02T15:04:05")
}

// FormatNotice renders the delivered text.
func FormatNotice(r reminder.Reminder, loc *time.Location) string {
	due := reminder.Resolve(r, loc).Format(reminder.DisplayLayout)
	if r.OneShot() {
		return fmt.Sprintf("⏰ Reminder: %s\n%s", r.Message, due)
	}
	return fmt.Sprintf("⏰ Reminder: %s\n%s (%s)", r.Message, due, r.Recurrence.Label())
}

// ConfirmData is the callback data of the confirm button.
func ConfirmData(id string) string { return tgui.Data("reminder", "confirm", id) }
