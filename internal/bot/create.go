package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/transport/telegram/router"
	"remindbot/pkg/tgui"
)

type step int

const (
	stepNone step = iota
	stepText
	stepDue
	stepRecurring
	stepFrequency
	stepZone
)

// session is the dialog state of one user.
type session struct {
	step    step
	message string
	due     time.Time
}

func recurringKeyboard() *tgui.Inline {
	return tgui.YesNo(
		tgui.Btn("Yes", tgui.Data("new", "rec", "yes")),
		tgui.Btn("No", tgui.Data("new", "rec", "no")),
	)
}

func frequencyKeyboard() *tgui.Inline {
	return tgui.NewInline().Row(
		tgui.Btn(reminder.RecurrenceDaily.Label(), tgui.Data("new", "rec", string(reminder.RecurrenceDaily))),
		tgui.Btn(reminder.RecurrenceWeekly.Label(), tgui.Data("new", "rec", string(reminder.RecurrenceWeekly))),
		tgui.Btn(reminder.RecurrenceMonthly.Label(), tgui.Data("new", "rec", string(reminder.RecurrenceMonthly))),
	)
}

func (b *Bot) onNew(ctx context.Context, req *router.Request) error {
	b.sessions.Put(req.FromID, session{step: stepText})
	return req.Reply(ctx, "✏️ Enter the reminder text (or /cancel):", nil)
}

// onText drives whichever dialog the user is in.
func (b *Bot) onText(ctx context.Context, req *router.Request) error {
	s, ok := b.sessions.Get(req.FromID)
	if !ok || s.step == stepNone {
		return req.Reply(ctx, "Use the menu below or /help.", nil)
	}
	text := strings.TrimSpace(req.Text)

	switch s.step {
	case stepZone:
		return b.setZone(ctx, req, text)

	case stepText:
		s.message = text
		s.step = stepDue
		b.sessions.Put(req.FromID, s)
		return req.ReplyMsg(ctx, tgui.New().
			Line("📅 Enter the date and time as YYYY-MM-DD HH:MM").
			HTML("Your time zone: "+tgui.Code(b.zones.Name(ctx, ownerID(req)))).
			Build())

	case stepDue:
		due, err := reminder.ParseDue(text)
		if err != nil {
			return req.Reply(ctx, "❌ Invalid date format. Try again (YYYY-MM-DD HH:MM).", nil)
		}
		owner := ownerID(req)
		if err := reminder.ValidateNotPast(due, b.reminders.Now(), b.reminders.Location(ctx, owner)); err != nil {
			var past *reminder.PastDueError
			if !errors.As(err, &past) {
				return err
			}
			return req.Reply(ctx, pastDueText(past), nil)
		}
		s.due = due
		s.step = stepRecurring
		b.sessions.Put(req.FromID, s)
		return req.ReplyMsg(ctx, tgui.New().Line("🔁 Should the reminder repeat?").Inline(recurringKeyboard()).Build())

	case stepRecurring, stepFrequency:
		return b.chooseRecurrence(ctx, req, s, text)
	}
	return nil
}

func (b *Bot) onRecurringChosen(ctx context.Context, req *router.Request, payload string) error {
	_ = req.Answer(ctx, "")
	s, ok := b.sessions.Get(req.FromID)
	if !ok || (s.step != stepRecurring && s.step != stepFrequency) {
		return req.Reply(ctx, "This dialog has expired. Start again with /new.", nil)
	}
	return b.chooseRecurrence(ctx, req, s, payload)
}

func (b *Bot) chooseRecurrence(ctx context.Context, req *router.Request, s session, answer string) error {
	switch a := strings.ToLower(strings.TrimSpace(answer)); {
	case s.step == stepRecurring && a == "yes":
		s.step = stepFrequency
		b.sessions.Put(req.FromID, s)
		return req.ReplyMsg(ctx, tgui.New().Line("How often?").Inline(frequencyKeyboard()).Build())
	case s.step == stepRecurring && a == "no":
		return b.finish(ctx, req, s, reminder.RecurrenceNone)
	case s.step == stepFrequency:
		rec, err := reminder.ParseRecurrence(a)
		if err != nil || rec == reminder.RecurrenceNone {
			return req.ReplyMsg(ctx, tgui.New().Line("❌ Choose Daily, Weekly or Monthly.").Inline(frequencyKeyboard()).Build())
		}
		return b.finish(ctx, req, s, rec)
	default:
		return req.ReplyMsg(ctx, tgui.New().Line("❌ Answer Yes or No.").Inline(recurringKeyboard()).Build())
	}
}

func (b *Bot) finish(ctx context.Context, req *router.Request, s session, rec reminder.Recurrence) error {
	owner := ownerID(req)
	r, err := b.reminders.Create(ctx, reminder.NewReminder{
		OwnerID:    owner,
		ChatID:     req.Chat.ChatID,
		Message:    s.message,
		Due:        s.due,
		Recurrence: rec,
	})
	var past *reminder.PastDueError
	switch {
	case errors.As(err, &past):
		// the time passed while the dialog was open
		s.step = stepDue
		b.sessions.Put(req.FromID, s)
		return req.Reply(ctx, pastDueText(past), nil)
	case errors.Is(err, reminder.ErrEmptyMessage):
		s.step = stepText
		b.sessions.Put(req.FromID, s)
		return req.Reply(ctx, "❌ The reminder text is empty. Enter the text:", nil)
	case err != nil:
		b.sessions.Delete(req.FromID)
		return err
	}
	b.sessions.Delete(req.FromID)

	at := reminder.Resolve(r, b.reminders.Location(ctx, owner)).Format(reminder.DisplayLayout)
	text := fmt.Sprintf("✅ Reminder created for %s.", at)
	if !r.OneShot() {
		text += " Repeats: " + r.Recurrence.Label() + "."
	}
	return req.ReplyMsg(ctx, tgui.New().Line(text).Keyboard(mainMenu()).Build())
}

func pastDueText(e *reminder.PastDueError) string {
	return fmt.Sprintf("❌ The time %s has already passed (now %s). Enter a later time:",
		e.Due.Format(reminder.DisplayLayout), e.Now.Format(reminder.DisplayLayout))
}
