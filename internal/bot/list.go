package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

const (
	listLayout  = "2006-01-02 15:04"
	textNoneYet = "You have no active reminders."
)

// formatLine renders "message | YYYY-MM-DD HH:MM | label" in the owner's zone.
func formatLine(r reminder.Reminder, loc *time.Location) string {
	return r.Message + " | " + reminder.Resolve(r, loc).Format(listLayout) + " | " + r.Recurrence.Label()
}

func (b *Bot) onList(ctx context.Context, req *router.Request) error {
	owner := ownerID(req)
	items, err := b.reminders.List(ctx, owner)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return req.Reply(ctx, textNoneYet, nil)
	}
	loc := b.reminders.Location(ctx, owner)
	lines := make([]string, 0, len(items))
	for _, r := range items {
		lines = append(lines, "📌 "+formatLine(r, loc))
	}
	return req.Reply(ctx, strings.Join(lines, "\n\n"), &transport.SendOptions{DisablePreview: true})
}

func (b *Bot) onHistory(ctx context.Context, req *router.Request) error {
	owner := ownerID(req)
	items, err := b.reminders.History(ctx, owner, historyLimit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return req.Reply(ctx, "No completed reminders yet.", nil)
	}
	loc := b.reminders.Location(ctx, owner)
	lines := make([]string, 0, len(items)+1)
	lines = append(lines, "🗂 Last completed reminders:")
	for _, r := range items {
		lines = append(lines, "✅ "+formatLine(r, loc))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"), &transport.SendOptions{DisablePreview: true})
}

func (b *Bot) onDelete(ctx context.Context, req *router.Request) error {
	owner := ownerID(req)
	items, err := b.reminders.List(ctx, owner)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return req.Reply(ctx, textNoneYet, nil)
	}
	loc := b.reminders.Location(ctx, owner)
	kb := tgui.NewInline()
	for _, r := range items {
		data := tgui.Data("reminder", "delete", r.ID)
		if tgui.CheckData(data) != nil {
			b.log.Warn("reminder id too long for a button", logx.String("id", r.ID))
			continue
		}
		label := tgui.TruncRunes(r.Message, 32) + " | " + reminder.Resolve(r, loc).Format(listLayout)
		kb.Row(tgui.Btn(label, data))
	}
	return req.ReplyMsg(ctx, tgui.New().Line("Choose a reminder to delete:").Inline(kb).Build())
}

func (b *Bot) onDeleteChosen(ctx context.Context, req *router.Request, id string) error {
	err := b.reminders.Delete(ctx, ownerID(req), id)
	if errors.Is(err, reminder.ErrNotFound) {
		_ = req.Answer(ctx, "Reminder not found.")
		return b.editOrReply(ctx, req, "❌ Reminder not found.")
	}
	if err != nil {
		return err
	}
	_ = req.Answer(ctx, "")
	return b.editOrReply(ctx, req, "Reminder deleted.")
}

func (b *Bot) onConfirm(ctx context.Context, req *router.Request, id string) error {
	err := b.confirm.Confirm(ctx, ownerID(req), id)
	if errors.Is(err, reminder.ErrNotFound) {
		return req.Answer(ctx, "Reminder not found or already completed")
	}
	if err != nil {
		return err
	}
	_ = req.Answer(ctx, "Marked as done!")
	return b.editOrReply(ctx, req, "✅ Reminder completed.")
}

// editOrReply replaces the text of the message that carried the pressed
// button, dropping its keyboard.
func (b *Bot) editOrReply(ctx context.Context, req *router.Request, text string) error {
	if cb := req.Callback(); cb != nil && cb.MessageID != 0 {
		err := req.Adapter.EditText(ctx, transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}, text, nil)
		if err == nil {
			return nil
		}
		b.log.Debug("edit failed; replying instead", logx.Err(err))
	}
	return req.Reply(ctx, text, nil)
}
