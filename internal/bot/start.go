package bot

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/storage"
	"remindbot/internal/timezone"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// zonePicker lays the preset zones out two per row plus a Back button.
func zonePicker() *tgui.Inline {
	kb := tgui.NewInline()
	var row []tele.Btn
	for i, z := range timezone.Presets {
		row = append(row, tgui.Btn(z, tgui.Data("tz", "set", z)))
		if len(row) == 2 || i == len(timezone.Presets)-1 {
			kb.Row(row...)
			row = nil
		}
	}
	return kb.Row(tgui.Btn(LabelBack, tgui.Data("tz", "back", "")))
}

func (b *Bot) onStart(ctx context.Context, req *router.Request) error {
	msg := req.Message()
	owner := ownerID(req)
	_, known, err := b.users.GetUser(ctx, owner)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if err := b.users.UpsertUser(ctx, storage.User{
		ID:        owner,
		Username:  msg.Username,
		FirstName: msg.FirstName,
		LastName:  msg.LastName,
	}); err != nil {
		return fmt.Errorf("register user: %w", err)
	}

	if known {
		name := strings.TrimSpace(msg.FirstName)
		if name == "" {
			name = "friend"
		}
		return req.ReplyMsg(ctx, tgui.New().Line("Welcome back, "+name+"!").Keyboard(mainMenu()).Build())
	}

	b.log.Info("user registered", logx.String("owner", owner), logx.String("username", msg.Username))
	b.sessions.Put(req.FromID, session{step: stepZone})
	return req.ReplyMsg(ctx, tgui.New().
		Title("🚀", "Welcome!").
		Line("Please choose your time zone or type its name (for example Europe/Berlin):").
		Inline(zonePicker()).
		Build())
}

func (b *Bot) onTimezone(ctx context.Context, req *router.Request) error {
	if name := strings.TrimSpace(req.Text); name != "" {
		return b.setZone(ctx, req, name)
	}
	b.sessions.Put(req.FromID, session{step: stepZone})
	return req.ReplyMsg(ctx, tgui.New().
		HTML("🌍 Your time zone: "+tgui.Code(b.zones.Name(ctx, ownerID(req)))).
		Line("Choose a new one or type an IANA name such as Europe/Berlin:").
		Inline(zonePicker()).
		Build())
}

func (b *Bot) onZoneChosen(ctx context.Context, req *router.Request, payload string) error {
	_ = req.Answer(ctx, "")
	return b.setZone(ctx, req, payload)
}

func (b *Bot) onZoneBack(ctx context.Context, req *router.Request, _ string) error {
	_ = req.Answer(ctx, "")
	b.sessions.Delete(req.FromID)
	return req.ReplyMsg(ctx, tgui.New().Line("🔙 Back to the main menu").Keyboard(mainMenu()).Build())
}

// setZone stores a validated zone and drops the cached lookup so the next
// evaluation of the owner's floating reminders uses it.
func (b *Bot) setZone(ctx context.Context, req *router.Request, name string) error {
	loc, err := timezone.Load(name)
	if err != nil {
		return req.Reply(ctx, fmt.Sprintf("❌ Unknown time zone %q. Use an IANA name such as Europe/Berlin.", name), nil)
	}
	owner := ownerID(req)
	if err := b.users.SetTimezone(ctx, owner, loc.String()); err != nil {
		return fmt.Errorf("set timezone: %w", err)
	}
	b.zones.Forget(owner)
	b.sessions.Delete(req.FromID)
	b.log.Info("time zone changed", logx.String("owner", owner), logx.String("zone", loc.String()))
	return req.ReplyMsg(ctx, tgui.New().
		HTML("✅ Time zone set to "+tgui.Code(loc.String())+". You can use the bot now.").
		Keyboard(mainMenu()).
		Build())
}

func (b *Bot) onCancel(ctx context.Context, req *router.Request) error {
	text := "🔙 Back to the main menu"
	if b.sessions.Delete(req.FromID) {
		text = "Cancelled."
	}
	return req.ReplyMsg(ctx, tgui.New().Line(text).Keyboard(mainMenu()).Build())
}
