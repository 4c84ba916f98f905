// Package bot holds the chat commands and dialogs of the reminder bot.
package bot

import (
	"context"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// Reply keyboard labels.
const (
	LabelNew      = "New reminder"
	LabelList     = "My reminders"
	LabelDelete   = "Delete reminder"
	LabelSettings = "Settings"
	LabelBack     = "Back"
)

const historyLimit = 10

// Confirmer completes a delivered one-shot reminder on behalf of its owner.
type Confirmer interface {
	Confirm(ctx context.Context, ownerID, id string) error
}

// Zones is the zone lookup the handlers need.
type Zones interface {
	Resolve(ctx context.Context, ownerID string) *time.Location
	Name(ctx context.Context, ownerID string) string
	Forget(ownerID string)
}

type Deps struct {
	Reminders *reminder.Service
	Users     storage.Users
	Zones     Zones
	Confirmer Confirmer
	Log       logx.Logger
	// SessionTTL bounds an idle dialog; 0 means 15 minutes.
	SessionTTL time.Duration
}

// Bot implements the command handlers.
type Bot struct {
	reminders *reminder.Service
	users     storage.Users
	zones     Zones
	confirm   Confirmer
	log       logx.Logger

	sessions *tgui.Sessions[session]
}

func New(d Deps) *Bot {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{
		reminders: d.Reminders,
		users:     d.Users,
		zones:     d.Zones,
		confirm:   d.Confirmer,
		log:       log.With(logx.Comp("bot")),
		sessions:  tgui.NewSessions[session](d.SessionTTL),
	}
}

// Register installs every command, callback and the dialog handler.
func (b *Bot) Register(r *router.Router) {
	r.SetRegistry(b.Commands(), b.Callbacks(), b.onText)
}

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "register and pick a time zone", Handle: b.onStart},
		{Name: "new", Description: "create a reminder", Labels: []string{LabelNew}, Handle: b.onNew},
		{Name: "list", Description: "show active reminders", Labels: []string{LabelList}, Handle: b.onList},
		{Name: "delete", Description: "delete a reminder", Labels: []string{LabelDelete}, Handle: b.onDelete},
		{Name: "history", Description: "last completed reminders", Handle: b.onHistory},
		{Name: "timezone", Description: "show or change your time zone", Usage: "/timezone [Area/City]", Labels: []string{LabelSettings}, Aliases: []string{"tz"}, Handle: b.onTimezone},
		{Name: "cancel", Description: "abort the current dialog", Labels: []string{LabelBack}, Handle: b.onCancel},
	}
}

func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{NS: "reminder", Action: "confirm", Handle: b.onConfirm},
		{NS: "reminder", Action: "delete", Handle: b.onDeleteChosen},
		{NS: "tz", Action: "set", Handle: b.onZoneChosen},
		{NS: "tz", Action: "back", Handle: b.onZoneBack},
		{NS: "new", Action: "rec", Handle: b.onRecurringChosen},
	}
}

func mainMenu() *tele.ReplyMarkup {
	return tgui.ReplyMenu(
		[]string{LabelNew},
		[]string{LabelList},
		[]string{LabelDelete},
		[]string{LabelSettings},
	)
}

func ownerID(req *router.Request) string { return strconv.FormatInt(req.FromID, 10) }
