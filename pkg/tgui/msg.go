package tgui

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/transport"
)

// Sender is the part of a transport adapter a Message needs.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error
}

// Message is rendered text plus send options.
type Message struct {
	Text string
	Opt  *transport.SendOptions
}

func (m Message) Send(ctx context.Context, s Sender, to transport.ChatTarget) (transport.MessageRef, error) {
	return s.SendText(ctx, to, m.Text, m.Opt)
}

func (m Message) Edit(ctx context.Context, s Sender, ref transport.MessageRef) error {
	return s.EditText(ctx, ref, m.Text, m.Opt)
}

// Builder assembles an HTML message line by line. Plain strings are escaped.
type Builder struct {
	lines []string
	rm    *tele.ReplyMarkup
}

func New() *Builder { return &Builder{} }

// Title adds a bold line, optionally led by an emoji.
func (b *Builder) Title(emoji, title string) *Builder {
	t := B(strings.TrimSpace(title))
	if e := strings.TrimSpace(emoji); e != "" {
		t = Esc(e) + " " + t
	}
	b.lines = append(b.lines, t.String())
	return b
}

func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(s).String())
	return b
}

// HTML appends pre-escaped markup.
func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder {
	b.lines = append(b.lines, "")
	return b
}

// Inline attaches an inline keyboard.
func (b *Builder) Inline(kb *Inline) *Builder {
	if kb == nil || kb.Len() == 0 {
		b.rm = nil
		return b
	}
	b.rm = kb.Markup()
	return b
}

// Keyboard attaches any markup, for example a ReplyMenu.
func (b *Builder) Keyboard(rm *tele.ReplyMarkup) *Builder {
	b.rm = rm
	return b
}

func (b *Builder) Build() Message {
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if b.rm != nil {
		opt.Markup = b.rm
	}
	return Message{Text: strings.TrimRight(strings.Join(b.lines, "\n"), "\n"), Opt: opt}
}
