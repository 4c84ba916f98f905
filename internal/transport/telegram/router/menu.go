package router

import (
	"strings"
	"unicode"

	"remindbot/internal/transport"
)

// Telegram limits: command [a-z0-9_]{1,32}, description up to 256 bytes,
// at most 100 menu entries.
const (
	maxCommandLen     = 32
	maxDescriptionLen = 256
	maxMenuCommands   = 100
)

// sanitizeCommand turns a name or alias into a Telegram-safe command word.
func sanitizeCommand(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(strings.ToLower(s)), "/")
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > maxCommandLen {
		out = strings.TrimRight(out[:maxCommandLen], "_")
	}
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
		if len(out) > maxCommandLen {
			out = strings.TrimRight(out[:maxCommandLen], "_")
		}
	}
	return out
}

// MenuCommands lists visible commands in registration order.
func (r *Router) MenuCommands() []transport.BotCommand {
	reg := r.reg.Load()
	out := make([]transport.BotCommand, 0, len(reg.cmds))
	for _, c := range reg.cmds {
		if c.Hidden {
			continue
		}
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = c.Name
		}
		if len(desc) > maxDescriptionLen {
			desc = desc[:maxDescriptionLen]
		}
		out = append(out, transport.BotCommand{Command: c.Name, Description: desc})
		if len(out) == maxMenuCommands {
			break
		}
	}
	return out
}

// HelpText renders the visible commands in HTML parse mode.
func (r *Router) HelpText() string {
	reg := r.reg.Load()
	lines := []string{"📚 <b>Commands</b>", ""}
	for _, c := range reg.cmds {
		if c.Hidden {
			continue
		}
		usage := strings.TrimSpace(c.Usage)
		if usage == "" {
			usage = "/" + c.Name
		}
		line := "<code>" + escape(usage) + "</code>"
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + escape(d)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escape(s string) string { return htmlEscaper.Replace(s) }
