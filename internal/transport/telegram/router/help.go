package router

import (
	"html"
	"strings"
)

// helpText renders help in Telegram HTML parse mode.
func (m *CommandManager) helpText(args []string) string {
	m.mu.RLock()
	ordered := m.ordered
	table := m.commands
	m.mu.RUnlock()

	if len(args) > 0 {
		name := strings.ToLower(strings.TrimPrefix(args[0], "/"))
		c, ok := table[name]
		if !ok {
			return "❓ <b>Unknown command</b>\nType <code>/help</code> to list commands."
		}
		return helpCommandHTML(*c)
	}

	var b strings.Builder
	b.WriteString("🔆 <b>Commands</b>\n")
	for _, c := range ordered {
		b.WriteString("\n")
		if c.Access == AccessOwnerOnly {
			b.WriteString("🔒 ")
		}
		b.WriteString("<code>/" + html.EscapeString(c.Name) + "</code>")
		if d := strings.TrimSpace(c.Description); d != "" {
			b.WriteString(" - " + html.EscapeString(d))
		}
	}
	b.WriteString("\n\n<i>/help &lt;command&gt; for usage</i>")
	return b.String()
}

func helpCommandHTML(c Command) string {
	lines := []string{"<b>/" + html.EscapeString(c.Name) + "</b>"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "Usage: <code>"+html.EscapeString(u)+"</code>")
	}
	if len(c.Aliases) > 0 {
		al := make([]string, 0, len(c.Aliases))
		for _, a := range c.Aliases {
			al = append(al, "/"+html.EscapeString(a))
		}
		lines = append(lines, "Aliases: "+strings.Join(al, ", "))
	}
	if c.Access == AccessOwnerOnly {
		lines = append(lines, "🔒 owner only")
	}
	return strings.Join(lines, "\n")
}
