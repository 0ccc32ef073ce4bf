package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders help in HTML parse mode. Owner-only commands are listed
// only for owners.
func (m *CommandManager) helpText(args []string, owner bool) string {
	if len(args) > 0 {
		c, ok := m.lookup(commandWord(args[0]))
		if !ok || c.Hidden || (c.Access == AccessOwnerOnly && !owner) {
			return helpUnknownHTML()
		}
		return helpCommandHTML(c)
	}

	m.mu.RLock()
	order := m.order
	m.mu.RUnlock()

	cmds := make([]*Command, 0, len(order))
	for _, c := range order {
		if c.Hidden || (c.Access == AccessOwnerOnly && !owner) {
			continue
		}
		cmds = append(cmds, c)
	}
	// owner-only at the bottom, alphabetical within groups
	sort.SliceStable(cmds, func(i, j int) bool {
		li, lj := cmds[i].Access == AccessOwnerOnly, cmds[j].Access == AccessOwnerOnly
		if li != lj {
			return !li
		}
		return cmds[i].Name < cmds[j].Name
	})

	lines := []string{
		"📚 <b>قائمة الأوامر</b>",
		"",
	}
	for _, c := range cmds {
		prefix := "• "
		if c.Access == AccessOwnerOnly {
			prefix = "• 🔒 "
		}
		suffix := ""
		if d := strings.TrimSpace(c.Description); d != "" {
			suffix = " : " + html.EscapeString(d)
		}
		lines = append(lines, prefix+"<code>/"+html.EscapeString(c.Name)+"</code>"+suffix)
	}
	lines = append(lines, "", "للتفاصيل: <code>/help &lt;الأمر&gt;</code>")
	return strings.Join(lines, "\n")
}

func helpUnknownHTML() string {
	return "❓ <b>أمر غير معروف</b>\nاكتب <code>/help</code> لعرض قائمة الأوامر."
}

func helpCommandHTML(c *Command) string {
	lines := []string{"📚 <b>مساعدة</b> <code>/" + html.EscapeString(c.Name) + "</code>"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if c.Access == AccessOwnerOnly {
		lines = append(lines, "🔒 <i>للمالك فقط</i>")
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>الاستخدام</b>", "<code>"+html.EscapeString(u)+"</code>")
	}
	if short := buildShortcuts(*c); len(short) > 0 {
		lines = append(lines, "", "<b>اختصارات</b>")
		for _, s := range short {
			lines = append(lines, "• <code>/"+html.EscapeString(s)+"</code>")
		}
	}
	return strings.Join(lines, "\n")
}

func buildShortcuts(c Command) []string {
	out := make([]string, 0, len(c.Aliases))
	seen := map[string]bool{c.Name: true}
	for _, a := range c.Aliases {
		a = strings.TrimSpace(a)
		if a == "" || strings.Contains(a, " ") {
			continue
		}
		if !seen[a] {
			out = append(out, a)
			seen[a] = true
		}
	}
	sort.Strings(out)
	return out
}
