package tgui

import (
	"html"
	"strings"
)

// H is HTML that is safe to send with ParseMode "HTML".
type H string

func (h H) String() string { return string(h) }

// Esc escapes plain text.
func Esc(s string) H { return H(html.EscapeString(s)) }

func tag(name, s string) H { return H("<" + name + ">" + html.EscapeString(s) + "</" + name + ">") }

func B(s string) H    { return tag("b", s) }
func I(s string) H    { return tag("i", s) }
func Code(s string) H { return tag("code", s) }

// Join concatenates parts; sep is escaped.
func Join(sep string, parts ...H) H {
	ss := make([]string, len(parts))
	for i, p := range parts {
		ss[i] = string(p)
	}
	return H(strings.Join(ss, html.EscapeString(sep)))
}
