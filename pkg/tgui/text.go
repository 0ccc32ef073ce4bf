package tgui

import (
	"strings"
	"unicode/utf8"
)

// TruncRunes cuts s to n runes, marking the cut with "…".
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "…"
		}
		i++
	}
	return s
}

// Split breaks text into parts of at most limit runes, preferring line
// boundaries. A single line over the limit is cut hard.
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLen
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var (
		parts []string
		cur   strings.Builder
		n     int
		open  bool
	)
	flush := func() {
		if open {
			parts = append(parts, cur.String())
			cur.Reset()
			n, open = 0, false
		}
	}
	for _, line := range strings.Split(text, "\n") {
		ln := utf8.RuneCountInString(line)
		for ln > limit {
			flush()
			cut := runeOffset(line, limit)
			parts = append(parts, line[:cut])
			line = line[cut:]
			ln -= limit
		}
		if open && n+1+ln > limit {
			flush()
		}
		if open {
			cur.WriteByte('\n')
			n++
		}
		cur.WriteString(line)
		n += ln
		open = true
	}
	flush()
	return parts
}

func runeOffset(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}
