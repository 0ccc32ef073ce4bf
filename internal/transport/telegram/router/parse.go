package router

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// newReqID is a short id for correlating a request's log lines.
func newReqID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

// tokenizeCommandLine splits a command line on whitespace. Single or double
// quotes group words and a backslash escapes the next character:
//
//	/as 1741597200-3456
//	/jobs "prayer:42"
func tokenizeCommandLine(s string) []string {
	var (
		out    []string
		cur    strings.Builder
		quote  rune
		escape bool
		inTok  bool
	)
	for _, r := range strings.TrimSpace(s) {
		switch {
		case escape:
			cur.WriteRune(r)
			escape = false
		case r == '\\':
			escape, inTok = true, true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote, inTok = r, true
		case unicode.IsSpace(r):
			if inTok && cur.Len() > 0 {
				out = append(out, cur.String())
			}
			cur.Reset()
			inTok = false
		default:
			cur.WriteRune(r)
			inTok = true
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// commandWord extracts the command name from "/name@bot".
func commandWord(tok string) string {
	word, _, _ := strings.Cut(strings.TrimPrefix(tok, "/"), "@")
	return strings.ToLower(word)
}
