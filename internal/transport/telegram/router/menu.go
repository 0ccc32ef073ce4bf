package router

import (
	"cmp"
	"regexp"
	"slices"
	"strings"

	kit "adhanbot/internal/transport"
)

const (
	maxMenuCommands = 100
	maxMenuDescLen  = 256
)

// Telegram only shows commands matching this in the menu.
var menuName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)

// buildTelegramMenuCommands lists public commands first, then owner-only
// ones marked with a lock. Hidden commands and names Telegram would refuse
// are left out.
func buildTelegramMenuCommands(cmds []*Command) []kit.BotCommand {
	type entry struct {
		kit.BotCommand
		locked bool
	}
	var entries []entry
	seen := map[string]bool{}
	for _, c := range cmds {
		if c == nil || c.Hidden {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if !menuName.MatchString(name) || seen[name] {
			continue
		}
		seen[name] = true

		desc := strings.Join(strings.Fields(c.Description), " ")
		if desc == "" {
			desc = name
		}
		locked := c.Access == AccessOwnerOnly
		if locked {
			desc = "🔒 " + desc
		}
		if r := []rune(desc); len(r) > maxMenuDescLen {
			desc = string(r[:maxMenuDescLen])
		}
		entries = append(entries, entry{kit.BotCommand{Command: name, Description: desc}, locked})
	}
	slices.SortStableFunc(entries, func(a, b entry) int {
		if a.locked != b.locked {
			if a.locked {
				return 1
			}
			return -1
		}
		return cmp.Compare(a.Command, b.Command)
	})

	out := make([]kit.BotCommand, 0, min(len(entries), maxMenuCommands))
	for _, e := range entries[:min(len(entries), maxMenuCommands)] {
		out = append(out, e.BotCommand)
	}
	return out
}
