package notifier

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	kit "adhanbot/internal/transport"
)

// dedupKey is empty for notices without a channel; those are never deduped.
func dedupKey(n kit.Notification) string {
	if n.Channel == "" {
		return ""
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%d|%d|%s", n.Channel, n.Target.ChatID, n.Target.ThreadID, n.Priority, n.Text)
	return fmt.Sprintf("%016x", h.Sum64())
}

// dedupSet remembers keys until their window expires. Beyond limit entries
// the one expiring first is evicted.
type dedupSet struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func newDedupSet() *dedupSet { return &dedupSet{until: map[string]time.Time{}} }

// admit records key and reports whether it was not already live.
func (d *dedupSet) admit(key string, now time.Time, window time.Duration, limit int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.until[key]; ok && now.Before(exp) {
		return false
	}
	d.until[key] = now.Add(window)

	var (
		oldest    string
		oldestExp time.Time
	)
	for k, exp := range d.until {
		if !now.Before(exp) {
			delete(d.until, k)
			continue
		}
		if oldest == "" || exp.Before(oldestExp) {
			oldest, oldestExp = k, exp
		}
	}
	if len(d.until) > limit && oldest != "" {
		delete(d.until, oldest)
	}
	return true
}
