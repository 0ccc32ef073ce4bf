package notifier

import "time"

// Config controls both delivery paths: the synchronous Send used for
// subscriber messages and the queued Notify used for operator notices.
type Config struct {
	Enabled     bool
	Workers     int
	QueueSize   int
	RatePerSec  int
	SendTimeout time.Duration

	// Notify only. Send is always a single attempt.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	DedupWindow     time.Duration
	DedupMaxEntries int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		// the Bot API allows about 30 messages per second
		c.RatePerSec = 25
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	c.RetryMax = max(c.RetryMax, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	c.DedupWindow = max(c.DedupWindow, 0)
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 2000
	}
	return c
}

// HistoryItem is one finished delivery attempt, kept in a bounded ring.
type HistoryItem struct {
	At        time.Time `json:"at"`
	Path      string    `json:"path"`
	Recipient int64     `json:"recipient"`
	Text      string    `json:"text"`
	Error     string    `json:"error,omitempty"`
}

// DeliveryEvent is the Data of notifier.* bus events.
type DeliveryEvent struct {
	Path     string        `json:"path"` // "send" or "notify"
	ChatID   int64         `json:"chat_id"`
	ThreadID int           `json:"thread_id,omitempty"`
	Key      string        `json:"key,omitempty"`
	At       time.Time     `json:"at"`
	Took     time.Duration `json:"took,omitempty"`
	Error    string        `json:"error,omitempty"`
	Gone     bool          `json:"gone,omitempty"`
}
