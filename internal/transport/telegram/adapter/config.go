package adapter

import "time"

// Config selects how the adapter receives updates. A non-empty WebhookURL
// switches from long polling to a webhook listener on Listen.
type Config struct {
	Token       string
	PollTimeout time.Duration
	WebhookURL  string
	Listen      string
}

func (c Config) poller() string {
	if c.WebhookURL != "" {
		return "webhook"
	}
	return "long_poll"
}
