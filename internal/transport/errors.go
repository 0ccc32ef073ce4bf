package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrRecipientGone is wrapped by adapters when the platform reports that the
// chat can no longer receive messages: the user blocked the bot, deleted the
// account, or the chat does not exist.
var ErrRecipientGone = errors.New("recipient unreachable")

// RateLimitedError reports a platform flood limit. After is the wait the
// platform asked for.
type RateLimitedError struct {
	After time.Duration
	Err   error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.After, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// RetryAfter returns the wait requested by a RateLimitedError in err's chain.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.After, true
	}
	return 0, false
}
