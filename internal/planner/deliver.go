package planner

import (
	"context"
	"errors"
	"fmt"

	"adhanbot/internal/task/engine"
	"adhanbot/internal/task/scheduler"
	"adhanbot/internal/timesource"
	kit "adhanbot/internal/transport"
	"adhanbot/pkg/logx"
	"adhanbot/pkg/tgui"
)

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, recipientID int64, text string, opt *kit.SendOptions) error
}

// PrayerText renders the notification for one event at one location.
func PrayerText(ev timesource.Event, location string) string {
	return "🕋 <b>الله أكبر، الله أكبر.</b> حان الآن وقت صلاة " +
		tgui.B(ev.Arabic()).String() + " في محافظة " +
		tgui.B(timesource.DisplayName(location)).String() + "."
}

// Handler returns the timer handler for prayer jobs. A failed delivery is
// logged and not retried.
func Handler(send Sender, log logx.Logger) scheduler.Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "planner.deliver"))
	return func(ctx context.Context, f scheduler.Fired) error {
		pr, ok := f.Payload.(Prayer)
		if !ok {
			return engine.NoRetry(fmt.Errorf("%w: %T", scheduler.ErrUnknownPayload, f.Payload))
		}
		if err := send.Send(ctx, pr.SubscriberID, PrayerText(pr.Event, pr.Location), nil); err != nil {
			fields := []logx.Field{logx.String("job", f.JobID), logx.Int64("subscriber", pr.SubscriberID), logx.Err(err)}
			if errors.Is(err, kit.ErrRecipientGone) {
				log.Info("prayer notification skipped, subscriber unreachable", fields...)
			} else {
				log.Warn("prayer notification failed", fields...)
			}
			return engine.NoRetry(err)
		}
		log.Debug("prayer notification sent", logx.String("job", f.JobID))
		return nil
	}
}
