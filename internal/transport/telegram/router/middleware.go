package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"adhanbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

// step wraps a handler; steps listed first run outermost.
type step func(next HandlerFunc) HandlerFunc

func pipeline(h HandlerFunc, steps ...step) HandlerFunc {
	for i := len(steps) - 1; i >= 0; i-- {
		h = steps[i](h)
	}
	return h
}

// errPanic marks a handler that panicked.
var errPanic = errors.New("handler panic")

func recovering() step {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("handler panic",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("%w: %v", errPanic, r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// logged records every request; quick successes stay at debug.
func logged(slow time.Duration) step {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)
			fields := []logx.Field{
				logx.Bool("owner", req.Owner),
				logx.Duration("took", took),
			}
			switch {
			case err != nil:
				req.Logger.Warn("request failed", append(fields, logx.Err(err))...)
			case took >= slow:
				req.Logger.Info("request slow", fields...)
			default:
				req.Logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// apologizing tells a command's sender that it failed. Callbacks answer
// through their spinner instead, so only commands get a message.
func apologizing() step {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil || req.Update.Callback != nil {
				return err
			}
			text := textFailed
			if errors.Is(err, context.DeadlineExceeded) {
				text = textTimedOut
			}
			// the handler's deadline may be spent
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if rerr := req.Reply(rctx, text); rerr != nil {
				req.Logger.Debug("failure reply not sent", logx.Err(rerr))
			}
			return err
		}
	}
}

func deadline(d time.Duration) step {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}
