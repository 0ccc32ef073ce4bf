package engine

import "errors"

var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine stopped")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped: previous run still active")
)

// NoRetry marks err as permanent: the engine records the cause and runs no
// further attempts.
//
//	return engine.NoRetry(fmt.Errorf("lookup %s: %w", city, err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{cause: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var p *permanent
	return errors.As(err, &p)
}

type permanent struct{ cause error }

func (p *permanent) Error() string { return "permanent: " + p.cause.Error() }
func (p *permanent) Unwrap() error { return p.cause }

// cause strips a NoRetry wrapper.
func cause(err error) (error, bool) {
	var p *permanent
	if errors.As(err, &p) {
		return p.cause, true
	}
	return err, false
}
