package scheduler

import (
	"errors"
	"time"

	"adhanbot/internal/task/engine"
	"adhanbot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(job string, err error) {
	if err == nil {
		return
	}
	// A recurring job still running from its previous trigger.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("trigger skipped", logx.String("job", job), logx.Err(err))
		return
	}

	// Throttle per job family so a full queue at planner fan-out does not
	// produce one line per subscriber.
	key := jobFamily(job)
	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[key]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[key] = now
	s.enqMu.Unlock()

	s.log.Warn("trigger failed to enqueue task", logx.String("job", job), logx.Err(err))
}

func jobFamily(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return id[:i]
		}
	}
	return id
}
