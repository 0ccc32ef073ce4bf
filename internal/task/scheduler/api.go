package scheduler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"adhanbot/internal/task/engine"
	"adhanbot/pkg/logx"
)

// Handle routes firings of payload kind to h. Re-registering a kind replaces
// the handler.
func (s *Service) Handle(kind string, h Handler, opts ...HandleOption) {
	def := &handlerDef{fn: h}
	for _, o := range opts {
		o(def)
	}
	s.mu.Lock()
	s.handlers[kind] = def
	s.mu.Unlock()
}

// Schedule registers a one-shot job firing at `at`. An existing job with the
// same id, one-shot or recurring, is replaced. An instant already in the past
// fires immediately.
func (s *Service) Schedule(jobID string, at time.Time, p Payload) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" || at.IsZero() || p == nil {
		return fmt.Errorf("%w: id, time and payload are required", ErrInvalidJob)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(jobID)

	s.onceVer++
	j := &onceJob{at: at, payload: p, ver: s.onceVer}
	s.once[jobID] = j
	if s.c != nil {
		s.armLocked(jobID, j)
	}
	s.log.Debug("job scheduled", logx.String("job", jobID), logx.String("kind", p.Kind()), logx.Time("at", at))
	return nil
}

// ScheduleRecurring registers a daily job at timeOfDay ("HH:MM") in zone.
// A nil zone uses the facility zone.
func (s *Service) ScheduleRecurring(jobID, timeOfDay string, zone *time.Location, p Payload) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" || p == nil {
		return fmt.Errorf("%w: id and payload are required", ErrInvalidJob)
	}
	h, m, err := parseHHMM(timeOfDay)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	spec := fmt.Sprintf("%d %d * * *", m, h)
	if zone != nil {
		spec = "CRON_TZ=" + zone.String() + " " + spec
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(jobID)

	j := &recurringJob{id: jobID, spec: spec, payload: p, state: &engine.RunState{}}
	s.recurring[jobID] = j
	if s.c != nil {
		s.addCronLocked(j)
	}
	s.log.Debug("recurring job registered", logx.String("job", jobID), logx.String("kind", p.Kind()), logx.String("spec", spec))
	return nil
}

// Cancel removes a job. It returns ErrJobNotFound when nothing is registered
// under jobID.
func (s *Service) Cancel(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.removeLocked(strings.TrimSpace(jobID)) {
		return ErrJobNotFound
	}
	s.log.Debug("job cancelled", logx.String("job", jobID))
	return nil
}

// Lookup returns the descriptor of one job.
func (s *Service) Lookup(jobID string) (JobInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.once[jobID]; ok {
		return s.onceInfoLocked(jobID, j), true
	}
	if j, ok := s.recurring[jobID]; ok {
		return s.recurringInfoLocked(j), true
	}
	return JobInfo{}, false
}

// List returns every registered job ordered by next fire time.
func (s *Service) List() []JobInfo {
	s.mu.Lock()
	out := make([]JobInfo, 0, len(s.once)+len(s.recurring))
	for id, j := range s.once {
		out = append(out, s.onceInfoLocked(id, j))
	}
	for _, j := range s.recurring {
		out = append(out, s.recurringInfoLocked(j))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		if !out[i].Next.Equal(out[k].Next) {
			return out[i].Next.Before(out[k].Next)
		}
		return out[i].ID < out[k].ID
	})
	return out
}

func (s *Service) onceInfoLocked(id string, j *onceJob) JobInfo {
	return JobInfo{ID: id, Kind: JobOnce, PayloadKind: j.payload.Kind(), Next: j.at}
}

func (s *Service) recurringInfoLocked(j *recurringJob) JobInfo {
	info := JobInfo{ID: j.id, Kind: JobRecurring, PayloadKind: j.payload.Kind(), Spec: j.spec, Running: j.state.Running()}
	if s.c != nil && j.entryID != 0 {
		e := s.c.Entry(j.entryID)
		info.Next, info.Prev = e.Next, e.Prev
		return info
	}
	if sched, err := s.parser.Parse(j.spec); err == nil {
		loc := s.loc
		if loc == nil {
			loc = s.loadLocationLocked()
		}
		info.Next = sched.Next(time.Now().In(loc))
	}
	return info
}

// removeLocked drops any job registered under id. Call with s.mu held.
func (s *Service) removeLocked(id string) bool {
	removed := false
	if j, ok := s.once[id]; ok {
		if j.timer != nil {
			j.timer.Stop()
		}
		delete(s.once, id)
		removed = true
	}
	if j, ok := s.recurring[id]; ok {
		if s.c != nil && j.entryID != 0 {
			s.c.Remove(j.entryID)
		}
		delete(s.recurring, id)
		removed = true
	}
	return removed
}

// armLocked starts the runtime timer for a one-shot job. Call with s.mu held.
func (s *Service) armLocked(id string, j *onceJob) {
	if j.timer != nil {
		j.timer.Stop()
	}
	ver := j.ver
	at := j.at
	p := j.payload
	j.timer = time.AfterFunc(max(time.Until(at), 0), func() {
		// A replaced or cancelled job leaves a stale callback; ignore it.
		s.mu.Lock()
		cur, ok := s.once[id]
		if !ok || cur.ver != ver {
			s.mu.Unlock()
			return
		}
		delete(s.once, id)
		s.mu.Unlock()

		s.fire(id, at, p, nil)
	})
}

// addCronLocked registers a recurring job with the running cron. Call with s.mu held.
func (s *Service) addCronLocked(j *recurringJob) {
	id, p, state := j.id, j.payload, j.state
	eid, err := s.c.AddFunc(j.spec, func() {
		s.fire(id, time.Now(), p, state)
	})
	if err != nil {
		s.log.Error("recurring job register failed", logx.String("job", j.id), logx.String("spec", j.spec), logx.Err(err))
		return
	}
	j.entryID = eid
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
