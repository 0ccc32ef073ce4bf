package scheduler

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Timezone: s.cfg.Timezone,
		Running:  s.c != nil,
		ByKind:   map[string]int{},
		Once:     len(s.once),
		Cron:     len(s.recurring),
	}
	for _, j := range s.once {
		snap.ByKind[j.payload.Kind()]++
	}
	for _, j := range s.recurring {
		snap.ByKind[j.payload.Kind()]++
	}
	eng := s.engine
	if snap.Timezone == "" && s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	s.mu.Unlock()

	if eng != nil {
		snap.Engine = eng.Snapshot()
	}
	return snap
}
