package timesource

import (
	"context"
	"fmt"
	"time"

	"github.com/kortschak/sun"
)

// Solar computes the sun-anchored events offline from catalogue
// coordinates: Dhuhr a few minutes after solar noon and Maghrib at sunset.
// Fajr, Asr and Isha need twilight and shadow-length angles and are
// reported as ErrUnavailable.
type Solar struct {
	// DhuhrOffset is added to solar noon.
	DhuhrOffset time.Duration
	// MaghribOffset is added to sunset.
	MaghribOffset time.Duration
}

func (s Solar) Today(ctx context.Context, location string, day time.Time) (Events, error) {
	loc, ok := LookupLocation(location)
	if !ok {
		return Events{}, fmt.Errorf("%w: %q", ErrUnknownLocation, location)
	}
	y, m, d := day.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, day.Location())

	ev := Events{Location: loc.Key, Day: midnight.Format("2006-01-02"), Times: map[Event]string{}, Errors: map[Event]error{}}
	anchors := []struct {
		event  Event
		spec   string
		offset time.Duration
	}{
		{Dhuhr, "@noon", s.DhuhrOffset},
		{Maghrib, "@sunset", s.MaghribOffset},
	}
	for _, a := range anchors {
		sched, err := sun.Parser{}.Parse(fmt.Sprintf("%s %v %v", a.spec, loc.Lat, loc.Lon))
		if err != nil {
			ev.Errors[a.event] = err
			continue
		}
		at := sched.Next(midnight).In(day.Location()).Add(a.offset)
		if at.Year() != y || at.Month() != m || at.Day() != d {
			ev.Errors[a.event] = fmt.Errorf("%w: %s not on %s", ErrMalformed, a.event, ev.Day)
			continue
		}
		ev.Times[a.event] = at.Format("15:04")
	}
	for _, e := range []Event{Fajr, Asr, Isha} {
		ev.Errors[e] = ErrUnavailable
	}
	if len(ev.Times) == 0 {
		return Events{}, fmt.Errorf("%w: no solar events for %s", ErrMalformed, loc.Key)
	}
	return ev, nil
}
