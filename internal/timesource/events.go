package timesource

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformed       = errors.New("timesource: malformed response")
	ErrUnknownLocation = errors.New("timesource: unknown location")
	ErrUnavailable     = errors.New("timesource: event not available from this source")
)

type Event string

const (
	Fajr    Event = "Fajr"
	Dhuhr   Event = "Dhuhr"
	Asr     Event = "Asr"
	Maghrib Event = "Maghrib"
	Isha    Event = "Isha"
)

// AllEvents lists the daily events in the order they occur.
var AllEvents = []Event{Fajr, Dhuhr, Asr, Maghrib, Isha}

var arabicNames = map[Event]string{
	Fajr:    "الفجر",
	Dhuhr:   "الظهر",
	Asr:     "العصر",
	Maghrib: "المغرب",
	Isha:    "العشاء",
}

// Arabic returns the display name used in notifications.
func (e Event) Arabic() string {
	if n, ok := arabicNames[e]; ok {
		return n
	}
	return string(e)
}

// Events is one day's answer for one location. Times holds "HH:MM" local
// clock strings; Errors holds the events that could not be read. A response
// may be partial: one bad event never invalidates the others.
type Events struct {
	Location string
	Day      string // YYYY-MM-DD
	Times    map[Event]string
	Errors   map[Event]error
}

// At combines the event's clock time with day's calendar date in day's zone.
func (e Events) At(day time.Time, ev Event) (time.Time, error) {
	if err, ok := e.Errors[ev]; ok {
		return time.Time{}, err
	}
	raw, ok := e.Times[ev]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s missing", ErrMalformed, ev)
	}
	h, m, err := ParseClock(raw)
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := day.Date()
	return time.Date(y, mo, d, h, m, 0, 0, day.Location()), nil
}

// ParseClock parses "HH:MM", tolerating a trailing zone note such as
// "05:12 (EEST)".
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: clock %q", ErrMalformed, s)
	}
	hour, err1 := strconv.Atoi(hh)
	minute, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: clock %q", ErrMalformed, s)
	}
	return hour, minute, nil
}

// Source is a time-source driver.
type Source interface {
	Today(ctx context.Context, location string, day time.Time) (Events, error)
}

// Fallback asks Secondary when Primary fails outright. Per-event gaps in a
// Primary answer are not filled.
type Fallback struct {
	Primary   Source
	Secondary Source
}

func (f Fallback) Today(ctx context.Context, location string, day time.Time) (Events, error) {
	ev, err := f.Primary.Today(ctx, location, day)
	if err == nil || f.Secondary == nil || errors.Is(err, ErrUnknownLocation) || ctx.Err() != nil {
		return ev, err
	}
	ev2, err2 := f.Secondary.Today(ctx, location, day)
	if err2 != nil {
		return ev, errors.Join(err, err2)
	}
	return ev2, nil
}
