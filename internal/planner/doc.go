// Package planner turns the active subscriber set into the day's one-shot
// prayer notifications.
//
// A pass lists active subscribers, looks up each location's event times on a
// bounded worker pool and registers one timer job per future event. Job ids
// are qualified by subscriber, event and day, so re-running a pass for the
// same day replaces registrations instead of stacking them.
package planner
