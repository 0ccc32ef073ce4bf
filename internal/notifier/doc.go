// Package notifier is the boundary to the messaging platform.
//
// Send delivers one message to one subscriber synchronously: a single
// attempt under the shared rate limit and a fixed timeout. Callers treat its
// error as per-recipient and never retry it within a run.
//
// Notify queues operator notices for a small worker pool with retry and
// short-window dedup, so a burst of identical alerts reaches the operator
// once.
package notifier
