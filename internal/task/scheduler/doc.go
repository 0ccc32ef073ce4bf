// Package scheduler is the timer facility: one-shot jobs at an absolute
// instant and recurring jobs at a fixed time of day, both keyed by a
// caller-supplied job id.
//
// The scheduler only triggers. A firing looks up the handler registered for
// the payload kind and enqueues it on the task engine, so a stalled handler
// never delays another job's trigger.
package scheduler
