// Package statemachine implements the Followup lifecycle transition
// table and its guards, grounded on original_source/web/scheduler.py's
// mark_send_failed / mark_send_success_once / mark_send_success_repeat /
// set_status_running / mark_schedule_passed functions, which are the
// authoritative source for every guard condition below.
package statemachine

import (
	"fmt"
	"time"

	"github.com/oarkflow/followupd/internal/model"
)

// transitions is the full allow list: from -> set of allowed to. Every
// non-final status additionally reaches done and deleted (the "any
// non-final -> mark_done" and "any -> delete" rows of the guard table);
// sent/pending/failed additionally reach replied.
var transitions = map[model.FollowupStatus]map[model.FollowupStatus]bool{
	model.StatusDraft:     {model.StatusPending: true, model.StatusScheduled: true, model.StatusDone: true, model.StatusDeleted: true},
	model.StatusPending:   {model.StatusScheduled: true, model.StatusDone: true, model.StatusReplied: true, model.StatusDeleted: true},
	model.StatusScheduled: {model.StatusRunning: true, model.StatusPending: true, model.StatusPassed: true, model.StatusFailed: true, model.StatusDone: true, model.StatusDeleted: true},
	model.StatusRunning:   {model.StatusSent: true, model.StatusFailed: true, model.StatusScheduled: true, model.StatusDone: true, model.StatusDeleted: true},
	model.StatusFailed:    {model.StatusScheduled: true, model.StatusDone: true, model.StatusReplied: true, model.StatusDeleted: true},
	model.StatusSent:      {model.StatusScheduled: true, model.StatusDone: true, model.StatusReplied: true, model.StatusDeleted: true},
	model.StatusPassed:    {model.StatusScheduled: true, model.StatusDone: true, model.StatusDeleted: true},
}

// CanTransition reports whether from -> to is an allowed edge in the
// lifecycle graph.
func CanTransition(from, to model.FollowupStatus) bool {
	return transitions[from][to]
}

// ErrInvalidTransition is returned by every Mark* guard below when the
// followup's current status does not permit the requested move.
type ErrInvalidTransition struct {
	From, To model.FollowupStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("statemachine: cannot move from %q to %q", e.From, e.To)
}

// MarkScheduled installs a freshly computed next_send_at and moves the
// followup into scheduled, from pending, failed, sent, or passed.
func MarkScheduled(f *model.Followup, nextSendAt time.Time) error {
	if !CanTransition(f.Status, model.StatusScheduled) {
		return &ErrInvalidTransition{f.Status, model.StatusScheduled}
	}
	f.Status = model.StatusScheduled
	t := nextSendAt.UTC()
	f.NextSendAt = &t
	return nil
}

// MarkRunning claims a due followup for the in-flight tick. Callers must
// hold whatever per-tick exclusivity the scheduler provides; this guard
// only enforces the lifecycle edge, not mutual exclusion.
func MarkRunning(f *model.Followup, at time.Time) error {
	if !CanTransition(f.Status, model.StatusRunning) {
		return &ErrInvalidTransition{f.Status, model.StatusRunning}
	}
	f.Status = model.StatusRunning
	t := at.UTC()
	f.LastAttemptAt = &t
	return nil
}

// MarkSentOnce finalizes a one-shot followup: no further schedule rule
// may ever be installed, per IsFinalized.
func MarkSentOnce(f *model.Followup, at time.Time) error {
	if !CanTransition(f.Status, model.StatusSent) {
		return &ErrInvalidTransition{f.Status, model.StatusSent}
	}
	f.Status = model.StatusSent
	t := at.UTC()
	f.LastSentAt = &t
	f.SentCount++
	f.Enabled = false
	f.NextSendAt = nil
	f.LastError = ""
	return nil
}

// MarkSentRepeat records a successful send for a recurring rule and
// immediately re-arms the followup at nextSendAt, since repeat != once
// schedules are allowed to leave sent -> scheduled (unlike once, which is
// finalized by IsFinalized's sent_count > 0 rule combined with repeat ==
// once never being re-armed by the scheduler loop).
func MarkSentRepeat(f *model.Followup, at, nextSendAt time.Time) error {
	if !CanTransition(f.Status, model.StatusSent) {
		return &ErrInvalidTransition{f.Status, model.StatusSent}
	}
	f.Status = model.StatusSent
	t := at.UTC()
	f.LastSentAt = &t
	f.SentCount++
	f.LastError = ""
	return MarkScheduled(f, nextSendAt)
}

// MarkFailed records a delivery failure, moving running -> failed (or
// scheduled -> failed when the loop cannot attempt the send at all, e.g.
// the user has no transport credential). The caller decides separately
// whether/when to re-arm via MarkScheduled.
func MarkFailed(f *model.Followup, at time.Time, reason string) error {
	if !CanTransition(f.Status, model.StatusFailed) {
		return &ErrInvalidTransition{f.Status, model.StatusFailed}
	}
	f.Status = model.StatusFailed
	t := at.UTC()
	f.LastAttemptAt = &t
	f.LastError = reason
	return nil
}

// MarkPassed retires an overdue scheduled followup whose grace window
// elapsed without a tick claiming it, per mark_schedule_passed.
func MarkPassed(f *model.Followup) error {
	if !CanTransition(f.Status, model.StatusPassed) {
		return &ErrInvalidTransition{f.Status, model.StatusPassed}
	}
	f.Status = model.StatusPassed
	return nil
}

// MarkDone is an explicit user action (Write API) closing the followup
// out for good.
func MarkDone(f *model.Followup) error {
	if !CanTransition(f.Status, model.StatusDone) {
		return &ErrInvalidTransition{f.Status, model.StatusDone}
	}
	f.Status = model.StatusDone
	f.NextSendAt = nil
	return nil
}

// MarkReplied records that the client responded, which the Write API
// treats as equivalent to done for scheduling purposes but keeps
// distinguishable for reporting.
func MarkReplied(f *model.Followup, at time.Time) error {
	if !CanTransition(f.Status, model.StatusReplied) {
		return &ErrInvalidTransition{f.Status, model.StatusReplied}
	}
	f.Status = model.StatusReplied
	t := at.UTC()
	f.RepliedAt = &t
	f.NextSendAt = nil
	return nil
}

// MarkDeleted is the soft-delete lifecycle edge: it only sets
// status=deleted. internal/writeapi's DeleteFollowup does not call it; it
// removes the row (and its activity-log rows) outright.
func MarkDeleted(f *model.Followup) error {
	if !CanTransition(f.Status, model.StatusDeleted) {
		return &ErrInvalidTransition{f.Status, model.StatusDeleted}
	}
	f.Status = model.StatusDeleted
	return nil
}

