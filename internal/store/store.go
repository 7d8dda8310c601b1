// Package store defines the persistence boundary for the scheduler: a
// Store interface generalizing the teacher's flat JSON-file JobStore
// (oarkflow-email/storage_file.go) into the spec's relational Data Model,
// plus a gorm/sqlite-backed implementation.
package store

import (
	"context"
	"time"

	"github.com/oarkflow/followupd/internal/model"
)

// Store is every persistence operation the rest of the tree needs. It is an
// interface so internal/scheduler and internal/writeapi can be tested
// against an in-memory fake without a database.
type Store interface {
	// Users
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	SaveUser(ctx context.Context, u *model.User) error

	// Followups
	GetFollowup(ctx context.Context, id string) (*model.Followup, error)
	CreateFollowup(ctx context.Context, f *model.Followup) error
	UpdateFollowup(ctx context.Context, f *model.Followup) error
	DeleteFollowup(ctx context.Context, id string) error

	// ListDueFollowups returns, per user, up to perUserLimit followups whose
	// next_send_at <= before and whose status is pending or scheduled,
	// ordered by next_send_at ascending within each user.
	ListDueFollowups(ctx context.Context, before time.Time, perUserLimit int) (map[string][]*model.Followup, error)

	// ListFollowupsByUser returns every followup belonging to userID
	// regardless of status or schedule state, most recently created first,
	// for contact-keyed lookups (mark-done by email/phone) that must reach
	// followups outside the due-for-send set.
	ListFollowupsByUser(ctx context.Context, userID string) ([]*model.Followup, error)

	// ListStaleRunning returns followups stuck in StatusRunning whose
	// last_attempt_at is at or before staleBefore, or was never recorded
	// (crash-orphan sweep).
	ListStaleRunning(ctx context.Context, staleBefore time.Time) ([]*model.Followup, error)

	// ListUserIDsWithScheduling returns every user id with at least one
	// enabled schedule rule, for the per-tick user loop.
	ListUserIDsWithScheduling(ctx context.Context) ([]string, error)

	// TransitionFollowup applies fn to the current row inside one
	// transaction alongside an ActivityLog append, so state transitions and
	// their audit trail are atomic.
	TransitionFollowup(ctx context.Context, id string, fn func(f *model.Followup) (*model.ActivityLog, error)) error

	// Templates
	GetTemplate(ctx context.Context, userID string) (*model.Template, error)
	SaveTemplate(ctx context.Context, tpl *model.Template) error

	// Notifications
	AppendNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]*model.Notification, error)

	// ActivityLog
	AppendActivityLog(ctx context.Context, a *model.ActivityLog) error
}

// ErrNotFound is returned by single-row lookups that miss.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "store: record not found" }
