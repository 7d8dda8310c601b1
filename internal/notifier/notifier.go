// Package notifier implements the append-only Notification log surfaced
// to the user shell, generalizing the teacher's flat JSONL send-log append
// pattern (oarkflow-email/sendlog.go's appendSendLog/recordSendAttempt) to
// write rows through internal/store so the log is queryable per-user
// instead of only grep-able on disk.
package notifier

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/oarkflow/followupd/internal/clock"
	"github.com/oarkflow/followupd/internal/model"
	"github.com/oarkflow/followupd/internal/store"
)

// Notifier appends and lists per-user notifications.
type Notifier struct {
	store store.Store
	clock clock.Clock
}

// New builds a Notifier bound to a Store and Clock.
func New(st store.Store, ck clock.Clock) *Notifier {
	return &Notifier{store: st, clock: ck}
}

// Notify appends a new, unread notification for userID.
func (n *Notifier) Notify(ctx context.Context, userID, message string) error {
	note := &model.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Message:   message,
		Read:      false,
		CreatedAt: n.clock.Now(),
	}
	if err := n.store.AppendNotification(ctx, note); err != nil {
		return fmt.Errorf("notifier: append: %w", err)
	}
	return nil
}

// FollowupSent notifies the user that a followup was delivered.
func (n *Notifier) FollowupSent(ctx context.Context, f *model.Followup) error {
	return n.Notify(ctx, f.UserID, fmt.Sprintf("Follow-up to %s was sent.", f.ClientName))
}

// FollowupFailed notifies the user that delivery failed, including the
// recorded reason.
func (n *Notifier) FollowupFailed(ctx context.Context, f *model.Followup, reason string) error {
	return n.Notify(ctx, f.UserID, fmt.Sprintf("Follow-up to %s failed: %s", f.ClientName, reason))
}

// List returns the most recent notifications for a user, newest first.
func (n *Notifier) List(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	return n.store.ListNotifications(ctx, userID, limit)
}
