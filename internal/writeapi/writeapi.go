// Package writeapi implements the Write API: every operation the outer
// shell invokes to create, edit, schedule, clear, and bulk-mutate
// followups. Grounded on original_source/models.py's CRUD functions
// (add_followup, mark_followup_done, set_schedule, clear_schedule, ...)
// for operation shape; every write returns an explicit result/error value
// rather than leaking a store exception to the caller, per spec §9's
// "exception-based control flow" redesign flag.
package writeapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/oarkflow/followupd/internal/clock"
	"github.com/oarkflow/followupd/internal/compile"
	"github.com/oarkflow/followupd/internal/model"
	"github.com/oarkflow/followupd/internal/statemachine"
	"github.com/oarkflow/followupd/internal/store"
)

// Error kinds, per spec §7. The Write API never panics. Validation and
// ownership failures are reported as one of these; store and state-machine
// errors are returned as they come (wrapped with context in the create
// paths), not mapped onto these kinds.
var (
	ErrInvalidRule      = errors.New("invalid_rule")
	ErrAlreadyFinalized = errors.New("already_finalized")
	ErrContactMissing   = errors.New("contact_missing")
	ErrNotFound         = errors.New("not_found")
)

// API is the Write API surface. It holds no business state of its own:
// every operation reads/writes through Store inside a single transaction
// where the spec requires atomicity (§5: "has ever sent" must be read in
// the same transaction as the rule install).
type API struct {
	store   store.Store
	clock   clock.Clock
	inputTZ string
}

// New builds a Write API bound to a Store, a Clock (injectable for
// deterministic tests), and the process-wide Compiler timezone.
func New(st store.Store, ck clock.Clock, inputTZ string) *API {
	return &API{store: st, clock: ck, inputTZ: inputTZ}
}

// RuleInput is the plain input shape for SetScheduleRule,
// expressed as strings/ints matching the wire-level rule fields (§3), kept
// distinct from model.ScheduleRule so callers never need to know about
// gorm tags.
type RuleInput struct {
	Repeat     string
	StartDate  string
	EndDate    string
	SendTime   string
	SendTime2  string
	Interval   int
	ByWeekday  string
	RelValue   int
	RelUnit    string
}

func (f RuleInput) toModel(enabled bool) model.ScheduleRule {
	return model.ScheduleRule{
		Enabled:   enabled,
		Repeat:    model.RepeatMode(f.Repeat),
		StartDate: f.StartDate,
		EndDate:   f.EndDate,
		SendTime:  f.SendTime,
		SendTime2: f.SendTime2,
		Interval:  f.Interval,
		ByWeekday: f.ByWeekday,
		RelValue:  f.RelValue,
		RelUnit:   model.RelUnit(f.RelUnit),
	}
}

// FollowupFields is the mutable subset of a Followup the Write API exposes
// for create/update.
type FollowupFields struct {
	ClientName   string
	Email        string
	Phone        string
	FollowupType string
	Description  string
	Channel      string // "email" (the only live channel, see DESIGN.md) or "" for draft
}

func (f FollowupFields) validateContact() error {
	if f.Channel == "email" && f.Email == "" {
		return fmt.Errorf("%w: email required for channel=email", ErrContactMissing)
	}
	return nil
}

// CreateFollowup validates channel+contact and inserts a pending followup.
func (a *API) CreateFollowup(ctx context.Context, userID string, fields FollowupFields, dueDate string) (*model.Followup, error) {
	if err := fields.validateContact(); err != nil {
		return nil, err
	}
	now := a.clock.Now()
	f := &model.Followup{
		ID:           uuid.NewString(),
		UserID:       userID,
		ClientName:   fields.ClientName,
		Email:        fields.Email,
		Phone:        fields.Phone,
		FollowupType: fields.FollowupType,
		Description:  fields.Description,
		Status:       model.StatusPending,
		DueDate:      dueDate,
		CreatedAt:    now,
	}
	if err := a.store.CreateFollowup(ctx, f); err != nil {
		return nil, fmt.Errorf("create followup: %w", err)
	}
	a.logActivity(ctx, userID, &f.ID, "create_followup", "created pending followup")
	return f, nil
}

// CreateDraft inserts a followup with no due date and no schedule, email
// required, status=draft.
func (a *API) CreateDraft(ctx context.Context, userID string, fields FollowupFields) (*model.Followup, error) {
	if fields.Email == "" {
		return nil, fmt.Errorf("%w: email required for a draft", ErrContactMissing)
	}
	f := &model.Followup{
		ID:           uuid.NewString(),
		UserID:       userID,
		ClientName:   fields.ClientName,
		Email:        fields.Email,
		Phone:        fields.Phone,
		FollowupType: fields.FollowupType,
		Description:  fields.Description,
		Status:       model.StatusDraft,
		CreatedAt:    a.clock.Now(),
	}
	if err := a.store.CreateFollowup(ctx, f); err != nil {
		return nil, fmt.Errorf("create draft: %w", err)
	}
	a.logActivity(ctx, userID, &f.ID, "create_draft", "created draft followup")
	return f, nil
}

// UpdateFollowup applies a per-field update, re-validating the
// channel/contact invariant.
func (a *API) UpdateFollowup(ctx context.Context, fid, userID string, fields FollowupFields) error {
	if err := fields.validateContact(); err != nil {
		return err
	}
	return a.store.TransitionFollowup(ctx, fid, func(f *model.Followup) (*model.ActivityLog, error) {
		if f.UserID != userID {
			return nil, fmt.Errorf("%w: followup %s", ErrNotFound, fid)
		}
		if fields.ClientName != "" {
			f.ClientName = fields.ClientName
		}
		if fields.Email != "" {
			f.Email = fields.Email
		}
		if fields.Phone != "" {
			f.Phone = fields.Phone
		}
		if fields.FollowupType != "" {
			f.FollowupType = fields.FollowupType
		}
		if fields.Description != "" {
			f.Description = fields.Description
		}
		return a.activityLog(f, "update_followup", "fields updated"), nil
	})
}

// SetScheduleRule rejects finalized/ever-sent items (the TOCTOU-sensitive
// check, read inside the same transaction as the rule install per spec
// §5), invokes the Compiler, writes the rule plus next_send_at, and
// transitions the followup to scheduled. A blank due_date is derived from
// start_date, or from next_send_at's date when the rule has no start_date
// (invariant 6).
func (a *API) SetScheduleRule(ctx context.Context, fid, userID string, rule RuleInput) error {
	modelRule := rule.toModel(true)
	return a.store.TransitionFollowup(ctx, fid, func(f *model.Followup) (*model.ActivityLog, error) {
		if f.UserID != userID {
			return nil, fmt.Errorf("%w: followup %s", ErrNotFound, fid)
		}
		if f.IsFinalized() {
			return nil, fmt.Errorf("%w: followup %s already finalized or sent", ErrAlreadyFinalized, fid)
		}
		next, err := compile.Compile(modelRule, a.clock.Now(), a.inputTZ)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		f.ScheduleRule = modelRule
		if err := statemachine.MarkScheduled(f, next); err != nil {
			return nil, err
		}
		if f.DueDate == "" {
			f.DueDate = deriveDueDate(f)
		}
		return a.activityLog(f, "set_schedule_rule", "rule installed"), nil
	})
}

// BulkSetScheduleRule applies the same rule bag to many followups,
// filtering to those that are not finalized and have never sent
// (sent_count=0), and returns the count actually affected. rawRule
// tolerates aliased CSV-style field names via RuleFromBag.
func (a *API) BulkSetScheduleRule(ctx context.Context, userID string, ids []string, rawRule map[string]any) (int, error) {
	rule := RuleFromBag(rawRule)
	modelRule := rule.toModel(true)
	affected := 0
	for _, id := range ids {
		err := a.store.TransitionFollowup(ctx, id, func(f *model.Followup) (*model.ActivityLog, error) {
			if f.UserID != userID {
				return nil, fmt.Errorf("%w: followup %s", ErrNotFound, id)
			}
			if f.IsFinalized() || f.SentCount > 0 {
				return nil, fmt.Errorf("%w: followup %s", ErrAlreadyFinalized, id)
			}
			next, err := compile.Compile(modelRule, a.clock.Now(), a.inputTZ)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
			}
			f.ScheduleRule = modelRule
			if err := statemachine.MarkScheduled(f, next); err != nil {
				return nil, err
			}
			if f.DueDate == "" {
				f.DueDate = deriveDueDate(f)
			}
			return a.activityLog(f, "bulk_set_schedule_rule", "rule installed via bulk op"), nil
		})
		if err == nil {
			affected++
		}
	}
	return affected, nil
}

// ClearSchedule nulls the rule. Per invariant 5, a followup that has ever
// sent keeps status=sent; otherwise status reverts to pending.
func (a *API) ClearSchedule(ctx context.Context, fid, userID string) error {
	return a.store.TransitionFollowup(ctx, fid, func(f *model.Followup) (*model.ActivityLog, error) {
		if f.UserID != userID {
			return nil, fmt.Errorf("%w: followup %s", ErrNotFound, fid)
		}
		f.ScheduleRule = model.ScheduleRule{}
		f.NextSendAt = nil
		if f.SentCount > 0 {
			f.Status = model.StatusSent
		} else {
			f.Status = model.StatusPending
		}
		return a.activityLog(f, "clear_schedule", "rule cleared"), nil
	})
}

// MarkDoneByID is the terminal transition reachable from any non-final
// status.
func (a *API) MarkDoneByID(ctx context.Context, fid, userID string) error {
	return a.store.TransitionFollowup(ctx, fid, func(f *model.Followup) (*model.ActivityLog, error) {
		if f.UserID != userID {
			return nil, fmt.Errorf("%w: followup %s", ErrNotFound, fid)
		}
		if err := statemachine.MarkDone(f); err != nil {
			return nil, err
		}
		return a.activityLog(f, "mark_done", "marked done"), nil
	})
}

// MarkDoneByEmail finds the most recent non-final followup for userID with
// the given contact email and marks it done.
func (a *API) MarkDoneByEmail(ctx context.Context, userID, email string) error {
	return a.markDoneByContact(ctx, userID, func(f *model.Followup) bool { return f.Email == email })
}

// MarkDoneByPhone is MarkDoneByEmail's phone-keyed sibling.
func (a *API) MarkDoneByPhone(ctx context.Context, userID, phone string) error {
	return a.markDoneByContact(ctx, userID, func(f *model.Followup) bool { return f.Phone == phone })
}

func (a *API) markDoneByContact(ctx context.Context, userID string, match func(*model.Followup) bool) error {
	all, err := a.store.ListFollowupsByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup by contact: %w", err)
	}
	for _, f := range all {
		if match(f) && !f.IsFinalized() {
			return a.MarkDoneByID(ctx, f.ID, userID)
		}
	}
	return fmt.Errorf("%w: no matching followup for user %s", ErrNotFound, userID)
}

// MarkReplied records that the client responded.
func (a *API) MarkReplied(ctx context.Context, fid, userID string) error {
	now := a.clock.Now()
	return a.store.TransitionFollowup(ctx, fid, func(f *model.Followup) (*model.ActivityLog, error) {
		if f.UserID != userID {
			return nil, fmt.Errorf("%w: followup %s", ErrNotFound, fid)
		}
		if err := statemachine.MarkReplied(f, now); err != nil {
			return nil, err
		}
		return a.activityLog(f, "mark_replied", "client replied"), nil
	})
}

// DeleteFollowup removes the followup. The Store deletes the followup's
// child activity-log rows in the same transaction as the parent row, since
// ActivityLog carries no gorm FK/association back to Followup.
func (a *API) DeleteFollowup(ctx context.Context, fid, userID string) error {
	f, err := a.store.GetFollowup(ctx, fid)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if f.UserID != userID {
		return fmt.Errorf("%w: followup %s", ErrNotFound, fid)
	}
	a.logActivity(ctx, userID, &fid, "delete_followup", "deleting followup and child rows")
	return a.store.DeleteFollowup(ctx, fid)
}

// UpdateMessageOverride sets or clears the per-followup override text.
// Passing a nil text clears it.
func (a *API) UpdateMessageOverride(ctx context.Context, fid, userID string, text *string) error {
	return a.store.TransitionFollowup(ctx, fid, func(f *model.Followup) (*model.ActivityLog, error) {
		if f.UserID != userID {
			return nil, fmt.Errorf("%w: followup %s", ErrNotFound, fid)
		}
		f.MessageOverride = text
		action, msg := "update_message_override", "override set"
		if text == nil {
			msg = "override cleared"
		}
		return a.activityLog(f, action, msg), nil
	})
}

func deriveDueDate(f *model.Followup) string {
	if f.StartDate != "" {
		return f.StartDate
	}
	if f.NextSendAt != nil {
		return f.NextSendAt.Format("2006-01-02")
	}
	return ""
}

func (a *API) activityLog(f *model.Followup, action, message string) *model.ActivityLog {
	fid := f.ID
	return &model.ActivityLog{
		ID:         uuid.NewString(),
		UserID:     f.UserID,
		FollowupID: &fid,
		Action:     action,
		Message:    message,
		CreatedAt:  a.clock.Now(),
	}
}

func (a *API) logActivity(ctx context.Context, userID string, followupID *string, action, message string) {
	_ = a.store.AppendActivityLog(ctx, &model.ActivityLog{
		ID:         uuid.NewString(),
		UserID:     userID,
		FollowupID: followupID,
		Action:     action,
		Message:    message,
		CreatedAt:  a.clock.Now(),
	})
}
