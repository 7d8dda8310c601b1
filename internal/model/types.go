// Package model defines the durable record types shared by the store,
// compiler, state machine, and write API.
package model

import "time"

// FollowupStatus is the lifecycle state of a Followup.
type FollowupStatus string

const (
	StatusDraft     FollowupStatus = "draft"
	StatusPending   FollowupStatus = "pending"
	StatusScheduled FollowupStatus = "scheduled"
	StatusRunning   FollowupStatus = "running"
	StatusSent      FollowupStatus = "sent"
	StatusPassed    FollowupStatus = "passed"
	StatusFailed    FollowupStatus = "failed"
	StatusDone      FollowupStatus = "done"
	StatusReplied   FollowupStatus = "replied"
	StatusDeleted   FollowupStatus = "deleted"
)

// RepeatMode is the schedule rule's recurrence kind.
type RepeatMode string

const (
	RepeatOnce        RepeatMode = "once"
	RepeatDaily       RepeatMode = "daily"
	RepeatTwiceDaily  RepeatMode = "twice_daily"
	RepeatWeekly      RepeatMode = "weekly"
	RepeatEveryNDays  RepeatMode = "every_n_days"
	RepeatWeekday     RepeatMode = "weekday"
	RepeatRelative    RepeatMode = "relative"
)

// RelUnit is the unit for a relative schedule rule.
type RelUnit string

const (
	RelMinutes RelUnit = "minutes"
	RelHours   RelUnit = "hours"
	RelDays    RelUnit = "days"
)

// SubscriptionStatus mirrors the externally-driven billing sub-state on User.
type SubscriptionStatus string

const (
	SubNone     SubscriptionStatus = "none"
	SubTrialing SubscriptionStatus = "trialing"
	SubActive   SubscriptionStatus = "active"
	SubPastDue  SubscriptionStatus = "past_due"
	SubCanceled SubscriptionStatus = "canceled"
	SubInactive SubscriptionStatus = "inactive"
)

// ScheduleRule is the only source of truth for when a Followup next fires.
// It is embedded into Followup rather than stored separately: the spec
// treats rule and materialized next_send_at as two faces of one record.
type ScheduleRule struct {
	Enabled    bool       `gorm:"column:schedule_enabled;index:idx_followups_user_enabled_next" json:"enabled"`
	Repeat     RepeatMode `gorm:"column:schedule_repeat" json:"repeat"`
	StartDate  string     `gorm:"column:schedule_start_date" json:"start_date"`
	EndDate    string     `gorm:"column:schedule_end_date" json:"end_date,omitempty"`
	SendTime   string     `gorm:"column:schedule_send_time" json:"send_time"`
	SendTime2  string     `gorm:"column:schedule_send_time_2" json:"send_time_2,omitempty"`
	Interval   int        `gorm:"column:schedule_interval" json:"interval,omitempty"`
	ByWeekday  string     `gorm:"column:schedule_byweekday" json:"byweekday,omitempty"`
	RelValue   int        `gorm:"column:schedule_rel_value" json:"rel_value,omitempty"`
	RelUnit    RelUnit    `gorm:"column:schedule_rel_unit" json:"rel_unit,omitempty"`
}

// IsZero reports whether no rule has ever been installed.
func (r ScheduleRule) IsZero() bool {
	return r.Repeat == "" && r.StartDate == "" && r.SendTime == ""
}

// User is the owner of followups. The core never deletes a User.
type User struct {
	ID            string     `gorm:"primaryKey" json:"id"`
	Name          string     `json:"name"`
	Email         string     `gorm:"uniqueIndex" json:"email"`
	PasswordHash  string     `json:"-"`
	Verified      bool       `json:"verified"`
	VerifyCode    string     `json:"-"`
	CodeExpiresAt *time.Time `json:"-"`
	LastCodeSent  *time.Time `json:"-"`
	MailToken     string     `json:"-"`

	SubStatus         SubscriptionStatus `json:"sub_status"`
	Plan              string             `json:"plan,omitempty"`
	CurrentPeriodEnd  *time.Time         `json:"current_period_end,omitempty"`
	ProviderCustomer  string             `json:"-"`
	ProviderSubID     string             `json:"-"`

	BrandLogo     string `json:"brand_logo,omitempty"`
	BrandColor    string `json:"brand_color,omitempty"`
	CompanyName   string `json:"company_name,omitempty"`
	SupportEmail  string `json:"support_email,omitempty"`
	Footer        string `json:"footer,omitempty"`

	TrialStart *time.Time `json:"trial_start,omitempty"`
	TrialEnd   *time.Time `json:"trial_end,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// HasTransportCredential reports whether the Loop may attempt delivery for this user.
func (u *User) HasTransportCredential() bool {
	return u != nil && u.MailToken != ""
}

// Followup is one intent-to-contact a client.
type Followup struct {
	ID     string `gorm:"primaryKey" json:"id"`
	UserID string `gorm:"index:idx_followups_user_status_due;index:idx_followups_user_enabled_next" json:"user_id"`

	ClientName      string `json:"client_name"`
	Email           string `json:"email,omitempty"`
	Phone           string `json:"phone,omitempty"`
	FollowupType    string `json:"followup_type"`
	Description     string `json:"description,omitempty"`
	MessageOverride *string `json:"message_override,omitempty"`

	Status FollowupStatus `gorm:"index:idx_followups_user_status_due" json:"status"`

	SentCount     int        `json:"sent_count"`
	LastSentAt    *time.Time `json:"last_sent_at,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	RepliedAt     *time.Time `json:"replied_at,omitempty"`

	ScheduleRule

	NextSendAt *time.Time `gorm:"index:idx_followups_user_enabled_next" json:"next_send_at,omitempty"`
	DueDate    string     `gorm:"index:idx_followups_user_status_due" json:"due_date,omitempty"`

	// PreferredChannel and WhatsAppLog rows are schema forward-compatibility
	// surface only; the live delivery path is email-only (see DESIGN.md).
	PreferredChannel string `json:"preferred_channel,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsFinalized reports whether a new schedule rule may never again be installed.
func (f *Followup) IsFinalized() bool {
	switch f.Status {
	case StatusSent, StatusDone, StatusDeleted:
		return true
	}
	return f.SentCount > 0 || f.LastSentAt != nil
}

// ActivityLog is an append-only audit/idempotence-marker row.
type ActivityLog struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	UserID     string    `gorm:"index" json:"user_id"`
	FollowupID *string   `json:"followup_id,omitempty"`
	Action     string    `json:"action"`
	Provider   string    `gorm:"index" json:"provider,omitempty"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Notification is an append-only per-user event surfaced to the UI.
type Notification struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"index" json:"user_id"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Template is a per-user scheduler-fallback HTML template.
type Template struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"uniqueIndex" json:"user_id"`
	HTML      string    `json:"html"`
	CreatedAt time.Time `json:"created_at"`
}

// WhatsAppLog is carried as forward-compatibility schema surface only (§9 of
// the spec); the core never writes to it on the live (email-only) path.
type WhatsAppLog struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	FollowupID string    `json:"followup_id"`
	UserID     string    `json:"user_id"`
	Message    string    `json:"message"`
	SentAt     time.Time `json:"sent_at"`
}

// SchedulerSettings is a process-wide settings row, kept for the scheduler
// table layout required by the spec (§6); the compiler itself derives its
// timezone from process config (INPUT_TZ), not from this row, per REDESIGN FLAGS.
type SchedulerSettings struct {
	UserID         string     `gorm:"primaryKey" json:"user_id"`
	Enabled        bool       `json:"enabled"`
	StartDate      string     `json:"start_date,omitempty"`
	EndDate        string     `json:"end_date,omitempty"`
	SendTime       string     `json:"send_time,omitempty"`
	Mode           string     `json:"mode,omitempty"`
	LastBulkRunAt  *time.Time `json:"last_bulk_run_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
