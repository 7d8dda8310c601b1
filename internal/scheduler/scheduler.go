// Package scheduler implements the Scheduler Loop: a periodic driver that
// discovers due followups, drives them through the lifecycle state machine,
// renders their message, hands off to the Transport Adapter, and re-arms
// the next occurrence. It generalizes the teacher's Scheduler/runLoop
// (oarkflow-email/scheduler.go) from a raw time.Ticker plus a manual
// running bool to robfig/cron/v3 with cron.SkipIfStillRunning, which is
// the library's own at-most-one-concurrent-tick guarantee (spec §5)
// instead of hand-rolled locking.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/oarkflow/followupd/internal/clock"
	"github.com/oarkflow/followupd/internal/compile"
	"github.com/oarkflow/followupd/internal/model"
	"github.com/oarkflow/followupd/internal/render"
	"github.com/oarkflow/followupd/internal/statemachine"
	"github.com/oarkflow/followupd/internal/store"
	"github.com/oarkflow/followupd/internal/transport"
)

// PassedGrace is how far past next_send_at an unsent once-followup may sit
// before the sweep retires it to passed. Per spec §9 it must exceed
// 2*TickInterval to avoid false positives.
const PassedGrace = 2 * time.Minute

// PerUserCap bounds how many due followups one user may contribute to a
// single tick (spec §4.3 backpressure cap).
const PerUserCap = 50

// Config bundles the Loop's tunables, each overridable from process config.
type Config struct {
	TickInterval time.Duration // reference: 30s
	InputTZ      string        // Compiler timezone, e.g. "Africa/Lagos"
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 30 * time.Second
	}
	if c.InputTZ == "" {
		c.InputTZ = "UTC"
	}
	return c
}

// Notifier is the narrow slice of internal/notifier the Loop needs, kept
// as its own interface so scheduler has no direct import on notifier.
type Notifier interface {
	FollowupSent(ctx context.Context, f *model.Followup) error
	FollowupFailed(ctx context.Context, f *model.Followup, reason string) error
}

// Loop is the Scheduler Loop. It is an explicit value with Start/Stop
// methods (spec §9's design note: replace shared global scheduler state
// with an explicit, process-owned value).
type Loop struct {
	cfg       Config
	store     store.Store
	transport transport.Transport
	clock     clock.Clock
	log       zerolog.Logger
	notifier  Notifier

	cron *cron.Cron
}

// New builds a Loop. Nothing runs until Start is called.
func New(cfg Config, st store.Store, tr transport.Transport, ck clock.Clock, log zerolog.Logger) *Loop {
	cfg = cfg.withDefaults()
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	return &Loop{cfg: cfg, store: st, transport: tr, clock: ck, log: log, cron: c}
}

// WithNotifier attaches a Notifier the Loop will call on send success and
// failure, for the user-visible Notification Log. Optional: a Loop built
// without one simply skips user notifications.
func (l *Loop) WithNotifier(n Notifier) *Loop {
	l.notifier = n
	return l
}

// Start runs the crash-orphan sweep once, schedules the periodic tick
// (which repeats the sweep), then starts the cron driver in the
// background. It returns immediately.
func (l *Loop) Start(ctx context.Context) error {
	if err := l.sweepOrphans(ctx, l.clock.Now()); err != nil {
		l.log.Error().Err(err).Msg("scheduler: startup orphan sweep failed")
	}
	spec := fmt.Sprintf("@every %s", l.cfg.TickInterval)
	_, err := l.cron.AddFunc(spec, func() {
		if err := l.Tick(ctx); err != nil {
			l.log.Error().Err(err).Msg("scheduler: tick failed")
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: schedule tick: %w", err)
	}
	l.cron.Start()
	l.log.Info().Dur("interval", l.cfg.TickInterval).Msg("scheduler: started")
	return nil
}

// Stop halts the ticker and waits for any in-flight tick to finish,
// mirroring the teacher's Stop()'s wg.Wait semantics via cron's own
// context-returning Stop.
func (l *Loop) Stop() {
	stopCtx := l.cron.Stop()
	<-stopCtx.Done()
	l.log.Info().Msg("scheduler: stopped")
}

// Tick runs exactly one pass of the per-tick algorithm (spec §4.3): sweep
// crash orphans, then for every user with scheduling enabled, discover due
// followups in next_send_at order and drive each through send-or-fail.
// Exported so cmd/followupd's `tick` subcommand can drive a single pass
// without starting the cron driver, and so tests can call it directly.
func (l *Loop) Tick(ctx context.Context) error {
	now := l.clock.Now()
	l.log.Debug().Time("tick", now).Msg("scheduler: tick start")

	if err := l.sweepOrphans(ctx, now); err != nil {
		l.log.Error().Err(err).Msg("scheduler: orphan sweep failed")
	}

	userIDs, err := l.store.ListUserIDsWithScheduling(ctx)
	if err != nil {
		return fmt.Errorf("list scheduling users: %w", err)
	}
	sort.Strings(userIDs)

	due, err := l.store.ListDueFollowups(ctx, now, PerUserCap)
	if err != nil {
		return fmt.Errorf("list due followups: %w", err)
	}

	// Pre-allocate the whole tick's batch across providers once, up front,
	// so a capacity-aware spread (BatchPlanner/GreedyBatchOptimizer) takes
	// effect before any individual Send call rather than only reactively
	// via per-send provider fallback.
	var batch map[string]string
	if planner, ok := l.transport.(transport.BatchPlanner); ok {
		ids := make([]string, 0, PerUserCap*len(userIDs))
		for _, items := range due {
			for _, f := range items {
				ids = append(ids, f.ID)
			}
		}
		batch = planner.PlanBatch(ids)
	}

	for _, userID := range userIDs {
		items := due[userID]
		if len(items) == 0 {
			continue
		}
		user, err := l.store.GetUser(ctx, userID)
		if err != nil {
			l.log.Error().Err(err).Str("user_id", userID).Msg("scheduler: load user failed")
			continue
		}
		for _, f := range items {
			l.processOne(ctx, user, f, now, batch[f.ID])
		}
	}

	return l.sweepPassed(ctx, now)
}

func (l *Loop) processOne(ctx context.Context, user *model.User, f *model.Followup, now time.Time, preferredProvider string) {
	logger := l.log.With().Str("followup_id", f.ID).Str("user_id", f.UserID).Logger()

	if !user.HasTransportCredential() {
		_ = l.store.TransitionFollowup(ctx, f.ID, func(row *model.Followup) (*model.ActivityLog, error) {
			if err := statemachine.MarkFailed(row, now, "Transport not connected"); err != nil {
				return nil, err
			}
			return l.activityLog(row, "send_failed", "Transport not connected"), nil
		})
		logger.Warn().Msg("scheduler: user has no transport credential")
		return
	}

	if err := l.store.TransitionFollowup(ctx, f.ID, func(row *model.Followup) (*model.ActivityLog, error) {
		return nil, statemachine.MarkRunning(row, now)
	}); err != nil {
		logger.Warn().Err(err).Msg("scheduler: could not claim followup as running (best-effort)")
	}

	tmplHTML := l.resolveTemplate(ctx, user.ID)
	html := render.Render(tmplHTML, render.FollowupData{
		ClientName:      f.ClientName,
		FollowupType:    f.FollowupType,
		Description:     f.Description,
		DueDate:         f.DueDate,
		MessageOverride: derefOr(f.MessageOverride, ""),
	}, render.Branding{
		CompanyName:  user.CompanyName,
		SupportEmail: user.SupportEmail,
		Footer:       user.Footer,
		Logo:         user.BrandLogo,
	})

	subject := fmt.Sprintf("Follow-up: %s", orDefault(f.FollowupType, "reminder"))
	_, sendErr := l.transport.Send(ctx, transport.Recipient{
		UserID:            user.ID,
		UserEmail:         user.Email,
		MailToken:         user.MailToken,
		To:                f.Email,
		Subject:           subject,
		HTML:              html,
		PreferredProvider: preferredProvider,
	})

	if sendErr != nil {
		l.recordFailure(ctx, f.ID, now, sendErr)
		logger.Error().Err(sendErr).Msg("scheduler: send failed")
		return
	}
	l.recordSuccess(ctx, user.ID, f, now)
}

func (l *Loop) recordFailure(ctx context.Context, followupID string, now time.Time, sendErr error) {
	var failed *model.Followup
	_ = l.store.TransitionFollowup(ctx, followupID, func(row *model.Followup) (*model.ActivityLog, error) {
		if err := statemachine.MarkFailed(row, now, sendErr.Error()); err != nil {
			return nil, err
		}
		failed = row
		return l.activityLog(row, "send_failed", sendErr.Error()), nil
	})
	if failed != nil && l.notifier != nil {
		if err := l.notifier.FollowupFailed(ctx, failed, sendErr.Error()); err != nil {
			l.log.Warn().Err(err).Str("followup_id", followupID).Msg("scheduler: failed to notify failure")
		}
	}
}

func (l *Loop) recordSuccess(ctx context.Context, userID string, f *model.Followup, now time.Time) {
	var sent *model.Followup
	err := l.store.TransitionFollowup(ctx, f.ID, func(row *model.Followup) (*model.ActivityLog, error) {
		if row.Repeat == model.RepeatOnce {
			if err := statemachine.MarkSentOnce(row, now); err != nil {
				return nil, err
			}
			sent = row
			return l.activityLog(row, "send_ok", "sent (once)"), nil
		}

		next, err := l.reArm(row, now)
		if err != nil {
			return nil, err
		}
		if err := statemachine.MarkSentRepeat(row, now, next); err != nil {
			return nil, err
		}
		sent = row
		return l.activityLog(row, "send_ok", "sent (re-armed)"), nil
	})
	if err != nil {
		l.log.Error().Err(err).Str("followup_id", f.ID).Msg("scheduler: failed to record success")
		return
	}
	if sent != nil && l.notifier != nil {
		if err := l.notifier.FollowupSent(ctx, sent); err != nil {
			l.log.Warn().Err(err).Str("followup_id", f.ID).Msg("scheduler: failed to notify success")
		}
	}
	_ = userID
}

// reArm recomputes next_send_at for a recurring rule via the Compiler and
// moves it to now+60s whenever the computed instant is not more than 60s
// ahead of now, per spec §4.3's loop-specific clamp (distinct from the
// Compiler's own 10s internal floor).
func (l *Loop) reArm(row *model.Followup, now time.Time) (time.Time, error) {
	next, err := compile.Compile(row.ScheduleRule, now, l.cfg.InputTZ)
	if err != nil {
		return time.Time{}, fmt.Errorf("re-arm: %w", err)
	}
	if !next.After(now.Add(60 * time.Second)) {
		next = now.Add(60 * time.Second)
	}
	return next, nil
}

// sweepOrphans recovers followups stuck in running because the process
// died mid-tick, per spec §4.3/§9: running older than 2*TickInterval is a
// crash orphan. SPEC_FULL.md §4.3/§8 property 8 require it be observed
// failed on the very next tick, never silently re-armed; an operator may
// still need to notice a double-send if the transport call had actually
// succeeded before the crash (documented limitation, spec §9), but the
// core's own state never pretends the item is healthy again.
func (l *Loop) sweepOrphans(ctx context.Context, now time.Time) error {
	staleBefore := now.Add(-2 * l.cfg.TickInterval)
	orphans, err := l.store.ListStaleRunning(ctx, staleBefore)
	if err != nil {
		return fmt.Errorf("list stale running: %w", err)
	}
	for _, f := range orphans {
		_ = l.store.TransitionFollowup(ctx, f.ID, func(row *model.Followup) (*model.ActivityLog, error) {
			if err := statemachine.MarkFailed(row, now, "crash-orphan: running past grace period"); err != nil {
				return nil, err
			}
			return l.activityLog(row, "crash_orphan", "marked failed"), nil
		})
	}
	return nil
}

// sweepPassed retires abandoned once-followups whose grace window elapsed
// unsent (spec §4.3.c).
func (l *Loop) sweepPassed(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-PassedGrace)
	stale, err := l.store.ListDueFollowups(ctx, cutoff, 1<<20)
	if err != nil {
		return fmt.Errorf("list passed candidates: %w", err)
	}
	for _, items := range stale {
		for _, f := range items {
			if f.Repeat != model.RepeatOnce {
				continue
			}
			_ = l.store.TransitionFollowup(ctx, f.ID, func(row *model.Followup) (*model.ActivityLog, error) {
				if err := statemachine.MarkPassed(row); err != nil {
					return nil, nil // already moved on by a concurrent path; not an error
				}
				return l.activityLog(row, "passed", "schedule window elapsed unsent"), nil
			})
		}
	}
	return nil
}

func (l *Loop) resolveTemplate(ctx context.Context, userID string) string {
	tpl, err := l.store.GetTemplate(ctx, userID)
	if err != nil {
		return render.DefaultTemplate
	}
	return tpl.HTML
}

func (l *Loop) activityLog(f *model.Followup, action, message string) *model.ActivityLog {
	fid := f.ID
	return &model.ActivityLog{
		ID:         uuid.NewString(),
		UserID:     f.UserID,
		FollowupID: &fid,
		Action:     action,
		Message:    message,
		CreatedAt:  l.clock.Now(),
	}
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
