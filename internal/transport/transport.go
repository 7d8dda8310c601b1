// Package transport implements the Transport Adapter: a synchronous,
// single-error-variant boundary to an outbound email provider. It is
// adapted from oarkflow-email's provider.go/providers.go/auth.go/
// message.go/defaults.go, generalized from that CLI's many-provider
// batch-send design down to the spec's one-call contract:
// Send(ctx, user, to, subject, html) -> (messageID, error).
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	backoff "gopkg.in/cenkalti/backoff.v1"
)

// Error is the single error variant the Transport Adapter may return, per
// the spec's error taxonomy (TransportError). The scheduler loop never
// inspects its cause, only its presence.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNotConnected is returned when the user has no transport credential on
// file, corresponding to the spec's TransportNotConnected error.
var ErrNotConnected = errors.New("transport: user has no connected mail account")

// Recipient identifies who an outgoing message is addressed to.
type Recipient struct {
	UserID      string
	UserEmail   string // From address / account identity
	MailToken   string // opaque per-user credential, e.g. an OAuth/API token
	To          string
	Subject     string
	HTML        string

	// PreferredProvider, when set, is tried first regardless of the usage-
	// based ordering, per a tick's batch allocation from PlanBatch. A
	// failed send still falls through to the rest of the priority chain.
	PreferredProvider string
}

// Provider is one concrete delivery mechanism (SMTP relay, HTTP API,
// etc.), adapted from the teacher's Provider interface (provider.go).
type Provider interface {
	Name() string
	Send(ctx context.Context, r Recipient) (messageID string, err error)
}

// Transport is the boundary the Scheduler Loop and Write API send through.
type Transport interface {
	Send(ctx context.Context, r Recipient) (messageID string, err error)
}

// Adapter is the concrete Transport: it resolves an ordered provider
// fallback chain (optionally reordered by recent usage), applies a shared
// outbound rate limit (the library replacement for the teacher's ad hoc
// per-client throttling), retries each provider with backoff before
// falling through to the next, and records every attempt to the audit
// log. Cross-provider fallback is exhausted entirely inside one Send
// call; the spec's Scheduler Loop only sees the final failed/scheduled
// retry policy, never a mid-fallback state.
type Adapter struct {
	providers   map[string]Provider
	priority    []string
	usage       UsageTracker
	usageWindow time.Duration
	maxAttempts int
	limiter     *rate.Limiter
	audit       AuditLog
	dedup       *DedupCache
	optimizer   BatchOptimizer
	capacity    map[string]int
}

// AuditLog is the narrow slice of internal/store the adapter needs, kept
// as its own interface so transport has no import cycle on store.
type AuditLog interface {
	RecordSendAttempt(ctx context.Context, userID, provider, to string, success bool, errMsg string)
}

// UsageTracker is the narrow slice of internal/store that feeds
// resolveProviders its usage snapshot, generalizing oarkflow-email's
// sendlog.go-backed weightedUsageSince query.
type UsageTracker interface {
	ProviderUsageSince(ctx context.Context, providers []string, since time.Time) (map[string]int, error)
}

// defaultUsageWindow bounds how far back ProviderUsageSince looks when
// ranking providers by recent load, mirroring the teacher's 24h default
// lookback in sortProvidersByUsage.
const defaultUsageWindow = 24 * time.Hour

// defaultMaxAttemptsPerProvider mirrors the teacher's per-provider
// RetryCount before moving on to the next entry in ProviderPriority.
const defaultMaxAttemptsPerProvider = 3

// NewAdapter builds an Adapter over one or more named providers.
// ratePerSecond bounds outbound sends across all recipients and
// providers; burst allows short bursts above that steady rate. priority
// orders ProviderPriority-style fallback: Send tries providers in that
// order (reordered by recent usage when a UsageTracker is attached via
// WithUsageTracker), falling through to the next on failure. An empty
// priority falls back to providers' natural order.
func NewAdapter(providers []Provider, priority []string, ratePerSecond float64, burst int, audit AuditLog, dedup *DedupCache) *Adapter {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	if len(priority) == 0 {
		for _, p := range providers {
			priority = append(priority, p.Name())
		}
	}
	return &Adapter{
		providers:   byName,
		priority:    priority,
		usageWindow: defaultUsageWindow,
		maxAttempts: defaultMaxAttemptsPerProvider,
		limiter:     rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		audit:       audit,
		dedup:       dedup,
	}
}

// WithUsageTracker attaches a recent-usage source so Send reorders
// ProviderPriority least-used-first instead of using it as a fixed list,
// per the spec's provider-routing determinism property (§8 law 9): the
// ordering is a pure function of (priority, usage snapshot), so repeated
// calls against the same usage history are reproducible.
func (a *Adapter) WithUsageTracker(u UsageTracker) *Adapter {
	a.usage = u
	return a
}

// WithBatchOptimizer attaches a BatchOptimizer and a per-provider capacity
// table (providers absent or <= 0 are treated as unlimited by the
// optimizer), enabling PlanBatch for the Scheduler Loop's per-tick
// allocation pass (spec §4.3 backpressure/spread across providers).
func (a *Adapter) WithBatchOptimizer(opt BatchOptimizer, capacity map[string]int) *Adapter {
	a.optimizer = opt
	a.capacity = capacity
	return a
}

// BatchPlanner is the narrow slice of Adapter the Scheduler Loop uses to
// pre-allocate a tick's batch of followup IDs across providers before any
// individual Send call, so GreedyBatchOptimizer's capacity spread applies
// up front rather than only reactively through per-send fallback.
type BatchPlanner interface {
	PlanBatch(jobIDs []string) map[string]string
}

// PlanBatch allocates jobIDs across the adapter's priority providers using
// the attached BatchOptimizer. Returns nil if no optimizer is attached.
func (a *Adapter) PlanBatch(jobIDs []string) map[string]string {
	if a.optimizer == nil || len(jobIDs) == 0 {
		return nil
	}
	return a.optimizer.Allocate(jobIDs, a.priority, a.capacity)
}

// Send delivers one message and returns a provider message ID. It is
// idempotent per (userID, to, subject) dedup key within the cache's TTL,
// matching the spec's exactly-once-per-occurrence requirement at the
// transport boundary (the scheduler's own state machine is the primary
// defense; this is a second, narrower net).
//
// Providers are tried in resolveProviders order; each gets up to
// maxAttempts tries with randomized exponential backoff between
// attempts (gopkg.in/cenkalti/backoff.v1, replacing the teacher's
// jitterBackoff) before falling through to the next provider.
func (a *Adapter) Send(ctx context.Context, r Recipient) (string, error) {
	if r.MailToken == "" {
		return "", ErrNotConnected
	}

	key := dedupKey(r.UserID, r.To, r.Subject)
	if a.dedup != nil {
		if id, ok := a.dedup.Get(key); ok {
			return id, nil
		}
	}

	usage := map[string]int{}
	if a.usage != nil {
		if snapshot, err := a.usage.ProviderUsageSince(ctx, a.priority, time.Now().UTC().Add(-a.usageWindow)); err == nil {
			usage = snapshot
		}
	}
	order := resolveProviders(a.priority, usage)
	if r.PreferredProvider != "" {
		order = preferProvider(order, r.PreferredProvider)
	}

	var lastErr error
	for _, name := range order {
		p, ok := a.providers[name]
		if !ok {
			continue
		}
		id, err := a.sendWithRetry(ctx, p, r)
		if a.audit != nil {
			a.audit.RecordSendAttempt(ctx, r.UserID, name, r.To, err == nil, errString(err))
		}
		if err == nil {
			if a.dedup != nil {
				a.dedup.Put(key, id)
			}
			return id, nil
		}
		lastErr = &Error{Provider: name, Err: err}
	}
	if lastErr == nil {
		lastErr = &Error{Provider: "", Err: errors.New("no provider configured")}
	}
	return "", lastErr
}

// sendWithRetry attempts one provider up to a.maxAttempts times, waiting
// out the shared rate limiter before each attempt and backing off between
// failures within the same provider.
func (a *Adapter) sendWithRetry(ctx context.Context, p Provider, r Recipient) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0

	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return "", err
		}
		id, err := p.Send(ctx, r)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if attempt < a.maxAttempts {
			select {
			case <-time.After(b.NextBackOff()):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", lastErr
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func dedupKey(userID, to, subject string) string {
	return userID + "|" + to + "|" + subject
}
