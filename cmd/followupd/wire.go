package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/oarkflow/followupd/internal/clock"
	"github.com/oarkflow/followupd/internal/notifier"
	"github.com/oarkflow/followupd/internal/scheduler"
	"github.com/oarkflow/followupd/internal/store"
	"github.com/oarkflow/followupd/internal/transport"
)

func secondsToDuration(s int) time.Duration {
	if s <= 0 {
		s = 30
	}
	return time.Duration(s) * time.Second
}

// app bundles every collaborator the Scheduler Loop and Write API need,
// built once per process invocation.
type app struct {
	cfg       appConfig
	log       zerolog.Logger
	store     *store.GormStore
	transport *transport.Adapter
	notifier  *notifier.Notifier
	clock     clock.Clock
}

func buildApp(cfg appConfig) (*app, error) {
	log := newLogger(cfg)

	st, err := store.Open(cfg.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// Build every configured provider and an explicit ProviderPriority,
	// generalizing the teacher's EmailConfig.ProviderPriority: smtp is
	// preferred when SMTP_* is set, with the HTTP dev relay (e.g. MailHog)
	// kept available as a fallback route, matching resolveProviders'
	// "explicit priority, usage-reordered" precedence (SPEC_FULL §11).
	httpProvider := transport.NewHTTPProvider(transport.HTTPConfig{Endpoint: "http://localhost:8025/api/v1/send"})
	providers := []transport.Provider{httpProvider}
	priority := []string{httpProvider.Name()}
	if cfg.SMTPHost != "" {
		smtpProvider := transport.NewSMTPProvider(transport.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			UseTLS:   true,
		})
		providers = append(providers, smtpProvider)
		priority = []string{smtpProvider.Name(), httpProvider.Name()}
	}

	tickInterval := secondsToDuration(cfg.TickSeconds)
	capacity := make(map[string]int, len(priority))
	for _, name := range priority {
		capacity[name] = cfg.ProviderCapacityPerTick
	}
	adapter := transport.NewAdapter(providers, priority, 5, 10, st, transport.NewDedupCache(tickInterval)).
		WithUsageTracker(st).
		WithBatchOptimizer(transport.GreedyBatchOptimizer{}, capacity)
	notif := notifier.New(st, clock.System{})

	return &app{
		cfg:       cfg,
		log:       log,
		store:     st,
		transport: adapter,
		notifier:  notif,
		clock:     clock.System{},
	}, nil
}

func (a *app) newLoop() *scheduler.Loop {
	cfg := scheduler.Config{
		TickInterval: secondsToDuration(a.cfg.TickSeconds),
		InputTZ:      a.cfg.InputTZ,
	}
	return scheduler.New(cfg, a.store, a.transport, a.clock, a.log).WithNotifier(a.notifier)
}
