package main

import (
	"context"

	"github.com/spf13/cobra"
)

// newTickCmd runs exactly one Scheduler Loop pass and exits, useful for
// operator-driven cron wrappers or local debugging of the per-tick
// algorithm without running the full cron-driven serve loop.
func newTickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run a single scheduler tick and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			loop := a.newLoop()
			return loop.Tick(context.Background())
		},
	}
}
