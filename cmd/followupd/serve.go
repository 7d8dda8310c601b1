package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

// newServeCmd starts the long-lived Scheduler Loop and blocks until an
// interrupt signal arrives, at which point it calls Loop.Stop() and waits
// for the in-flight tick (if any) to finish before exiting.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			loop := a.newLoop()
			if err := loop.Start(ctx); err != nil {
				return err
			}

			a.log.Info().Msg("followupd: serving, press ctrl-c to stop")
			<-ctx.Done()
			a.log.Info().Msg("followupd: shutting down")
			loop.Stop()
			return nil
		},
	}
}
