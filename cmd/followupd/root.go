// Command followupd wires the Store, Template Renderer, Transport
// Adapter, and Scheduler Loop together behind a cobra root command,
// grounded on msyahidin-ichi-go's cmd/ + config/ wiring style and
// Star-Nimbus-firedoor's cobra/viper root command shape. It replaces the
// teacher's bespoke flag/JSON-file config parser and its implicit
// module-load scheduler in favor of the spec §9 "explicit Scheduler value,
// wired from process entry" redesign: a serve subcommand runs the
// cron-driven loop until interrupted, and a tick subcommand runs exactly
// one pass for operator-driven cron wrappers or local debugging.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "followupd",
		Short: "Client follow-up scheduler core",
		Long: `followupd materializes recurring and one-shot email reminders from
declarative schedule rules, drives them through a lifecycle state machine,
and delivers them through a pluggable email transport.`,
	}

	cobra.OnInitialize(initConfig)
	bindPersistentFlags(root)

	root.AddCommand(newServeCmd())
	root.AddCommand(newTickCmd())
	root.AddCommand(newMigrateCmd())

	return root
}

func newLogger(cfg appConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Caller().Logger()
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
