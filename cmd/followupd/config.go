package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// appConfig is the process configuration read once at start-up, per
// spec §6. DB_PATH, SMTP_*, and INPUT_TZ are required-for-real-sends;
// Loaded via viper (env + optional config file), matching the pattern in
// Star-Nimbus-firedoor's cmd/cli/root.go (AddConfigPath/SetEnvPrefix/
// AutomaticEnv) rather than the teacher's ad hoc parseConfig/mergeConfigMaps
// flag-and-JSON-file parser in main.go, which cmd/followupd replaces
// wholesale (see DESIGN.md "Dropped teacher code").
type appConfig struct {
	DBPath                  string
	SMTPHost                string
	SMTPPort                int
	SMTPUser                string
	SMTPPass                string
	AppBaseURL              string
	InputTZ                 string
	TickSeconds             int
	LogLevel                string
	ProviderCapacityPerTick int
}

var cfgFile string

func bindPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.followupd.yaml)")
	cmd.PersistentFlags().String("db-path", "followupd.db", "sqlite database path (DB_PATH)")
	cmd.PersistentFlags().String("smtp-host", "", "fallback SMTP host (SMTP_HOST)")
	cmd.PersistentFlags().Int("smtp-port", 587, "fallback SMTP port (SMTP_PORT)")
	cmd.PersistentFlags().String("smtp-user", "", "fallback SMTP user (SMTP_USER)")
	cmd.PersistentFlags().String("smtp-pass", "", "fallback SMTP password (SMTP_PASS)")
	cmd.PersistentFlags().String("app-base-url", "", "outer-shell callback base URL (APP_BASE_URL)")
	cmd.PersistentFlags().String("input-tz", "Africa/Lagos", "Compiler default IANA timezone (INPUT_TZ)")
	cmd.PersistentFlags().Int("tick-seconds", 30, "scheduler loop tick interval (TICK_SECONDS)")
	cmd.PersistentFlags().String("log-level", "info", "zerolog level")
	cmd.PersistentFlags().Int("provider-capacity", 0, "per-provider send capacity per tick, 0 = unlimited (PROVIDER_CAPACITY)")

	for _, name := range []string{"db-path", "smtp-host", "smtp-port", "smtp-user", "smtp-pass", "app-base-url", "input-tz", "tick-seconds", "log-level", "provider-capacity"} {
		_ = viper.BindPFlag(flagToKey(name), cmd.PersistentFlags().Lookup(name))
	}
}

func flagToKey(flagName string) string {
	return strings.ReplaceAll(flagName, "-", "_")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".followupd")
	}

	viper.SetEnvPrefix("")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}

func loadConfig() appConfig {
	return appConfig{
		DBPath:                  viper.GetString("db_path"),
		SMTPHost:                viper.GetString("smtp_host"),
		SMTPPort:                viper.GetInt("smtp_port"),
		SMTPUser:                viper.GetString("smtp_user"),
		SMTPPass:                viper.GetString("smtp_pass"),
		AppBaseURL:              viper.GetString("app_base_url"),
		InputTZ:                 viper.GetString("input_tz"),
		TickSeconds:             viper.GetInt("tick_seconds"),
		LogLevel:                viper.GetString("log_level"),
		ProviderCapacityPerTick: viper.GetInt("provider_capacity"),
	}
}
