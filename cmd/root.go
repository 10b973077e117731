package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var version = getVersion()

var rootCmd = &cobra.Command{
	Use:   "lockstep",
	Short: "Step-by-step database migration runner",
	Long: `Lockstep runs a migration plan against PostgreSQL, SQLite or libSQL one
transition at a time. Scoped steps share the run's transaction, unscoped
steps run on their own connection, and the state reached is recorded so the
next run picks up where this one stopped.`,
	Version: version,
}

var (
	flagEnvironment string
	flagPlan        string
	flagTarget      string
	flagLogLevel    string
	flagLogFormat   string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagEnvironment, "environment", "e", "", "Environment from lockstep.toml (default: default_environment or local)")
	rootCmd.PersistentFlags().StringVarP(&flagPlan, "plan", "p", "", "Plan file (overrides the environment's plan)")
	rootCmd.PersistentFlags().StringVar(&flagTarget, "target", "", "Database URL (overrides the environment's database)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format: text or json")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
