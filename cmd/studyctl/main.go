package main

import (
	"os"

	"github.com/spf13/cobra"

	"studyrewards-backend/internal/config"
	"studyrewards-backend/internal/logger"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "studyctl",
	Short:         "Admin tooling for the study rewards backend",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.LoadTooling()
		logger.Configure(logger.Config{Level: cfg.LogLevel, Output: os.Stderr})
	},
}

func init() {
	rootCmd.AddCommand(enrollCmd, tokenCmd)
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute runs the command line and returns the process exit status.
func execute(args []string) int {
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		log := logger.WithComponent("studyctl")
		log.Error().Err(err).Msg("command failed")
		return 1
	}
	return 0
}
