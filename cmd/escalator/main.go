package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// noColor disables ANSI colors in CLI output. It is set by --no-color or
// the NO_COLOR environment variable.
var noColor bool

var rootCmd = &cobra.Command{
	Use:           "escalator",
	Short:         "Supervisor desk for questions the AI agent could not answer",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(listCmd, showCmd, respondCmd, timeoutCmd, escalateCmd, askCmd)
	rootCmd.AddCommand(suggestCmd, kbCmd, followUpsCmd, consoleCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
