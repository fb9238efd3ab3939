package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "planion",
	Short: "Multi-agent task orchestrator",
	Long: `Planion tracks tasks through a lifecycle state machine and dispatches
them to specialist agents by priority.

Tasks are created with 'planion add' or by dropping YAML files into the
configured inbox directory. 'planion run' starts the orchestration loop:
it classifies incoming tasks, decomposes multi-step work into subtasks,
hands runnable work to specialists, pauses lower-priority work when
critical tasks arrive, and reviews results before marking anything done.

State-changing work stops at an approval gate until 'planion approve'.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	Execute()
}
