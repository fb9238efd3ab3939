package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planion/planion/pkg/models"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task and its unfinished subtasks",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	_, s, cleanup, err := openStore(nil)
	if err != nil {
		return err
	}
	defer cleanup()

	task, err := resolveTask(s, args[0])
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return fmt.Errorf("task %s is already %s", shortID(task.ID), task.Status)
	}

	if _, err := s.UpdateTaskStatus(task.ID, models.TaskStatusCancelled, "cancelled by operator", "cli"); err != nil {
		return err
	}
	fmt.Printf("cancelled %s (%s)\n", shortID(task.ID), task.Title)
	return nil
}
