package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planion/planion/pkg/models"
)

var approveCmd = &cobra.Command{
	Use:   "approve <task-id>",
	Short: "Approve a task waiting for human sign-off",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

func runApprove(cmd *cobra.Command, args []string) error {
	_, s, cleanup, err := openStore(nil)
	if err != nil {
		return err
	}
	defer cleanup()

	task, err := resolveTask(s, args[0])
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusWaitingApproval {
		return fmt.Errorf("task %s is %s, not waiting_approval", shortID(task.ID), task.Status)
	}

	if _, err := s.UpdateTaskStatus(task.ID, models.TaskStatusApproved, "approved by operator", "cli"); err != nil {
		return err
	}
	fmt.Printf("approved %s (%s)\n", shortID(task.ID), task.Title)
	return nil
}
