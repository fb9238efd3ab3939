package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planion/planion/internal/store"
	"github.com/planion/planion/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the task backlog",
	RunE:  runStatus,
}

// statusOrder is the display order for the summary.
var statusOrder = []models.TaskStatus{
	models.TaskStatusInProgress,
	models.TaskStatusWaitingReview,
	models.TaskStatusWaitingApproval,
	models.TaskStatusApproved,
	models.TaskStatusPaused,
	models.TaskStatusBlocked,
	models.TaskStatusTodo,
	models.TaskStatusDone,
	models.TaskStatusFailed,
	models.TaskStatusCancelled,
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, s, cleanup, err := openStore(nil)
	if err != nil {
		return err
	}
	defer cleanup()

	tasks := s.ListTasks(store.Filter{})
	if len(tasks) == 0 {
		fmt.Println("no tasks. Run 'planion add <title>' to create one.")
		return nil
	}

	counts := make(map[models.TaskStatus]int)
	for _, task := range tasks {
		counts[task.Status]++
	}

	fmt.Printf("%d tasks\n", len(tasks))
	for _, status := range statusOrder {
		if counts[status] > 0 {
			fmt.Printf("  %s: %d\n", statusColor(status), counts[status])
		}
	}

	// Anything needing a human gets called out explicitly.
	for _, task := range tasks {
		switch task.Status {
		case models.TaskStatusWaitingApproval:
			fmt.Printf("\n%s awaits approval: %s\n", shortID(task.ID), task.Title)
			if rationale := task.ContextString(models.ContextKeyApprovalRationale); rationale != "" {
				fmt.Printf("  %s\n", rationale)
			}
		case models.TaskStatusBlocked:
			fmt.Printf("\n%s is blocked: %s\n", shortID(task.ID), task.Title)
			if blocker := task.ContextString(models.ContextKeyBlocker); blocker != "" {
				fmt.Printf("  %s\n", blocker)
			}
		}
	}
	return nil
}
