package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planion/planion/internal/store"
	"github.com/planion/planion/pkg/models"
)

var (
	addDescription string
	addPriority    string
	addParent      string
	addDeps        []string
	addAssign      string
)

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdd,
}

func init() {
	addCmd.Flags().StringVarP(&addDescription, "description", "d", "", "Detailed task description")
	addCmd.Flags().StringVarP(&addPriority, "priority", "p", "", "Priority: critical, high, medium, low, scheduled")
	addCmd.Flags().StringVar(&addParent, "parent", "", "Parent task ID")
	addCmd.Flags().StringSliceVar(&addDeps, "depends-on", nil, "Task IDs that must complete first")
	addCmd.Flags().StringVar(&addAssign, "assign", "", "Specialist to assign (coder, system-operator, researcher)")
}

func runAdd(cmd *cobra.Command, args []string) error {
	_, s, cleanup, err := openStore(nil)
	if err != nil {
		return err
	}
	defer cleanup()

	var parentID string
	if addParent != "" {
		parent, err := resolveTask(s, addParent)
		if err != nil {
			return err
		}
		parentID = parent.ID
	}

	deps := make([]string, 0, len(addDeps))
	for _, d := range addDeps {
		dep, err := resolveTask(s, d)
		if err != nil {
			return err
		}
		deps = append(deps, dep.ID)
	}

	task, err := s.AddTask(store.AddTaskParams{
		Title:        args[0],
		Description:  addDescription,
		Priority:     models.TaskPriority(addPriority),
		ParentID:     parentID,
		Dependencies: deps,
		AssignedTo:   addAssign,
	}, "cli")
	if err != nil {
		return err
	}

	fmt.Printf("added %s (%s, %s)\n", shortID(task.ID), task.Title, task.Priority)
	return nil
}
