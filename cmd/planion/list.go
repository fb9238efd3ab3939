package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/planion/planion/internal/store"
	"github.com/planion/planion/pkg/models"
)

var (
	listStatus string
	listAll    bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Long:  "List tasks in creation order. Terminal tasks are hidden unless --all is set.",
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVarP(&listStatus, "status", "s", "", "Only tasks with this status")
	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "Include done, failed, and cancelled tasks")
}

func runList(cmd *cobra.Command, args []string) error {
	_, s, cleanup, err := openStore(nil)
	if err != nil {
		return err
	}
	defer cleanup()

	filter := store.Filter{}
	if listStatus != "" {
		status := models.TaskStatus(listStatus)
		if !status.Valid() {
			return fmt.Errorf("unknown status %q", listStatus)
		}
		filter.Status = &status
	}

	tasks := s.ListTasks(filter)
	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tASSIGNED\tTITLE")
	for _, task := range tasks {
		if !listAll && listStatus == "" && task.Status.Terminal() {
			continue
		}
		title := task.Title
		if task.IsSubtask() {
			title = "  └ " + title
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			shortID(task.ID), statusColor(task.Status), task.Priority, task.AssignedTo, title)
	}
	return w.Flush()
}
