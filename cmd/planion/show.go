package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/planion/planion/pkg/models"
)

var showCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	_, s, cleanup, err := openStore(nil)
	if err != nil {
		return err
	}
	defer cleanup()

	task, err := resolveTask(s, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s  %s\n", task.ID, statusColor(task.Status))
	fmt.Printf("title:       %s\n", task.Title)
	if task.Description != "" {
		fmt.Printf("description: %s\n", task.Description)
	}
	fmt.Printf("priority:    %s\n", task.Priority)
	if task.ParentID != "" {
		fmt.Printf("parent:      %s\n", shortID(task.ParentID))
	}
	if len(task.Dependencies) > 0 {
		fmt.Printf("depends on:  ")
		for i, dep := range task.Dependencies {
			if i > 0 {
				fmt.Print(", ")
			}
			fmt.Print(shortID(dep))
		}
		fmt.Println()
	}
	if task.AssignedTo != "" {
		fmt.Printf("assigned to: %s\n", task.AssignedTo)
	}
	fmt.Printf("created:     %s\n", task.CreatedAt.Local().Format(time.RFC822))
	if task.CompletedAt != nil {
		fmt.Printf("completed:   %s\n", task.CompletedAt.Local().Format(time.RFC822))
	}

	for _, key := range []string{
		models.ContextKeyBlocker,
		models.ContextKeyApprovalRationale,
		models.ContextKeyReviewFeedback,
		models.ContextKeyRiskAssessment,
		models.ContextKeyPauseReason,
		models.ContextKeyStatusReason,
	} {
		if v := task.ContextString(key); v != "" {
			fmt.Printf("%s: %s\n", key, v)
		}
	}
	if n := task.ContextInt(models.ContextKeyRetryCount); n > 0 {
		fmt.Printf("review rejections: %d\n", n)
	}
	if task.ResultSummary != "" {
		fmt.Printf("result:\n%s\n", task.ResultSummary)
	}

	if children := s.Children(task.ID); len(children) > 0 {
		fmt.Println("subtasks:")
		for _, child := range children {
			fmt.Printf("  %s  %s  %s\n", shortID(child.ID), statusColor(child.Status), child.Title)
		}
	}
	return nil
}
