package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/planion/planion/internal/bus"
	"github.com/planion/planion/internal/config"
	"github.com/planion/planion/internal/state"
	"github.com/planion/planion/internal/store"
	"github.com/planion/planion/pkg/models"
)

// openStore loads configuration and opens the task store against the shared
// database. The returned cleanup closes the database (and bus, if any).
func openStore(b *bus.Bus) (*config.Config, *store.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	dbPath := cfg.Store.DBPath
	if dbPath == "" {
		dbPath = state.DefaultDBPath()
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("migrate database: %w", err)
	}

	s, err := store.New(db, b)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		if b != nil {
			b.Close()
		}
		db.Close()
	}
	return cfg, s, cleanup, nil
}

// resolveTask finds a task by full ID or unique ID prefix.
func resolveTask(s *store.Store, idOrPrefix string) (*models.Task, error) {
	if task, err := s.GetTask(idOrPrefix); err == nil {
		return task, nil
	}

	var matches []*models.Task
	for _, task := range s.ListTasks(store.Filter{}) {
		if strings.HasPrefix(task.ID, idOrPrefix) {
			matches = append(matches, task)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no task matching %q", idOrPrefix)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q matches %d tasks, use a longer prefix", idOrPrefix, len(matches))
	}
}

// statusColor renders a task status with the conventional color.
func statusColor(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusDone:
		return color.GreenString(string(status))
	case models.TaskStatusFailed:
		return color.RedString(string(status))
	case models.TaskStatusInProgress:
		return color.CyanString(string(status))
	case models.TaskStatusBlocked, models.TaskStatusWaitingApproval:
		return color.YellowString(string(status))
	case models.TaskStatusCancelled, models.TaskStatusPaused:
		return color.HiBlackString(string(status))
	default:
		return string(status)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
