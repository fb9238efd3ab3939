package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/planion/planion/pkg/models"
)

// SaveTask inserts or replaces a task row. Dependencies and context are
// stored as JSON so arbitrary nested context round-trips without loss.
func (db *DB) SaveTask(t *models.Task) error {
	deps, err := json.Marshal(t.Dependencies)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}
	ctx, err := json.Marshal(t.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	var completedAt *string
	if t.CompletedAt != nil {
		s := formatTime(*t.CompletedAt)
		completedAt = &s
	}

	_, err = db.Exec(`
		INSERT OR REPLACE INTO tasks
			(id, parent_id, title, description, status, priority, dependencies,
			 assigned_to, context, result_summary, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.ParentID, t.Title, t.Description, string(t.Status), string(t.Priority),
		string(deps), t.AssignedTo, string(ctx), t.ResultSummary,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), completedAt)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID. Returns nil if not found.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(`
		SELECT id, parent_id, title, description, status, priority, dependencies,
		       assigned_to, context, result_summary, created_at, updated_at, completed_at
		FROM tasks WHERE id = ?
	`, id)

	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// DeleteTask deletes a task row by ID.
func (db *DB) DeleteTask(id string) error {
	_, err := db.Exec("DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// ListTasks returns all tasks in creation order.
func (db *DB) ListTasks() ([]*models.Task, error) {
	rows, err := db.Query(`
		SELECT id, parent_id, title, description, status, priority, dependencies,
		       assigned_to, context, result_summary, created_at, updated_at, completed_at
		FROM tasks ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// scanTask reads one task row via the given scan function.
func scanTask(scan func(dest ...any) error) (*models.Task, error) {
	var t models.Task
	var parentID, description, deps, assignedTo, ctx, resultSummary sql.NullString
	var createdAt, updatedAt string
	var completedAt sql.NullString

	err := scan(&t.ID, &parentID, &t.Title, &description, &t.Status, &t.Priority,
		&deps, &assignedTo, &ctx, &resultSummary, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		t.ParentID = parentID.String
	}
	if description.Valid {
		t.Description = description.String
	}
	if deps.Valid && deps.String != "" && deps.String != "null" {
		if err := json.Unmarshal([]byte(deps.String), &t.Dependencies); err != nil {
			return nil, fmt.Errorf("unmarshal dependencies: %w", err)
		}
	}
	if assignedTo.Valid {
		t.AssignedTo = assignedTo.String
	}
	if ctx.Valid && ctx.String != "" && ctx.String != "null" {
		if err := json.Unmarshal([]byte(ctx.String), &t.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	if resultSummary.Valid {
		t.ResultSummary = resultSummary.String
	}
	t.CreatedAt, _ = parseTime(createdAt)
	t.UpdatedAt, _ = parseTime(updatedAt)
	t.CompletedAt = parseNullableTime(completedAt)
	return &t, nil
}
