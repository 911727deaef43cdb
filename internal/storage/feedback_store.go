package storage

import (
	"context"
	"fmt"
	"time"

	"faccende/internal/core"

	"github.com/google/uuid"
)

// RecordFeedback appends a validated feedback signal for an existing task.
func (r *Repository) RecordFeedback(ctx context.Context, fb core.Feedback) (core.Feedback, error) {
	if err := fb.Validate(); err != nil {
		return core.Feedback{}, err
	}

	exists, err := r.TaskExists(ctx, fb.TaskID)
	if err != nil {
		return core.Feedback{}, err
	}
	if !exists {
		return core.Feedback{}, fmt.Errorf("task %s: %w", fb.TaskID, core.ErrNotFound)
	}

	fb.ID = uuid.NewString()
	fb.CreatedAt = time.Now().UTC()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO feedback (id, task_id, dimension, signal, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		fb.ID, fb.TaskID, string(fb.Dimension), fb.Signal, fb.CreatedAt)
	if err != nil {
		return core.Feedback{}, fmt.Errorf("insert feedback: %w", err)
	}
	return fb, nil
}

// ListFeedback returns all feedback for a task, oldest first.
func (r *Repository) ListFeedback(ctx context.Context, taskID string) ([]core.Feedback, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, task_id, dimension, signal, created_at
		FROM feedback WHERE task_id = ? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var fbs []core.Feedback
	for rows.Next() {
		var (
			fb        core.Feedback
			dimension string
		)
		if err := rows.Scan(&fb.ID, &fb.TaskID, &dimension, &fb.Signal, &fb.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		fb.Dimension = core.Dimension(dimension)
		fbs = append(fbs, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return fbs, nil
}
