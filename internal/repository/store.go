package repository

import (
	"context"
	"errors"

	"taskhub/internal/models"
)

// ErrNotFound is returned when an id does not resolve to a task owned by the caller.
var ErrNotFound = errors.New("task not found")

// Store persists tasks. All methods are scoped to a single owner.
type Store interface {
	// Create assigns an ID when t.ID is zero and saves t.
	Create(ctx context.Context, t *models.Task) error
	// List returns the owner's tasks, newest first.
	List(ctx context.Context, owner string, f models.TaskFilter) ([]models.Task, error)
	// Update applies patch and returns the updated task.
	Update(ctx context.Context, owner, id string, patch models.TaskPatch) (*models.Task, error)
	// Delete removes the task permanently and returns what was removed.
	Delete(ctx context.Context, owner, id string) (*models.Task, error)
}
