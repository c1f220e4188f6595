package task

import "context"

// Store provides CRUD operations for tasks.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new task. The task is validated before insertion;
	// an empty ID is replaced with a generated one. Returns an error if a
	// task with the same ID already exists.
	Create(ctx context.Context, t *Task) error

	// Get retrieves a task by ID. Returns (nil, nil) if not found.
	Get(ctx context.Context, id string) (*Task, error)

	// Update replaces an existing task. The task is validated before the
	// update. Returns an error if the task is not found.
	Update(ctx context.Context, t *Task) error

	// Complete marks a task as done. Returns an error if the task is not
	// found.
	Complete(ctx context.Context, id string) error

	// Delete removes a task by ID. Deleting a non-existent task is not an
	// error.
	Delete(ctx context.Context, id string) error

	// List returns tasks matching the filter, most urgent first.
	List(ctx context.Context, f Filter) ([]Task, error)
}
