// Package task provides persistent storage and management for tasks captured
// from voice sessions. A [Task] is one actionable item — title, notes,
// priority, due date — regardless of whether it was created by the live
// model's tool calls, extracted from a recorded transcript, or typed in
// directly.
//
// The primary abstraction is the [Store] interface, which offers CRUD and
// list operations. The reference implementation [PostgresStore] keeps tasks
// in a single tasks table.
package task

import (
	"errors"
	"fmt"
	"time"
)

// Priority is the urgency bucket of a task.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// validPriorities is the set of accepted Priority values.
var validPriorities = map[Priority]struct{}{
	"":             {}, // empty defaults to "medium"
	PriorityHigh:   {},
	PriorityMedium: {},
	PriorityLow:    {},
}

// Source values describe where a task came from.
const (
	SourceVoice      = "voice"      // live session tool call
	SourceTranscript = "transcript" // extracted from a recorded transcript
	SourceManual     = "manual"     // typed in directly
)

// Task is one actionable item on the user's list.
type Task struct {
	// ID is the unique identifier. Assigned by the store on Create when
	// empty.
	ID string `json:"id"`

	// Title is the short imperative description ("buy milk").
	Title string `json:"title"`

	// Notes holds free-text detail beyond the title.
	Notes string `json:"notes,omitempty"`

	// Priority is the urgency bucket. Empty defaults to "medium".
	Priority Priority `json:"priority"`

	// Completed marks the task as done.
	Completed bool `json:"completed"`

	// DueAt is the optional due date.
	DueAt *time.Time `json:"due_at,omitempty"`

	// Source records where the task came from: "voice", "transcript", or
	// "manual".
	Source string `json:"source,omitempty"`

	// CreatedAt is the time the task was first persisted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the time the task was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the Task for logical consistency. It returns a joined
// error describing every violation found, or nil if the task is valid.
func (t *Task) Validate() error {
	var errs []error

	if t.Title == "" {
		errs = append(errs, fmt.Errorf("task: title must not be empty"))
	}

	if _, ok := validPriorities[t.Priority]; !ok {
		errs = append(errs, fmt.Errorf("task: priority must be \"high\", \"medium\", or \"low\", got %q", t.Priority))
	}

	return errors.Join(errs...)
}

// Filter narrows a List call. Zero-valued fields match everything.
type Filter struct {
	// Completed, when non-nil, matches only tasks with that completion
	// state.
	Completed *bool

	// Priority, when non-empty, matches only tasks with that priority.
	Priority Priority
}
