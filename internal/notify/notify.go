// Package notify delivers user-facing notifications: task reminders coming
// due and session lifecycle messages. The default sink writes structured log
// lines; richer sinks (desktop notifications, chat messages) implement the
// same interface.
package notify

import (
	"context"
	"log/slog"

	"github.com/voxtasks/voxtasks/pkg/task"
)

// Kind classifies a notification.
type Kind string

const (
	KindTaskDue      Kind = "task_due"
	KindTaskCreated  Kind = "task_created"
	KindSessionEnded Kind = "session_ended"
)

// Event is one notification.
type Event struct {
	Kind    Kind
	Message string

	// Task is set for task-related events.
	Task *task.Task
}

// Notifier delivers events to the user. Implementations must not block for
// long; delivery runs on the reminder loop.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// LogNotifier writes notifications as structured log lines.
type LogNotifier struct {
	logger *slog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the event.
func (n *LogNotifier) Notify(ctx context.Context, e Event) {
	attrs := []any{"kind", string(e.Kind)}
	if e.Task != nil {
		attrs = append(attrs, "task_id", e.Task.ID, "title", e.Task.Title)
	}
	n.logger.InfoContext(ctx, e.Message, attrs...)
}
