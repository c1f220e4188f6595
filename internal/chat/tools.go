// Package chat provides the text assistant and the task tool layer shared
// between it and the live voice session. Both paths call the same tools, so
// a task created by voice and one created over chat go through identical
// validation and storage.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxtasks/voxtasks/internal/observe"
	"github.com/voxtasks/voxtasks/pkg/provider/live"
	"github.com/voxtasks/voxtasks/pkg/provider/llm"
	"github.com/voxtasks/voxtasks/pkg/task"
)

// Tool names exposed to the model.
const (
	ToolAddTask      = "add_task"
	ToolListTasks    = "list_tasks"
	ToolCompleteTask = "complete_task"
	ToolDeleteTask   = "delete_task"
)

// TaskTools executes model-requested task operations against a [task.Store].
// Safe for concurrent use when the underlying store is.
type TaskTools struct {
	store   task.Store
	source  string
	metrics *observe.Metrics
	logger  *slog.Logger
}

// ToolsOption configures a TaskTools instance.
type ToolsOption func(*TaskTools)

// WithToolMetrics overrides the default metrics instance.
func WithToolMetrics(m *observe.Metrics) ToolsOption {
	return func(t *TaskTools) { t.metrics = m }
}

// WithToolLogger overrides the default logger.
func WithToolLogger(l *slog.Logger) ToolsOption {
	return func(t *TaskTools) { t.logger = l }
}

// NewTaskTools creates the tool executor. source is recorded on every task
// created through these tools, e.g. [task.SourceVoice] for the live session
// or [task.SourceManual] for typed chat.
func NewTaskTools(store task.Store, source string, opts ...ToolsOption) *TaskTools {
	t := &TaskTools{store: store, source: source}
	for _, o := range opts {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// Definitions returns the tool schemas offered to the model.
func (t *TaskTools) Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        ToolAddTask,
			Description: "Add a task to the user's list.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":    map[string]any{"type": "string", "description": "Short imperative description."},
					"notes":    map[string]any{"type": "string", "description": "Optional free-text detail."},
					"priority": map[string]any{"type": "string", "enum": []string{"high", "medium", "low"}},
					"due":      map[string]any{"type": "string", "description": "Optional RFC 3339 due timestamp."},
				},
				"required": []string{"title"},
			},
		},
		{
			Name:        ToolListTasks,
			Description: "List the user's tasks, most urgent first.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"completed": map[string]any{"type": "boolean", "description": "Filter by completion state."},
					"priority":  map[string]any{"type": "string", "enum": []string{"high", "medium", "low"}},
				},
			},
		},
		{
			Name:        ToolCompleteTask,
			Description: "Mark a task as done.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{"type": "string", "description": "ID of the task to complete."},
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        ToolDeleteTask,
			Description: "Remove a task from the list.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{"type": "string", "description": "ID of the task to delete."},
				},
				"required": []string{"id"},
			},
		},
	}
}

// Execute runs one tool call and returns the JSON-encoded result the model
// sees. Unknown tools and invalid arguments return an error.
func (t *TaskTools) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	result, err := t.execute(ctx, name, argsJSON)
	status := "ok"
	if err != nil {
		status = "error"
		t.logger.Warn("tool call failed", "tool", name, "error", err)
	}
	t.metrics.RecordToolCall(ctx, name, status)
	return result, err
}

// Handler adapts Execute into the live session's tool callback.
func (t *TaskTools) Handler() live.ToolCallHandler {
	return func(name, args string) (string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return t.Execute(ctx, name, args)
	}
}

func (t *TaskTools) execute(ctx context.Context, name, argsJSON string) (string, error) {
	if argsJSON == "" {
		argsJSON = "{}"
	}
	switch name {
	case ToolAddTask:
		return t.addTask(ctx, argsJSON)
	case ToolListTasks:
		return t.listTasks(ctx, argsJSON)
	case ToolCompleteTask:
		return t.completeTask(ctx, argsJSON)
	case ToolDeleteTask:
		return t.deleteTask(ctx, argsJSON)
	}
	return "", fmt.Errorf("chat: unknown tool %q", name)
}

func (t *TaskTools) addTask(ctx context.Context, argsJSON string) (string, error) {
	var args struct {
		Title    string `json:"title"`
		Notes    string `json:"notes"`
		Priority string `json:"priority"`
		Due      string `json:"due"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("chat: add_task arguments: %w", err)
	}

	tk := &task.Task{
		Title:    args.Title,
		Notes:    args.Notes,
		Priority: task.Priority(args.Priority),
		Source:   t.source,
	}
	if args.Due != "" {
		due, err := time.Parse(time.RFC3339, args.Due)
		if err != nil {
			return "", fmt.Errorf("chat: add_task due date: %w", err)
		}
		tk.DueAt = &due
	}

	if err := t.store.Create(ctx, tk); err != nil {
		return "", err
	}
	t.metrics.RecordTaskCreated(ctx, t.source)
	t.logger.Info("task created", "id", tk.ID, "title", tk.Title, "source", t.source)
	return marshalResult(tk)
}

func (t *TaskTools) listTasks(ctx context.Context, argsJSON string) (string, error) {
	var args struct {
		Completed *bool  `json:"completed"`
		Priority  string `json:"priority"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("chat: list_tasks arguments: %w", err)
	}

	tasks, err := t.store.List(ctx, task.Filter{
		Completed: args.Completed,
		Priority:  task.Priority(args.Priority),
	})
	if err != nil {
		return "", err
	}
	return marshalResult(map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (t *TaskTools) completeTask(ctx context.Context, argsJSON string) (string, error) {
	id, err := parseID(argsJSON, ToolCompleteTask)
	if err != nil {
		return "", err
	}
	if err := t.store.Complete(ctx, id); err != nil {
		return "", err
	}
	return marshalResult(map[string]any{"completed": id})
}

func (t *TaskTools) deleteTask(ctx context.Context, argsJSON string) (string, error) {
	id, err := parseID(argsJSON, ToolDeleteTask)
	if err != nil {
		return "", err
	}
	if err := t.store.Delete(ctx, id); err != nil {
		return "", err
	}
	return marshalResult(map[string]any{"deleted": id})
}

func parseID(argsJSON, tool string) (string, error) {
	var args struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("chat: %s arguments: %w", tool, err)
	}
	if args.ID == "" {
		return "", fmt.Errorf("chat: %s requires an id", tool)
	}
	return args.ID, nil
}

func marshalResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("chat: encode tool result: %w", err)
	}
	return string(data), nil
}
