package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/voxtasks/voxtasks/internal/chat"
	"github.com/voxtasks/voxtasks/pkg/provider/llm"
	"github.com/voxtasks/voxtasks/pkg/task"
)

// scriptedLLM returns pre-baked responses in order and records every request.
type scriptedLLM struct {
	responses []*llm.CompletionResponse
	err       error

	requests []llm.CompletionRequest
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &llm.CompletionResponse{Content: "ok"}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedLLM) StreamCompletion(context.Context, llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return nil, errors.New("not scripted")
}

func newTools(t *testing.T, source string) (*chat.TaskTools, *task.MemoryStore) {
	t.Helper()
	store := task.NewMemoryStore()
	return chat.NewTaskTools(store, source), store
}

func TestTaskTools_AddTask(t *testing.T) {
	tools, store := newTools(t, task.SourceVoice)

	result, err := tools.Execute(context.Background(), chat.ToolAddTask,
		`{"title":"buy milk","notes":"oat","priority":"high","due":"2026-09-01T09:00:00Z"}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var created task.Task
	if err := json.Unmarshal([]byte(result), &created); err != nil {
		t.Fatalf("result is not a task: %v", err)
	}
	if created.ID == "" {
		t.Error("result task has no ID")
	}

	got, err := store.Get(context.Background(), created.ID)
	if err != nil || got == nil {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if got.Title != "buy milk" || got.Priority != task.PriorityHigh {
		t.Errorf("stored task = %+v", got)
	}
	if got.Source != task.SourceVoice {
		t.Errorf("source = %q; want voice", got.Source)
	}
	if got.DueAt == nil {
		t.Error("due date not stored")
	}
}

func TestTaskTools_AddTask_BadArguments(t *testing.T) {
	tools, _ := newTools(t, task.SourceManual)
	ctx := context.Background()

	if _, err := tools.Execute(ctx, chat.ToolAddTask, `{not json`); err == nil {
		t.Error("malformed JSON should fail")
	}
	if _, err := tools.Execute(ctx, chat.ToolAddTask, `{"title":""}`); err == nil {
		t.Error("empty title should fail")
	}
	if _, err := tools.Execute(ctx, chat.ToolAddTask, `{"title":"x","due":"tomorrow"}`); err == nil {
		t.Error("unparseable due date should fail")
	}
}

func TestTaskTools_ListTasks(t *testing.T) {
	tools, store := newTools(t, task.SourceManual)
	ctx := context.Background()

	for _, tk := range []*task.Task{
		{ID: "a", Title: "a", Priority: task.PriorityHigh},
		{ID: "b", Title: "b", Priority: task.PriorityLow},
	} {
		if err := store.Create(ctx, tk); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	result, err := tools.Execute(ctx, chat.ToolListTasks, `{"priority":"high"}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var parsed struct {
		Tasks []task.Task `json:"tasks"`
		Count int         `json:"count"`
	}
	if err := json.Unmarshal([]byte(result), &parsed); err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if parsed.Count != 1 || parsed.Tasks[0].ID != "a" {
		t.Errorf("result = %+v", parsed)
	}
}

func TestTaskTools_CompleteAndDelete(t *testing.T) {
	tools, store := newTools(t, task.SourceManual)
	ctx := context.Background()

	if err := store.Create(ctx, &task.Task{ID: "t1", Title: "x"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := tools.Execute(ctx, chat.ToolCompleteTask, `{"id":"t1"}`); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ := store.Get(ctx, "t1")
	if !got.Completed {
		t.Error("task not completed")
	}

	if _, err := tools.Execute(ctx, chat.ToolDeleteTask, `{"id":"t1"}`); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := store.Get(ctx, "t1"); got != nil {
		t.Error("task not deleted")
	}

	if _, err := tools.Execute(ctx, chat.ToolCompleteTask, `{}`); err == nil {
		t.Error("complete without id should fail")
	}
}

func TestTaskTools_UnknownTool(t *testing.T) {
	tools, _ := newTools(t, task.SourceManual)

	_, err := tools.Execute(context.Background(), "launch_rocket", `{}`)
	if err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Fatalf("err = %v", err)
	}
}

func TestTaskTools_Handler(t *testing.T) {
	tools, store := newTools(t, task.SourceVoice)

	handler := tools.Handler()
	if _, err := handler(chat.ToolAddTask, `{"title":"from voice"}`); err != nil {
		t.Fatalf("handler: %v", err)
	}

	tasks, err := store.List(context.Background(), task.Filter{})
	if err != nil || len(tasks) != 1 {
		t.Fatalf("List = %v, %v", tasks, err)
	}
	if tasks[0].Source != task.SourceVoice {
		t.Errorf("source = %q; want voice", tasks[0].Source)
	}
}

func TestAssistant_PlainReply(t *testing.T) {
	tools, _ := newTools(t, task.SourceManual)
	provider := &scriptedLLM{responses: []*llm.CompletionResponse{
		{Content: "You have nothing due today."},
	}}
	a := chat.NewAssistant(provider, tools)

	reply, err := a.Send(context.Background(), "anything due today?")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply != "You have nothing due today." {
		t.Errorf("reply = %q", reply)
	}

	req := provider.requests[0]
	if req.SystemPrompt == "" {
		t.Error("system prompt not set")
	}
	if len(req.Tools) != 4 {
		t.Errorf("offered %d tools; want 4", len(req.Tools))
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestAssistant_ToolRound(t *testing.T) {
	tools, store := newTools(t, task.SourceManual)
	provider := &scriptedLLM{responses: []*llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{{
			ID:   "call-1",
			Name: chat.ToolAddTask,
			Args: `{"title":"buy milk"}`,
		}}},
		{Content: "Added buy milk to your list."},
	}}
	a := chat.NewAssistant(provider, tools)

	reply, err := a.Send(context.Background(), "remind me to buy milk")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply != "Added buy milk to your list." {
		t.Errorf("reply = %q", reply)
	}

	tasks, _ := store.List(context.Background(), task.Filter{})
	if len(tasks) != 1 || tasks[0].Title != "buy milk" {
		t.Fatalf("tasks = %+v", tasks)
	}

	// Second request must include the assistant tool call and its result.
	second := provider.requests[1].Messages
	if len(second) != 3 {
		t.Fatalf("second request has %d messages; want 3", len(second))
	}
	if second[1].Role != "assistant" || len(second[1].ToolCalls) != 1 {
		t.Errorf("assistant turn = %+v", second[1])
	}
	if second[2].Role != "tool" || second[2].ToolCallID != "call-1" {
		t.Errorf("tool turn = %+v", second[2])
	}
}

func TestAssistant_ToolFailureFedBack(t *testing.T) {
	tools, _ := newTools(t, task.SourceManual)
	provider := &scriptedLLM{responses: []*llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: chat.ToolCompleteTask, Args: `{"id":"ghost"}`}}},
		{Content: "I could not find that task."},
	}}
	a := chat.NewAssistant(provider, tools)

	reply, err := a.Send(context.Background(), "check off the ghost task")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply != "I could not find that task." {
		t.Errorf("reply = %q", reply)
	}

	toolMsg := provider.requests[1].Messages[2]
	if !strings.Contains(toolMsg.Content, "error") {
		t.Errorf("tool result %q does not carry the error", toolMsg.Content)
	}
}

func TestAssistant_GivesUpOnLoopingModel(t *testing.T) {
	tools, _ := newTools(t, task.SourceManual)
	call := llm.ToolCall{ID: "c", Name: chat.ToolListTasks, Args: `{}`}
	provider := &scriptedLLM{responses: []*llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{call}},
		{ToolCalls: []llm.ToolCall{call}},
		{ToolCalls: []llm.ToolCall{call}},
		{ToolCalls: []llm.ToolCall{call}},
		{ToolCalls: []llm.ToolCall{call}},
		{ToolCalls: []llm.ToolCall{call}},
	}}
	a := chat.NewAssistant(provider, tools)

	if _, err := a.Send(context.Background(), "list forever"); err == nil {
		t.Fatal("endless tool loop should error out")
	}
}

func TestAssistant_EmptyMessage(t *testing.T) {
	tools, _ := newTools(t, task.SourceManual)
	a := chat.NewAssistant(&scriptedLLM{}, tools)

	if _, err := a.Send(context.Background(), ""); err == nil {
		t.Fatal("empty message should be rejected")
	}
}

func TestAssistant_ProviderError(t *testing.T) {
	tools, _ := newTools(t, task.SourceManual)
	a := chat.NewAssistant(&scriptedLLM{err: errors.New("backend down")}, tools)

	_, err := a.Send(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "backend down") {
		t.Fatalf("err = %v", err)
	}
}

func TestAssistant_HistoryAndReset(t *testing.T) {
	tools, _ := newTools(t, task.SourceManual)
	provider := &scriptedLLM{responses: []*llm.CompletionResponse{
		{Content: "hi"}, {Content: "again"},
	}}
	a := chat.NewAssistant(provider, tools)

	if _, err := a.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := len(a.History()); got != 2 {
		t.Errorf("history length = %d; want 2", got)
	}

	a.Reset()
	if got := len(a.History()); got != 0 {
		t.Errorf("history length after reset = %d", got)
	}

	if _, err := a.Send(context.Background(), "fresh start"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := len(provider.requests[1].Messages); got != 1 {
		t.Errorf("post-reset request carries %d messages; want 1", got)
	}
}
