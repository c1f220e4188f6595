package notify

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxtasks/voxtasks/pkg/task"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(_ context.Context, e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) all() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.events...)
}

func TestLogNotifier_Notify(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

	n.Notify(context.Background(), Event{
		Kind:    KindTaskDue,
		Message: "task due: buy milk",
		Task:    &task.Task{ID: "t1", Title: "buy milk"},
	})

	out := buf.String()
	for _, want := range []string{"task due: buy milk", "task_due", "t1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestReminder_NotifiesDueTasksOnce(t *testing.T) {
	t.Parallel()

	store := task.NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	for _, tk := range []*task.Task{
		{ID: "due", Title: "due now", DueAt: &past},
		{ID: "later", Title: "not yet", DueAt: &future},
		{ID: "no-due", Title: "whenever"},
		{ID: "done", Title: "already done", DueAt: &past},
	} {
		if err := store.Create(ctx, tk); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := store.Complete(ctx, "done"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	sink := &recordingNotifier{}
	r := NewReminder(store, sink, withClock(func() time.Time { return now }))

	r.scan(ctx)
	r.scan(ctx)

	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("got %d events; want exactly 1", len(events))
	}
	if events[0].Kind != KindTaskDue || events[0].Task.ID != "due" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestReminder_NotifiesNewlyDueOnLaterScan(t *testing.T) {
	t.Parallel()

	store := task.NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	soon := now.Add(30 * time.Minute)

	if err := store.Create(ctx, &task.Task{ID: "soon", Title: "soon", DueAt: &soon}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	clock := now
	var mu sync.Mutex
	sink := &recordingNotifier{}
	r := NewReminder(store, sink, withClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}))

	r.scan(ctx)
	if got := len(sink.all()); got != 0 {
		t.Fatalf("premature notification: %d events", got)
	}

	mu.Lock()
	clock = now.Add(time.Hour)
	mu.Unlock()

	r.scan(ctx)
	if got := len(sink.all()); got != 1 {
		t.Fatalf("got %d events after due time; want 1", got)
	}
}

func TestReminder_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	store := task.NewMemoryStore()
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)
	if err := store.Create(ctx, &task.Task{ID: "due", Title: "due", DueAt: &past}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	sink := &recordingNotifier{}
	r := NewReminder(store, sink, WithInterval(5*time.Millisecond))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- r.Run(runCtx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(sink.all()) == 0 {
		t.Fatal("reminder never fired")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v; want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
