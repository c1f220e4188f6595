package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxtasks/voxtasks/pkg/task"
)

// defaultPollInterval is how often the reminder loop scans for due tasks.
const defaultPollInterval = time.Minute

// Reminder periodically scans the task store and notifies once for every
// open task whose due time has passed.
type Reminder struct {
	store    task.Store
	notifier Notifier
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	notified map[string]struct{}
}

// ReminderOption configures a Reminder.
type ReminderOption func(*Reminder)

// WithInterval sets the scan interval. Defaults to one minute.
func WithInterval(d time.Duration) ReminderOption {
	return func(r *Reminder) { r.interval = d }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) ReminderOption {
	return func(r *Reminder) { r.logger = l }
}

// withClock replaces the time source in tests.
func withClock(now func() time.Time) ReminderOption {
	return func(r *Reminder) { r.now = now }
}

// NewReminder creates a Reminder over store delivering through notifier.
func NewReminder(store task.Store, notifier Notifier, opts ...ReminderOption) *Reminder {
	r := &Reminder{
		store:    store,
		notifier: notifier,
		interval: defaultPollInterval,
		now:      time.Now,
		notified: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Run scans until ctx is cancelled. Blocks; callers start it in a goroutine.
func (r *Reminder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.scan(ctx)
		}
	}
}

// scan performs one pass over the open tasks.
func (r *Reminder) scan(ctx context.Context) {
	open := false
	tasks, err := r.store.List(ctx, task.Filter{Completed: &open})
	if err != nil {
		r.logger.Warn("reminder scan failed", "error", err)
		return
	}

	now := r.now()
	for i := range tasks {
		t := tasks[i]
		if t.DueAt == nil || t.DueAt.After(now) {
			continue
		}
		if r.alreadyNotified(t.ID) {
			continue
		}
		r.notifier.Notify(ctx, Event{
			Kind:    KindTaskDue,
			Message: fmt.Sprintf("task due: %s", t.Title),
			Task:    &t,
		})
		r.markNotified(t.ID)
	}
}

func (r *Reminder) alreadyNotified(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.notified[id]
	return ok
}

func (r *Reminder) markNotified(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified[id] = struct{}{}
}
