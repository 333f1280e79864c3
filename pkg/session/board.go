package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ErrTaskNotFound is returned for unknown task IDs.
var ErrTaskNotFound = errors.New("session: task not found")

// Task is a unit of background work such as an asynchronous optimization.
type Task struct {
	ID        string    `json:"task_id"`
	Type      string    `json:"task_type"`
	Status    Status    `json:"status"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Filter controls which tasks are returned by List. Empty fields match all.
type Filter struct {
	Status Status
	Type   string
}

// Board is a thread-safe task board. The zero value is ready to use.
type Board struct {
	mu      sync.RWMutex
	once    sync.Once
	signal  chan struct{}
	tasks   map[string]*Task
	cancels map[string]context.CancelFunc
	nextID  int
}

func (b *Board) init() {
	b.once.Do(func() {
		b.tasks = make(map[string]*Task)
		b.cancels = make(map[string]context.CancelFunc)
		b.signal = make(chan struct{})
	})
}

// notify wakes all goroutines blocked in Wait. Must be called with mu held.
func (b *Board) notify() {
	close(b.signal)
	b.signal = make(chan struct{})
}

// Create adds a pending task and returns its ID ("task-N", sequential).
func (b *Board) Create(typ string) string {
	b.init()
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	now := time.Now()
	t := &Task{
		ID:        fmt.Sprintf("task-%d", b.nextID),
		Type:      typ,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	b.tasks[t.ID] = t

	return t.ID
}

// Get returns a copy of the task with the given ID.
func (b *Board) Get(id string) (Task, bool) {
	b.init()
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// List returns tasks matching the filter in creation order.
func (b *Board) List(f Filter) []Task {
	b.init()
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Task
	for _, t := range b.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		out = append(out, *t)
	}

	sort.Slice(out, func(i, j int) bool {
		return seq(out[i].ID) < seq(out[j].ID)
	})

	return out
}

func seq(id string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(id, "task-"))
	return n
}

// transition applies fn to a non-terminal task and wakes waiters.
func (b *Board) transition(id string, fn func(*Task)) error {
	b.init()
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("session: task %q is in terminal state %q", id, t.Status)
	}

	fn(t)
	t.UpdatedAt = time.Now()
	if t.Status.Terminal() {
		delete(b.cancels, id)
	}
	b.notify()

	return nil
}

// Start marks a task as running.
func (b *Board) Start(id, msg string) error {
	return b.transition(id, func(t *Task) {
		t.Status = StatusRunning
		t.Message = msg
	})
}

// Progress updates the progress of a task, clamped to [0, 1].
func (b *Board) Progress(id string, p float64, msg string) error {
	return b.transition(id, func(t *Task) {
		t.Progress = min(max(p, 0), 1)
		if msg != "" {
			t.Message = msg
		}
	})
}

// Complete stores the result and marks the task completed.
func (b *Board) Complete(id string, result any) error {
	return b.transition(id, func(t *Task) {
		t.Status = StatusCompleted
		t.Progress = 1
		t.Result = result
	})
}

// Fail records err and marks the task failed.
func (b *Board) Fail(id string, err error) error {
	return b.transition(id, func(t *Task) {
		t.Status = StatusFailed
		if err != nil {
			t.Error = err.Error()
		}
	})
}

// Cancel marks the task cancelled and cancels its context if it was started
// by Run.
func (b *Board) Cancel(id string) error {
	b.init()
	b.mu.RLock()
	cancel := b.cancels[id]
	b.mu.RUnlock()

	err := b.transition(id, func(t *Task) {
		t.Status = StatusCancelled
	})
	if err == nil && cancel != nil {
		cancel()
	}
	return err
}

// Run creates a task of the given type and executes fn on its own goroutine.
// The returned ID can be polled with Get or waited on with Wait.
func (b *Board) Run(ctx context.Context, typ string, fn func(context.Context) (any, error)) string {
	id := b.Create(typ)
	ctx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	b.cancels[id] = cancel
	b.mu.Unlock()

	_ = b.Start(id, "running")

	go func() {
		defer cancel()

		res, err := fn(ctx)
		if err != nil {
			_ = b.Fail(id, err)
			return
		}
		_ = b.Complete(id, res)
	}()

	return id
}

// Wait blocks until the task reaches a terminal state or ctx is done.
func (b *Board) Wait(ctx context.Context, id string) (Task, error) {
	b.init()

	for {
		b.mu.RLock()
		t, ok := b.tasks[id]
		if !ok {
			b.mu.RUnlock()
			return Task{}, fmt.Errorf("%w: %q", ErrTaskNotFound, id)
		}

		if t.Status.Terminal() {
			cp := *t
			b.mu.RUnlock()
			return cp, nil
		}

		sig := b.signal
		b.mu.RUnlock()

		select {
		case <-ctx.Done():
			return Task{}, ctx.Err()
		case <-sig:
		}
	}
}
