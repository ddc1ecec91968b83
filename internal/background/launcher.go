// Package background runs detached units of work whose outcome the caller
// never observes. Failures and panics end up in the structured log only.
package background

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/suPer8Hu/orion-chat/internal/logger"
)

// Op is a unit of work. A returned error is logged and dropped.
type Op func(ctx context.Context) error

// Task is the handle of a fired Op. Done is closed once the Op returned.
type Task struct {
	name string
	done chan struct{}
}

func (t *Task) Name() string { return t.name }

func (t *Task) Done() <-chan struct{} { return t.done }

// Finished returns a Task that is already done.
func Finished(name string) *Task {
	t := &Task{name: name, done: make(chan struct{})}
	close(t.done)
	return t
}

type Launcher struct {
	log     *logger.Logger
	timeout time.Duration

	// root is independent from any request context so fired work
	// outlives the request that launched it.
	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLauncher creates a launcher. timeout bounds every Op (0 means no bound).
func NewLauncher(log *logger.Logger, timeout time.Duration) *Launcher {
	if log == nil {
		log = logger.Nop()
	}
	root, cancel := context.WithCancel(context.Background())
	return &Launcher{
		log:     log.With("component", "background"),
		timeout: timeout,
		root:    root,
		cancel:  cancel,
	}
}

// Fire schedules op and returns immediately. kv are extra log fields
// attached to the task's log lines.
func (l *Launcher) Fire(name string, op Op, kv ...any) *Task {
	t := &Task{name: name, done: make(chan struct{})}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(t.done)
		log := l.log.With(append([]any{"task", name}, kv...)...)
		defer func() {
			if r := recover(); r != nil {
				log.Error("background task panicked", "panic", fmt.Sprint(r))
			}
		}()

		ctx := l.root
		if l.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, l.timeout)
			defer cancel()
		}

		start := time.Now()
		if err := op(ctx); err != nil {
			log.Error("background task failed", "cost", time.Since(start).String(), "error", err)
			return
		}
		log.Debug("background task done", "cost", time.Since(start).String())
	}()
	return t
}

// Wait blocks until every fired task returned or ctx expires. On expiry the
// remaining tasks are cancelled.
func (l *Launcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		l.cancel()
		return ctx.Err()
	}
}
