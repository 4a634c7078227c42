package dht

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

type taskKind string

const (
	taskConnect    taskKind = "connect"
	taskDisconnect taskKind = "disconnect"
	taskFind       taskKind = "find"
	taskStore      taskKind = "store"
)

// task runs one blocking engine primitive on its own goroutine and reports back
// through the message channel. Every task pushes exactly one TaskExit, last.
type task struct {
	id     string
	kind   taskKind
	ch     *messageChannel
	logger *log.Logger

	body func(t *task)
	// abort builds the terminal failure pushed when the body panics before
	// producing its own terminal message.
	abort func(t *task, f *Failure) *message

	ctx      context.Context
	cancel   context.CancelFunc
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	// Owned by the task goroutine.
	terminalSent bool
}

func newTask(kind taskKind, ch *messageChannel, logger *log.Logger, body func(*task), abort func(*task, *Failure) *message) *task {
	ctx, cancel := context.WithCancel(context.Background())
	return &task{
		id:     fmt.Sprintf("%s-%s", kind, uuid.NewString()[:8]),
		kind:   kind,
		ch:     ch,
		logger: logger,
		body:   body,
		abort:  abort,
		ctx:    ctx,
		cancel: cancel,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// run starts the task goroutine.
func (t *task) run() {
	go func() {
		defer close(t.done)
		defer t.exit()
		defer func() {
			if r := recover(); r != nil {
				t.logger.Printf("[Task %s] FATAL: panic in task body: %v\n%s", t.id, r, debug.Stack())
				if !t.terminalSent {
					t.send(t.abort(t, failuref(CodeInternal, "internal error: %v", r)))
				}
			}
		}()
		t.body(t)
	}()
}

// send pushes messages produced by the body and wakes the controlling goroutine.
func (t *task) send(msgs ...*message) {
	for _, m := range msgs {
		if m.terminal() {
			t.terminalSent = true
		}
	}
	t.ch.push(msgs...)
	t.ch.signal()
}

func (t *task) exit() {
	t.cancel()
	t.ch.push(newTaskExit(t))
	t.ch.signal()
}

// requestQuit asks the task to stop. It is idempotent and never blocks.
func (t *task) requestQuit() {
	t.quitOnce.Do(func() {
		close(t.quit)
		t.cancel()
	})
}

func (t *task) quitting() bool {
	select {
	case <-t.quit:
		return true
	default:
		return false
	}
}

// sleep waits for d and returns false if the task was asked to quit meanwhile.
func (t *task) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-t.quit:
		return false
	}
}

// join blocks until the task goroutine has returned.
func (t *task) join() {
	<-t.done
}

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
