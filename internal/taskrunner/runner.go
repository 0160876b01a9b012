// Package taskrunner provides a FIFO serializer for units of asynchronous
// work. Units submitted to one Runner execute strictly one at a time in
// submission order; independent Runners never block each other. This is the
// only mutual-exclusion mechanism the sync core uses.
package taskrunner

import (
	"context"
	"errors"
	"fmt"
)

// queueSize ограничивает количество задач, ожидающих выполнения.
// Do блокируется на отправке, когда очередь заполнена.
const queueSize = 64

// Common runner errors
var (
	// ErrClosed indicates the runner no longer accepts work
	ErrClosed = errors.New("task runner is closed")

	// ErrNilTask indicates Do was called without a unit of work
	ErrNilTask = errors.New("task must not be nil")
)

// Task представляет одну единицу работы.
type Task func(ctx context.Context) error

type job struct {
	ctx    context.Context
	task   Task
	result chan error
}

// Runner выполняет задачи строго по одной, в порядке поступления.
type Runner struct {
	jobs chan job
	done chan struct{}
}

// New creates a runner and starts its worker goroutine.
func New() *Runner {
	r := &Runner{
		jobs: make(chan job, queueSize),
		done: make(chan struct{}),
	}
	go r.loop()
	return r
}

// Do enqueues a task and blocks until it has run. The task starts only
// after every previously submitted task has settled; a failing task does
// not prevent later tasks from running.
//
// The ctx passed here is handed to the task when it starts. Cancellation
// does not abort a task that has already begun; it only stops the caller
// from waiting in the submission phase.
func (r *Runner) Do(ctx context.Context, task Task) error {
	if task == nil {
		return ErrNilTask
	}

	j := job{ctx: ctx, task: task, result: make(chan error, 1)}

	select {
	case r.jobs <- j:
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.result:
		return err
	case <-r.done:
		// Закрытие гонок с выполнением: результат мог успеть прийти
		select {
		case err := <-j.result:
			return err
		default:
			return ErrClosed
		}
	}
}

// Close stops the runner. Tasks already started complete; tasks still
// queued are rejected with ErrClosed. Close is idempotent only through the
// owning Service, which calls it once.
func (r *Runner) Close() {
	close(r.done)
}

func (r *Runner) loop() {
	for {
		select {
		case j := <-r.jobs:
			j.result <- r.execute(j)
		case <-r.done:
			// Отклоняем все, что осталось в очереди
			for {
				select {
				case j := <-r.jobs:
					j.result <- ErrClosed
				default:
					return
				}
			}
		}
	}
}

// execute runs one task, converting a panic into an error so a broken
// unit never takes the worker down with it.
func (r *Runner) execute(j job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return j.task(j.ctx)
}
