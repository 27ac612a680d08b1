// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"fmt"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
)

const (
	taskPending uint32 = iota
	taskRunning
	taskDone
)

// Task is the pending result of an operation run on a worker goroutine.
// A Task runs at most once; a failed task is skipped if later dequeued.
type Task struct {
	run   func() error
	done  chan struct{}
	err   error
	state atomix.Uint32
}

func newTask(run func() error) *Task {
	return &Task{run: run, done: make(chan struct{})}
}

func (t *Task) execute() {
	if !t.state.CompareAndSwap(taskPending, taskRunning) {
		return
	}
	defer close(t.done)
	defer t.state.Store(taskDone)
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("engine: task panicked: %v", r)
		}
	}()
	t.err = t.run()
}

func (t *Task) fail(err error) {
	if !t.state.CompareAndSwap(taskPending, taskDone) {
		return
	}
	t.err = err
	close(t.done)
}

// Done is closed once the task has run.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task result; valid once Done is closed.
func (t *Task) Err() error { return t.err }

// Wait blocks until the task has run or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submit runs task inline while the worker loop is not running, otherwise
// hands it to the worker through the task queue and wakes the worker.
func (w *Worker) submit(task *Task) *Task {
	w.taskMu.Lock()
	defer w.taskMu.Unlock()
	switch w.state.Load() {
	case workerClosed:
		task.fail(fmt.Errorf("%w: %s", ErrClosed, w.name))
		return task
	case workerIdle:
		task.execute()
		return task
	}
	var bo iox.Backoff
	for {
		err := w.taskQueue.Enqueue(&task)
		if err == nil {
			break
		}
		if !iox.IsWouldBlock(err) || w.state.Load() != workerRunning {
			task.fail(fmt.Errorf("engine: %s: enqueue task: %w", w.name, err))
			return task
		}
		bo.Wait()
	}
	if err := w.signal(0, 0, 0, 0, NoCancelID, SignalTaskQueued, 0, nil); err != nil {
		w.logger.Error("task wakeup signal dropped", "worker", w.name, "error", err)
		task.fail(fmt.Errorf("engine: %s: wake worker: %w", w.name, err))
	}
	return task
}

// runQueuedTask runs one task on SignalTaskQueued.
func (w *Worker) runQueuedTask() {
	task, err := w.taskQueue.Dequeue()
	if err != nil {
		return
	}
	task.execute()
}

// failQueuedTasks fails the tasks still queued when the worker closes.
func (w *Worker) failQueuedTasks() {
	for {
		task, err := w.taskQueue.Dequeue()
		if err != nil {
			return
		}
		task.fail(fmt.Errorf("%w: %s", ErrClosed, w.name))
	}
}
