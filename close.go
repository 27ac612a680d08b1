// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"code.hybscloud.com/iox"

	"code.hybscloud.com/engine/stream"
)

// Run drives DoWork until ctx is done, idling with a backoff when there
// is no work, and then closes the worker. Run locks its goroutine to an
// OS thread for the lifetime of the loop.
func (w *Worker) Run(ctx context.Context) (err error) {
	if !w.markRunning() {
		return fmt.Errorf("%w: %s", ErrClosed, w.name)
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer func() {
		err = errors.Join(err, w.Close())
	}()

	var idle iox.Backoff
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		n, err := w.DoWork()
		if err != nil {
			w.logger.Error("worker failed", "error", err)
			return err
		}
		if n == 0 {
			idle.Wait()
		} else {
			idle.Reset()
		}
	}
}

// markRunning routes Attach and Detach through the task queue from now
// on. It reports false once the worker is closed.
func (w *Worker) markRunning() bool {
	w.taskMu.Lock()
	defer w.taskMu.Unlock()
	w.state.CompareAndSwap(workerIdle, workerRunning)
	return w.state.Load() == workerRunning
}

// Close tears the worker down: drain the ring when configured, detach
// every namespace, close the poller, abort every stream still bound when
// synthetic abort is enabled, then release targets and layouts. With
// synthetic abort, resources still acquired afterwards fail with a
// *LeakError.
func (w *Worker) Close() error {
	w.taskMu.Lock()
	if w.state.Load() == workerClosed {
		w.taskMu.Unlock()
		return nil
	}
	w.state.Store(workerClosed)
	w.taskMu.Unlock()

	var errs []error
	if w.config.DrainOnClose {
		errs = append(errs, w.drain())
	}
	errs = append(errs, w.guard("detach", w.registry.detachAll))
	errs = append(errs, w.poller.Close())

	var leak *LeakError
	if w.config.SyntheticAbort {
		errs = append(errs, w.abortAll())
		leak = &LeakError{Worker: w.name, Buffers: w.pool.AcquiredSlots(), Creditors: w.creditor.Acquired()}
		for _, d := range w.debitors {
			leak.Debitors += d.Acquired()
		}
	}
	w.failQueuedTasks()

	for id, f := range w.futures {
		f.cancel()
		delete(w.futures, id)
	}
	w.inflight.Wait()
	w.wheel.Clear()
	clear(w.tasksByTimerID)

	for _, t := range w.targets {
		if t != nil {
			t.detach()
		}
	}
	for i, t := range w.targets {
		if t != nil {
			errs = append(errs, t.close())
			w.targets[i] = nil
		}
	}
	errs = append(errs, w.closeLayouts())

	if leak != nil && (leak.Buffers != 0 || leak.Creditors != 0 || leak.Debitors != 0) {
		w.logger.Error("resources not released", "buffers", leak.Buffers, "creditors", leak.Creditors, "debitors", leak.Debitors)
		errs = append(errs, leak)
	}
	return errors.Join(errs...)
}

// drain reads frames until the ring is empty or DrainTimeout elapses.
func (w *Worker) drain() error {
	return w.guard("drain", func() {
		deadline := time.Now().Add(w.config.DrainTimeout)
		var idle iox.Backoff
		for w.ring.ConsumerPosition() < w.ring.ProducerPosition() && time.Now().Before(deadline) {
			if w.ring.Read(w.readHandler, w.config.ReadLimit) == 0 {
				idle.Wait()
			} else {
				idle.Reset()
			}
		}
	})
}

// abortAll delivers a synthetic Abort to every bound stream and a
// synthetic Reset to every bound throttle, unbinding each first.
func (w *Worker) abortAll() error {
	var errs []error
	for index, m := range w.streams {
		for m.len() != 0 {
			instanceID, handler, _ := m.pop()
			streamID := stream.FromIndex(w.index, index, instanceID)
			w.lastStreamID = streamID
			errs = append(errs, w.guard("abort", func() { w.doSyntheticAbort(streamID, handler) }))
		}
	}
	for index, m := range w.throttles {
		for m.len() != 0 {
			instanceID, handler, _ := m.pop()
			streamID := stream.FromIndex(index, w.index, instanceID)
			w.lastStreamID = streamID
			errs = append(errs, w.guard("reset", func() { w.doSyntheticReset(streamID, handler) }))
		}
	}
	clear(w.correlations)
	clear(w.streamSets)
	return errors.Join(errs...)
}

// guard runs fn, turning a panic into an error so teardown continues.
func (w *Worker) guard(step string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: %s: %s [stream 0x%016x]: %v", w.name, step, w.lastStreamID, r)
		}
	}()
	fn()
	return nil
}

func (w *Worker) closeLayouts() error {
	var errs []error
	for owner, d := range w.debitors {
		errs = append(errs, d.Close())
		delete(w.debitors, owner)
	}
	if w.creditor != nil {
		errs = append(errs, w.creditor.Close())
	}
	if w.pool != nil {
		errs = append(errs, w.pool.Close())
	}
	if w.budgetsLayout != nil {
		errs = append(errs, w.budgetsLayout.Close())
	}
	if w.streamsLayout != nil {
		errs = append(errs, w.streamsLayout.Close())
	}
	return errors.Join(errs...)
}
