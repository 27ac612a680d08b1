// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"fmt"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"golang.org/x/sync/errgroup"

	"code.hybscloud.com/engine/frame"
)

const (
	// NoCancelID is returned for signals that cannot be cancelled.
	NoCancelID int64 = -2
	// SignalTaskQueued wakes a worker to run one queued task.
	SignalTaskQueued int32 = 1
)

// Signaler schedules signals delivered on the worker's goroutine.
type Signaler interface {
	// SignalAt calls handler with signalID once deadline passes.
	SignalAt(deadline int64, signalID int32, handler func(signalID int32)) int64
	// SignalStreamAt delivers a Signal frame to the throttle of streamID
	// once deadline passes. Deadlines are epoch milliseconds.
	SignalStreamAt(deadline int64, originID, routedID, streamID, traceID uint64, signalID, contextID int32) int64
	// SignalTask runs task in the background and then delivers a Signal
	// frame carrying the returned cancel id to the throttle of streamID.
	SignalTask(task func(ctx context.Context), originID, routedID, streamID, traceID uint64, signalID, contextID int32) int64
	// SignalNow delivers a Signal frame without delay. Safe from any goroutine.
	SignalNow(originID, routedID, streamID, traceID uint64, signalID, contextID int32)
	SignalNowPayload(originID, routedID, streamID, traceID uint64, signalID, contextID int32, payload []byte)
	// Cancel cancels a timer or background task. It returns false when the
	// signal already fired, was cancelled, or cannot be cancelled.
	Cancel(cancelID int64) bool
}

var _ Signaler = (*Worker)(nil)

const (
	futurePending uint32 = iota
	futureRunning
	futureDone
	futureCancelled
)

// future tracks one background task.
type future struct {
	ctx   context.Context
	stop  context.CancelFunc
	state atomix.Uint32
}

func (f *future) start() bool {
	return f.state.CompareAndSwap(futurePending, futureRunning)
}

func (f *future) done() {
	f.state.CompareAndSwap(futureRunning, futureDone)
	f.stop()
}

func (f *future) cancel() bool {
	cancelled := f.state.CompareAndSwap(futurePending, futureCancelled) ||
		f.state.CompareAndSwap(futureRunning, futureCancelled)
	f.stop()
	return cancelled
}

// executor runs background tasks for every worker of an engine. Up to
// parallelism tasks run on the limited group; submit never blocks the
// worker, so the rest spill onto the unlimited overflow group.
type executor struct {
	limited  errgroup.Group
	overflow errgroup.Group
}

func newExecutor(parallelism int) *executor {
	e := &executor{}
	e.limited.SetLimit(parallelism)
	return e
}

func (e *executor) submit(job func()) {
	run := func() error {
		job()
		return nil
	}
	if !e.limited.TryGo(run) {
		e.overflow.Go(run)
	}
}

// close waits for every submitted task.
func (e *executor) close() {
	_ = e.limited.Wait()
	_ = e.overflow.Wait()
}

func (w *Worker) SignalAt(deadline int64, signalID int32, handler func(signalID int32)) int64 {
	return w.scheduleTimer(deadline, func() { handler(signalID) })
}

func (w *Worker) SignalStreamAt(deadline int64, originID, routedID, streamID, traceID uint64, signalID, contextID int32) int64 {
	return w.scheduleTimer(deadline, func() {
		w.mustSignal(originID, routedID, streamID, traceID, NoCancelID, signalID, contextID, nil)
	})
}

func (w *Worker) scheduleTimer(deadline int64, task func()) int64 {
	if w.wheel.TimerCount() == 0 {
		_ = w.wheel.ResetStartTime(w.now().UnixMilli())
	}
	timerID, err := w.wheel.ScheduleTimer(deadline)
	if err != nil {
		panic(fmt.Errorf("engine: %s: schedule timer: %w", w.name, err))
	}
	w.tasksByTimerID[timerID] = task
	return timerID
}

func (w *Worker) SignalTask(task func(ctx context.Context), originID, routedID, streamID, traceID uint64, signalID, contextID int32) int64 {
	if w.executor == nil {
		func() {
			defer w.mustSignal(originID, routedID, streamID, traceID, NoCancelID, signalID, contextID, nil)
			task(context.Background())
		}()
		return NoCancelID
	}
	w.nextFutureID -= 2
	cancelID := w.nextFutureID
	ctx, stop := context.WithCancel(context.Background())
	f := &future{ctx: ctx, stop: stop}
	w.futures[cancelID] = f
	w.inflight.Add(1)
	w.executor.submit(func() {
		defer w.inflight.Done()
		defer func() {
			if err := w.signal(originID, routedID, streamID, traceID, cancelID, signalID, contextID, nil); err != nil {
				w.logger.Error("task completion signal dropped", "stream", streamID, "cancel", cancelID, "error", err)
			}
		}()
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("task panicked", "stream", streamID, "cancel", cancelID, "panic", r)
			}
		}()
		if f.start() {
			defer f.done()
			task(f.ctx)
		}
	})
	return cancelID
}

func (w *Worker) SignalNow(originID, routedID, streamID, traceID uint64, signalID, contextID int32) {
	w.mustSignal(originID, routedID, streamID, traceID, NoCancelID, signalID, contextID, nil)
}

func (w *Worker) SignalNowPayload(originID, routedID, streamID, traceID uint64, signalID, contextID int32, payload []byte) {
	w.mustSignal(originID, routedID, streamID, traceID, NoCancelID, signalID, contextID, payload)
}

func (w *Worker) Cancel(cancelID int64) bool {
	switch {
	case cancelID >= 0:
		cancelled := w.wheel.CancelTimer(cancelID)
		delete(w.tasksByTimerID, cancelID)
		return cancelled
	case cancelID == NoCancelID:
		return false
	}
	f, ok := w.futures[cancelID]
	if !ok {
		return false
	}
	delete(w.futures, cancelID)
	return f.cancel()
}

var signalBuffers = sync.Pool{
	New: func() any {
		b := make([]byte, 0, frame.HeaderSize+64)
		return &b
	},
}

// signalAttempts bounds retries of a full own ring; off the worker
// goroutine the worker drains it meanwhile.
const signalAttempts = 64

func (w *Worker) mustSignal(originID, routedID, streamID, traceID uint64, cancelID int64, signalID, contextID int32, payload []byte) {
	if err := w.signal(originID, routedID, streamID, traceID, cancelID, signalID, contextID, payload); err != nil {
		panic(err)
	}
}

// signal writes a Signal frame into the worker's own ring.
func (w *Worker) signal(originID, routedID, streamID, traceID uint64, cancelID int64, signalID, contextID int32, payload []byte) error {
	buf := signalBuffers.Get().(*[]byte)
	defer signalBuffers.Put(buf)
	f := frame.AppendSignal((*buf)[:0], frame.Header{
		OriginID:  originID,
		RoutedID:  routedID,
		StreamID:  streamID,
		Timestamp: uint64(w.now().UnixNano()),
		TraceID:   traceID,
	}, cancelID, signalID, contextID, payload)
	*buf = f[:0]

	var bo iox.Backoff
	for range signalAttempts {
		err := w.ring.Write(int32(frame.TypeSignal), f)
		if err == nil {
			return nil
		}
		if !iox.IsWouldBlock(err) || w.state.Load() == workerClosed {
			return fmt.Errorf("%w: %s: signal %d stream 0x%016x: %v", ErrStreamsBufferFull, w.name, signalID, streamID, err)
		}
		bo.Wait()
	}
	return fmt.Errorf("%w: %s: signal %d stream 0x%016x", ErrStreamsBufferFull, w.name, signalID, streamID)
}
