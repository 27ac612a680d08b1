// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"
	"math"
	"math/bits"

	"code.hybscloud.com/engine/budget"
	"code.hybscloud.com/engine/frame"
	"code.hybscloud.com/engine/stream"
)

// DoWork runs one duty cycle: poll I/O, expire due timers, then read
// frames from the ring. It returns the amount of work done. A panic
// escaping a handler is returned as an error naming the last stream.
func (w *Worker) DoWork() (workDone int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: %s [stream 0x%016x]: %v", w.name, w.lastStreamID, r)
		}
	}()

	n, err := w.poller.DoWork()
	if err != nil {
		return workDone, fmt.Errorf("engine: %s: poll: %w", w.name, err)
	}
	workDone += n

	if w.wheel.TimerCount() != 0 {
		now := w.now().UnixMilli()
		limit := w.config.ExpireLimit
		for w.wheel.CurrentTickTime() <= now && limit > 0 {
			expired := w.wheel.Poll(now, w.expireHandler, limit)
			workDone += expired
			limit -= expired
		}
	}

	workDone += w.ring.Read(w.readHandler, w.config.ReadLimit)
	return workDone, nil
}

func (w *Worker) handleExpire(_ int64, timerID int64) bool {
	task := w.tasksByTimerID[timerID]
	delete(w.tasksByTimerID, timerID)
	if task != nil {
		task()
	}
	return true
}

func (w *Worker) handleRead(typeID int32, msg []byte) {
	t := frame.TypeID(typeID)
	f := frame.Frame(msg)
	streamID := f.StreamID()
	w.lastStreamID = streamID

	switch {
	case streamID == 0:
		w.handleSystem(t, f)
	case t.IsThrottle():
		w.handleThrottle(t, f, streamID)
	case stream.IsInitial(streamID):
		w.handleReadInitial(t, f, streamID)
	default:
		w.handleReadReply(t, f, streamID)
	}
}

func (w *Worker) handleSystem(t frame.TypeID, f frame.Frame) {
	switch t {
	case frame.TypeFlush:
		flush := frame.Flush{Frame: f}
		budgetID := flush.BudgetID()
		if d := w.debitors[budget.OwnerIndex(budgetID)]; d != nil {
			d.Flush(f.TraceID(), budgetID)
		}
	case frame.TypeWindow:
		window := frame.Window{Frame: f}
		budgetID := window.BudgetID()
		credit := int64(window.Maximum())
		w.creditor.CreditByID(f.TraceID(), budgetID, credit)
		if parentID := w.creditor.ParentBudgetID(budgetID); parentID != budget.NoBudgetID {
			w.doSystemWindowIfNecessary(f.TraceID(), parentID, int32(credit))
		}
	case frame.TypeSignal:
		if (frame.Signal{Frame: f}).SignalID() == SignalTaskQueued {
			w.runQueuedTask()
		}
	}
}

func (w *Worker) handleReadInitial(t frame.TypeID, f frame.Frame, initialID uint64) {
	index, instanceID := stream.StreamIndex(initialID), stream.InstanceID(initialID)
	handler := w.streams.get(index, instanceID)
	if handler == nil {
		w.handleDefaultReadInitial(t, f, initialID)
		return
	}
	w.load.Entry(f.RoutedID()).RecordInitial(t, f)
	switch t {
	case frame.TypeBegin, frame.TypeData, frame.TypeFlush:
		handler(t, f)
	case frame.TypeEnd, frame.TypeAbort:
		handler(t, f)
		w.streams.remove(index, instanceID)
		w.untrack(f.RoutedID(), initialID)
	default:
		w.doReset(f)
	}
}

func (w *Worker) handleDefaultReadInitial(t frame.TypeID, f frame.Frame, initialID uint64) {
	switch t {
	case frame.TypeBegin:
		w.handleBeginInitial(t, f, initialID)
	case frame.TypeData:
		w.handleDropped(t, f)
	}
}

// handleBeginInitial originates a stream through the binding routed by
// the Begin. Both the stream and the throttle of its reply are bound
// before the Begin is delivered.
func (w *Worker) handleBeginInitial(t frame.TypeID, f frame.Frame, initialID uint64) {
	originID, routedID := f.OriginID(), f.RoutedID()
	var handler frame.Handler
	if binding := w.registry.resolveBinding(routedID); binding != nil {
		received, sent := w.recorders(originID, routedID)
		replyTo := recordBy(w.supplyReplyTo(initialID), received, sent)
		if h := binding.handler.NewStream(t, f, replyTo); h != nil {
			handler = recordBy(h, received, sent)
		}
	}
	if handler == nil {
		w.doReset(f)
		return
	}
	replyID := stream.ReplyID(initialID)
	w.streams.put(stream.StreamIndex(initialID), stream.InstanceID(initialID), handler)
	w.throttles.put(stream.ThrottleIndex(replyID), stream.InstanceID(replyID), handler)
	w.track(routedID, initialID)
	w.load.Entry(routedID).RecordInitial(t, f)
	handler(t, f)
}

func (w *Worker) handleReadReply(t frame.TypeID, f frame.Frame, replyID uint64) {
	index, instanceID := stream.StreamIndex(replyID), stream.InstanceID(replyID)
	handler := w.streams.get(index, instanceID)
	if handler == nil {
		w.handleDefaultReadReply(t, f, replyID)
		return
	}
	w.load.Entry(f.OriginID()).RecordReply(t, f)
	switch t {
	case frame.TypeBegin, frame.TypeData, frame.TypeFlush:
		handler(t, f)
	case frame.TypeEnd, frame.TypeAbort:
		handler(t, f)
		w.streams.remove(index, instanceID)
	default:
		w.doReset(f)
	}
}

// handleDefaultReadReply binds a reply to the sender that opened its
// initial stream. Begin claims the correlation; Flush only peeks. Either
// one is reset when nothing correlates.
func (w *Worker) handleDefaultReadReply(t frame.TypeID, f frame.Frame, replyID uint64) {
	switch t {
	case frame.TypeBegin:
		handler := w.correlations[replyID]
		delete(w.correlations, replyID)
		if handler == nil {
			w.doReset(f)
			return
		}
		w.streams.put(stream.StreamIndex(replyID), stream.InstanceID(replyID), handler)
		w.load.Entry(f.OriginID()).RecordReply(t, f)
		handler(t, f)
	case frame.TypeFlush:
		handler := w.correlations[replyID]
		if handler == nil {
			w.doReset(f)
			return
		}
		handler(t, f)
	case frame.TypeData:
		w.handleDropped(t, f)
	}
}

func (w *Worker) handleThrottle(t frame.TypeID, f frame.Frame, streamID uint64) {
	if t == frame.TypeSignal {
		if cancelID := (frame.Signal{Frame: f}).CancelID(); cancelID != NoCancelID {
			delete(w.futures, cancelID)
		}
	}
	index, instanceID := stream.ThrottleIndex(streamID), stream.InstanceID(streamID)
	handler := w.throttles.get(index, instanceID)
	if handler == nil {
		return
	}
	switch t {
	case frame.TypeWindow, frame.TypeSignal, frame.TypeChallenge:
		handler(t, f)
	case frame.TypeReset:
		handler(t, f)
		w.throttles.remove(index, instanceID)
		if !stream.IsInitial(streamID) {
			w.untrack(f.RoutedID(), stream.InitialID(streamID))
		}
	}
}

// handleDropped refunds the budget reserved by a discarded Data frame.
func (w *Worker) handleDropped(t frame.TypeID, f frame.Frame) {
	if t == frame.TypeData {
		data := frame.Data{Frame: f}
		w.doSystemWindowIfNecessary(f.TraceID(), data.BudgetID(), data.Reserved())
	}
}

func (w *Worker) doSystemWindowIfNecessary(traceID, budgetID uint64, reserved int32) {
	if budgetID == budget.NoBudgetID || reserved <= 0 {
		return
	}
	window := frame.AppendWindow(w.scratch[:0], frame.Header{
		Maximum: reserved,
		TraceID: traceID,
	}, budgetID, 0, 0, 0)
	w.supplyWriter(budget.OwnerIndex(budgetID))(frame.TypeWindow, window)
}

// doSystemFlush wakes every shard watching budgetID.
func (w *Worker) doSystemFlush(traceID, budgetID, watchers uint64) {
	for watchers != 0 {
		index := bits.TrailingZeros64(watchers)
		watchers &^= 1 << uint(index)
		if w.workersMask&(1<<uint(index)) == 0 {
			continue
		}
		flush := frame.AppendFlush(w.scratch[:0], frame.Header{TraceID: traceID}, budgetID, 0, nil)
		w.supplyWriter(index)(frame.TypeFlush, flush)
	}
}

// doReset refuses the stream of f.
func (w *Worker) doReset(f frame.Frame) {
	streamID := f.StreamID()
	reset := frame.AppendReset(w.scratch[:0], frame.Header{
		OriginID:    f.OriginID(),
		RoutedID:    f.RoutedID(),
		StreamID:    streamID,
		Sequence:    f.Sequence(),
		Acknowledge: f.Acknowledge(),
		Maximum:     f.Maximum(),
		TraceID:     f.TraceID(),
	}, nil)
	w.supplyReplyTo(streamID)(frame.TypeReset, reset)
}

func (w *Worker) doSyntheticAbort(streamID uint64, handler frame.Handler) {
	abort := frame.AppendAbort(nil, frame.Header{
		StreamID: streamID,
		Sequence: math.MaxInt64,
		TraceID:  w.SupplyTraceID(),
	}, nil)
	handler(frame.TypeAbort, abort)
}

func (w *Worker) doSyntheticReset(streamID uint64, handler frame.Handler) {
	reset := frame.AppendReset(nil, frame.Header{
		StreamID: streamID,
		Sequence: math.MaxInt64,
		TraceID:  w.SupplyTraceID(),
	}, nil)
	handler(frame.TypeReset, reset)
}
