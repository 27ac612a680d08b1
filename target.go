// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"

	"code.hybscloud.com/engine/frame"
	"code.hybscloud.com/engine/internal/layout"
	"code.hybscloud.com/engine/stream"
)

// target writes frames into the ring of one remote shard and keeps the
// local dispatch tables consistent with what was written.
type target struct {
	w        *Worker
	index    int
	streams  *layout.Streams
	detached bool
	write    frame.Handler
}

func (w *Worker) newTarget(index int) (*target, error) {
	streams := w.streamsLayout
	if index != w.index {
		var err error
		if streams, err = layout.OpenStreams(w.config.Directory, index); err != nil {
			return nil, fmt.Errorf("engine: %s: open target %d: %w", w.name, index, err)
		}
	}
	t := &target{w: w, index: index, streams: streams}
	t.write = t.handleWrite
	return t, nil
}

func (t *target) handleWrite(typ frame.TypeID, f frame.Frame) {
	if t.detached {
		return
	}
	streamID := f.StreamID()
	if streamID != 0 {
		if stream.IsInitial(streamID) {
			t.writtenInitial(typ, f, streamID)
		} else {
			t.writtenReply(typ, f, streamID)
		}
	}
	if err := t.streams.Ring.Write(int32(typ), f); err != nil {
		panic(fmt.Errorf("%w: target %d: %v stream 0x%016x: %v", ErrStreamsBufferFull, t.index, typ, streamID, err))
	}
}

// writtenInitial: data frames on an initial stream are ours as client;
// throttle frames on it are ours as server.
func (t *target) writtenInitial(typ frame.TypeID, f frame.Frame, initialID uint64) {
	w := t.w
	instanceID := stream.InstanceID(initialID)
	if !typ.IsThrottle() {
		w.load.Entry(f.OriginID()).RecordInitial(typ, f)
		switch typ {
		case frame.TypeEnd, frame.TypeAbort:
			w.throttles.remove(stream.ThrottleIndex(initialID), instanceID)
		}
		return
	}
	if typ == frame.TypeReset {
		w.load.Entry(f.RoutedID()).RecordInitial(typ, f)
		w.streams.remove(stream.StreamIndex(initialID), instanceID)
		w.untrack(f.RoutedID(), initialID)
	}
}

// writtenReply: data frames on a reply are ours as server; throttle
// frames on it are ours as client.
func (t *target) writtenReply(typ frame.TypeID, f frame.Frame, replyID uint64) {
	w := t.w
	instanceID := stream.InstanceID(replyID)
	if !typ.IsThrottle() {
		w.load.Entry(f.RoutedID()).RecordReply(typ, f)
		switch typ {
		case frame.TypeEnd, frame.TypeAbort:
			w.throttles.remove(stream.ThrottleIndex(replyID), instanceID)
			w.untrack(f.RoutedID(), stream.InitialID(replyID))
		}
		return
	}
	if typ == frame.TypeReset {
		w.load.Entry(f.OriginID()).RecordReply(typ, f)
		w.streams.remove(stream.StreamIndex(replyID), instanceID)
		delete(w.correlations, replyID)
	}
}

func (t *target) detach() {
	t.detached = true
}

func (t *target) close() error {
	if t.index == t.w.index {
		return nil
	}
	return t.streams.Close()
}

// supplyWriter returns the writer of the shard at index.
func (w *Worker) supplyWriter(index int) frame.Handler {
	t := w.targets[index]
	if t == nil {
		var err error
		if t, err = w.newTarget(index); err != nil {
			panic(err)
		}
		w.targets[index] = t
	}
	return t.write
}
