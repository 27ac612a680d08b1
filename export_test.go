// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"math"

	"code.hybscloud.com/engine/frame"
	"code.hybscloud.com/engine/stream"
)

// WriteFrame writes f into w's own ring as if sent by another shard.
func (w *Worker) WriteFrame(t frame.TypeID, f frame.Frame) error {
	return w.ring.Write(int32(t), f)
}

// ReadFrames consumes w's ring without dispatching.
func (w *Worker) ReadFrames(handler frame.Handler) int {
	return w.ring.Read(func(t int32, msg []byte) {
		handler(frame.TypeID(t), frame.Frame(msg))
	}, math.MaxInt)
}

func (w *Worker) StreamCount() int { return w.streams.len() }

func (w *Worker) ThrottleCount() int { return w.throttles.len() }

func (w *Worker) HasStream(streamID uint64) bool {
	return w.streams.get(stream.StreamIndex(streamID), stream.InstanceID(streamID)) != nil
}

// FutureCount returns the background tasks still tracked for cancellation.
func (w *Worker) FutureCount() int { return len(w.futures) }

// MarkRunning routes tasks through the queue without starting the loop.
func (w *Worker) MarkRunning() bool { return w.markRunning() }
