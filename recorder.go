// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"code.hybscloud.com/engine/frame"
	"code.hybscloud.com/engine/stream"
)

// recorder is the two-stage metric pipeline of one stream direction:
// the origin binding's stage, then the routed binding's stage.
type recorder struct {
	origin frame.Handler
	routed frame.Handler
}

func (r recorder) empty() bool {
	return r.origin == nil && r.routed == nil
}

func (r recorder) record(t frame.TypeID, f frame.Frame) {
	if r.origin != nil {
		r.origin(t, f)
	}
	if r.routed != nil {
		r.routed(t, f)
	}
}

// fanout joins metric handlers; nil when there are none.
func fanout(handlers []frame.Handler) frame.Handler {
	switch len(handlers) {
	case 0:
		return nil
	case 1:
		return handlers[0]
	}
	return func(t frame.TypeID, f frame.Frame) {
		for _, h := range handlers {
			h(t, f)
		}
	}
}

// recorders composes the received and sent pipelines for a stream
// from originID to routedID.
func (w *Worker) recorders(originID, routedID uint64) (received, sent recorder) {
	if origin := w.registry.resolveBinding(originID); origin != nil {
		received.origin = origin.receivedOrigin
		sent.origin = origin.sentOrigin
	}
	if routed := w.registry.resolveBinding(routedID); routed != nil {
		received.routed = routed.receivedRouted
		sent.routed = routed.sentRouted
	}
	return received, sent
}

// recordBy routes frames of the initial half to received and of the
// reply half to sent before calling next.
func recordBy(next frame.Handler, received, sent recorder) frame.Handler {
	if received.empty() && sent.empty() {
		return next
	}
	return func(t frame.TypeID, f frame.Frame) {
		if stream.IsInitial(f.StreamID()) {
			received.record(t, f)
		} else {
			sent.record(t, f)
		}
		next(t, f)
	}
}
