// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package echo

import (
	"log/slog"

	"code.hybscloud.com/kont"

	"code.hybscloud.com/engine"
	"code.hybscloud.com/engine/bufferpool"
	"code.hybscloud.com/engine/frame"
	"code.hybscloud.com/engine/namespace"
	"code.hybscloud.com/engine/session"
)

// TimeoutSignal is the signal id of the idle timeout of a stream.
const TimeoutSignal int32 = 1

type handler struct {
	ctx     engine.Context
	config  *namespace.BindingConfig
	options options
	logger  *slog.Logger
	streams int
}

func (h *handler) NewStream(t frame.TypeID, begin frame.Frame, replyTo frame.Handler) frame.Handler {
	if t != frame.TypeBegin {
		return nil
	}
	initialID := begin.StreamID()
	s := &stream{
		h:         h,
		initialID: initialID,
		replyID:   h.ctx.SupplyReplyID(initialID),
		originID:  begin.OriginID(),
		routedID:  begin.RoutedID(),
		slot:      bufferpool.NoSlot,
		timer:     engine.NoCancelID,
	}
	if h.options.buffered {
		if s.slot = h.ctx.BufferPool().Acquire(initialID); s.slot == bufferpool.NoSlot {
			h.logger.Warn("no buffer slot", "stream", initialID)
			return nil
		}
	}
	h.streams++
	return session.Start(replyTo, session.Reify(s.protocol()), s.closed).Handle
}

type step = kont.Either[struct{}, frame.TypeID]

// stream is the state of one echoed stream. Its protocol ends with the
// type of the frame that terminated the stream.
type stream struct {
	h         *handler
	initialID uint64
	replyID   uint64
	originID  uint64
	routedID  uint64
	slot      int
	timer     int64
	active    int64
}

func (s *stream) protocol() kont.Eff[frame.TypeID] {
	return session.RecvBind(func(m session.Message) kont.Eff[frame.TypeID] {
		begin := frame.Begin{Frame: m.Frame}
		s.touch()
		if timeout := s.h.options.timeout; timeout > 0 {
			s.schedule(m.Frame, s.active+timeout.Milliseconds())
		}
		reply := frame.AppendBegin(s.buffer(), s.header(s.replyID, m.Frame), begin.Affinity(), begin.Extension())
		return session.WriteThen(frame.TypeBegin, reply, session.Loop(struct{}{}, s.step))
	})
}

func (s *stream) step(struct{}) kont.Eff[step] {
	return session.OfferBranch(s.onOpen, s.onTerminal)
}

var next = kont.Pure(kont.Left[struct{}, frame.TypeID](struct{}{}))

func (s *stream) onOpen(m session.Message) kont.Eff[step] {
	switch m.Type {
	case frame.TypeData:
		s.touch()
		data := frame.Data{Frame: m.Frame}
		payload := data.Payload()
		if s.slot != bufferpool.NoSlot {
			buf := s.h.ctx.BufferPool().Buffer(s.slot)
			if len(payload) > len(buf) {
				return s.fail(m)
			}
			payload = buf[:copy(buf, payload)]
		}
		reply := frame.AppendData(s.buffer(), s.header(s.replyID, m.Frame),
			data.BudgetID(), data.Reserved(), data.Flags(), payload, data.Extension())
		return session.WriteThen(frame.TypeData, reply, next)
	case frame.TypeFlush:
		flush := frame.Flush{Frame: m.Frame}
		reply := frame.AppendFlush(s.buffer(), s.header(s.replyID, m.Frame), flush.BudgetID(), flush.Reserved(), flush.Extension())
		return session.WriteThen(frame.TypeFlush, reply, next)
	case frame.TypeWindow:
		window := frame.Window{Frame: m.Frame}
		credit := frame.AppendWindow(s.buffer(), s.header(s.initialID, m.Frame),
			window.BudgetID(), window.Padding(), window.Minimum(), window.Capabilities())
		return session.WriteThen(frame.TypeWindow, credit, next)
	case frame.TypeSignal:
		if (frame.Signal{Frame: m.Frame}).SignalID() == TimeoutSignal {
			s.timer = engine.NoCancelID
			deadline := s.active + s.h.options.timeout.Milliseconds()
			if s.h.ctx.Now().UnixMilli() >= deadline {
				s.h.logger.Debug("stream timed out", "stream", s.initialID)
				return s.fail(m)
			}
			s.schedule(m.Frame, deadline)
		}
	}
	return next
}

func (s *stream) onTerminal(m session.Message) kont.Eff[step] {
	var t frame.TypeID
	var f frame.Frame
	switch m.Type {
	case frame.TypeEnd:
		t, f = frame.TypeEnd, frame.AppendEnd(s.buffer(), s.header(s.replyID, m.Frame), frame.End{Frame: m.Frame}.Extension())
	case frame.TypeAbort:
		t, f = frame.TypeAbort, frame.AppendAbort(s.buffer(), s.header(s.replyID, m.Frame), frame.Abort{Frame: m.Frame}.Extension())
	default:
		t, f = frame.TypeReset, frame.AppendReset(s.buffer(), s.header(s.initialID, m.Frame), frame.Reset{Frame: m.Frame}.Extension())
	}
	return session.WriteThen(t, f, session.CloseDone(kont.Right[struct{}](m.Type)))
}

// fail resets the initial stream and aborts the reply.
func (s *stream) fail(m session.Message) kont.Eff[step] {
	reset := frame.AppendReset(s.buffer(), s.header(s.initialID, m.Frame), nil)
	return session.WriteThen(frame.TypeReset, reset, later(func() kont.Eff[step] {
		abort := frame.AppendAbort(s.buffer(), s.header(s.replyID, m.Frame), nil)
		return session.WriteThen(frame.TypeAbort, abort, session.CloseDone(kont.Right[struct{}](frame.TypeAbort)))
	}))
}

// later builds the rest of a protocol only when it runs, so consecutive
// writes can share the write buffer.
func later[B any](build func() kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Pure(struct{}{}), func(struct{}) kont.Eff[B] { return build() })
}

func (s *stream) closed(result frame.TypeID) {
	if s.slot != bufferpool.NoSlot {
		s.h.ctx.BufferPool().Release(s.slot)
		s.slot = bufferpool.NoSlot
	}
	if s.timer != engine.NoCancelID {
		s.h.ctx.Signaler().Cancel(s.timer)
		s.timer = engine.NoCancelID
	}
	s.h.streams--
	s.h.logger.Debug("stream closed", "stream", s.initialID, "by", result)
}

func (s *stream) touch() { s.active = s.h.ctx.Now().UnixMilli() }

func (s *stream) schedule(f frame.Frame, deadline int64) {
	s.timer = s.h.ctx.Signaler().SignalStreamAt(deadline, s.originID, s.routedID, s.replyID, f.TraceID(), TimeoutSignal, 0)
}

func (s *stream) buffer() []byte { return s.h.ctx.WriteBuffer()[:0] }

// header mirrors the header of f onto streamID. Synthetic frames carry
// no route, so the route of the Begin is kept.
func (s *stream) header(streamID uint64, f frame.Frame) frame.Header {
	h := f.Header()
	h.OriginID, h.RoutedID, h.StreamID = s.originID, s.routedID, streamID
	return h
}
