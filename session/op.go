// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"code.hybscloud.com/kont"

	"code.hybscloud.com/engine/frame"
)

// Message is one frame delivered to a session. Frame is owned by the
// session and stays valid after the delivering handler returns.
type Message struct {
	Type  frame.TypeID
	Frame frame.Frame
}

// Terminal reports whether m ends the stream half it arrived on.
func (m Message) Terminal() bool {
	switch m.Type {
	case frame.TypeEnd, frame.TypeAbort, frame.TypeReset:
		return true
	}
	return false
}

// Write is the effect operation for writing a frame to the peer.
// Perform(Write{Type: t, Frame: f}) hands f to the endpoint's writer,
// which must copy it before returning.
type Write struct {
	kont.Phantom[struct{}]
	Type  frame.TypeID
	Frame frame.Frame
}

// DispatchSession handles Write on the session transport.
// Non-blocking: returns iox.ErrWouldBlock if the writer cannot accept f.
func (w Write) DispatchSession(ctx *sessionContext) (kont.Resumed, error) {
	if err := ctx.write(w.Type, w.Frame); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

// Recv is the effect operation for receiving the next frame.
// Perform(Recv{}) resumes with the oldest undelivered Message.
type Recv struct {
	kont.Phantom[Message]
}

// DispatchSession handles Recv on the session transport.
// Non-blocking: returns iox.ErrWouldBlock if the inbox is empty.
func (Recv) DispatchSession(ctx *sessionContext) (kont.Resumed, error) {
	m, err := ctx.inbox.Dequeue()
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Close is the effect operation for closing the session.
// Perform(Close{}) marks the endpoint closed. Never blocks.
type Close struct {
	kont.Phantom[struct{}]
}

// DispatchSession handles Close on the session transport.
func (Close) DispatchSession(ctx *sessionContext) (kont.Resumed, error) {
	ctx.closed.Add(1)
	return struct{}{}, nil
}

// Offer is the effect operation for receiving the next frame and
// branching on it: Left for a frame that keeps the stream open, Right
// for End, Abort or Reset.
type Offer struct {
	kont.Phantom[kont.Either[Message, Message]]
}

// DispatchSession handles Offer on the session transport.
// Non-blocking: returns iox.ErrWouldBlock if the inbox is empty.
func (Offer) DispatchSession(ctx *sessionContext) (kont.Resumed, error) {
	m, err := ctx.inbox.Dequeue()
	if err != nil {
		return nil, err
	}
	if m.Terminal() {
		return kont.Right[Message](m), nil
	}
	return kont.Left[Message, Message](m), nil
}
