// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"

	"code.hybscloud.com/engine/frame"
)

// Session drives a protocol from frames handed to Handle. It never
// blocks: each call delivers the frame and steps the protocol until it
// waits for the next one.
type Session[R any] struct {
	ep     *Endpoint
	susp   *kont.Suspension[R]
	result R
	done   bool
	onDone func(R)
}

// Start begins protocol on a new endpoint writing to writer and runs it
// up to its first Recv. onDone, if not nil, is called once with the
// result when the protocol completes.
func Start[R any](writer frame.Handler, protocol kont.Expr[R], onDone func(R)) *Session[R] {
	s := &Session[R]{ep: NewEndpoint(writer), onDone: onDone}
	s.result, s.susp = Step(protocol)
	s.pump()
	return s
}

// Handle delivers one frame to the protocol. Frames arriving after the
// protocol completed are ignored. Handle panics when the protocol leaves
// more frames unread than its inbox holds.
func (s *Session[R]) Handle(t frame.TypeID, f frame.Frame) {
	if s.done {
		return
	}
	for {
		err := s.ep.Deliver(t, f)
		if err == nil {
			break
		}
		if !iox.IsWouldBlock(err) || !s.pump() {
			panic("session: inbox full")
		}
	}
	s.pump()
}

// pump advances the protocol until it waits or completes, reporting
// whether any operation was dispatched.
func (s *Session[R]) pump() (progress bool) {
	for s.susp != nil {
		result, next, err := Advance(s.ep, s.susp)
		if err != nil {
			return progress
		}
		s.result, s.susp = result, next
		progress = true
	}
	if !s.done {
		s.done = true
		if s.onDone != nil {
			s.onDone(s.result)
		}
	}
	return progress
}

// Done reports whether the protocol has completed.
func (s *Session[R]) Done() bool { return s.done }

// Result returns the protocol result once Done.
func (s *Session[R]) Result() R { return s.result }

// Endpoint returns the endpoint the protocol runs on.
func (s *Session[R]) Endpoint() *Endpoint { return s.ep }
