// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
	"code.hybscloud.com/lfq"
	"golang.org/x/exp/slices"

	"code.hybscloud.com/engine/frame"
)

// inboxCapacity bounds the frames a session holds before its protocol
// receives them. A worker delivers at most one frame between steps, so a
// small ring covers the frames a protocol leaves unread while writing.
const inboxCapacity = 16

// sessionContext holds the transport of a single endpoint: an inbox of
// delivered frames and the writer towards the peer.
type sessionContext struct {
	inbox  lfq.SPSC[Message]
	write  func(t frame.TypeID, f frame.Frame) error
	closed *atomix.Uint32
}

// sessionDispatcher is the structural interface for session operations.
// DispatchSession is non-blocking: it returns iox.ErrWouldBlock at
// the I/O boundary when the endpoint cannot make progress.
type sessionDispatcher interface {
	DispatchSession(ctx *sessionContext) (kont.Resumed, error)
}

// sessionHandler implements kont.Handler for session effects, waiting
// past iox.ErrWouldBlock for Exec/ExecExpr.
type sessionHandler[R any] struct {
	ctx *sessionContext
}

// Dispatch implements kont.Handler via structural interface assertion.
func (h sessionHandler[R]) Dispatch(op kont.Operation) (kont.Resumed, bool) {
	sop, ok := op.(sessionDispatcher)
	if !ok {
		panic("session: unhandled effect in sessionHandler")
	}
	return dispatchWait(h.ctx, sop), true
}

// dispatchWait blocks until DispatchSession succeeds, backing off on
// iox.ErrWouldBlock.
func dispatchWait(ctx *sessionContext, sop sessionDispatcher) kont.Resumed {
	var bo iox.Backoff
	for {
		v, err := sop.DispatchSession(ctx)
		if err == nil {
			return v
		}
		bo.Wait()
	}
}

// Endpoint is one side of a session: frames delivered to it are received
// by its protocol, and frames its protocol writes go to the peer.
type Endpoint struct {
	ctx    sessionContext
	closed atomix.Uint32
	serial Serial
}

func newEndpoint(serial Serial) *Endpoint {
	ep := &Endpoint{serial: serial}
	ep.ctx.inbox.Init(inboxCapacity)
	ep.ctx.closed = &ep.closed
	return ep
}

// NewEndpoint returns an endpoint writing to writer. writer runs on the
// goroutine stepping the protocol and must not retain the frame.
func NewEndpoint(writer frame.Handler) *Endpoint {
	ep := newEndpoint(nextSerial())
	ep.ctx.write = func(t frame.TypeID, f frame.Frame) error {
		writer(t, f)
		return nil
	}
	return ep
}

// Serial returns the serial number assigned to this endpoint's session.
func (ep *Endpoint) Serial() Serial {
	return ep.serial
}

// Closed reports whether a protocol on this endpoint or its pipe peer
// has performed Close.
func (ep *Endpoint) Closed() bool {
	return ep.ctx.closed.Load() != 0
}

// Deliver copies f into the endpoint's inbox. It returns
// iox.ErrWouldBlock when the inbox is full. Only one goroutine may
// deliver to an endpoint.
func (ep *Endpoint) Deliver(t frame.TypeID, f frame.Frame) error {
	m := Message{Type: t, Frame: slices.Clone(f)}
	return ep.ctx.inbox.Enqueue(&m)
}

// Pipe creates a connected pair of endpoints: frames written by a
// protocol on one side are delivered to the other. Both sides share the
// serial and the closed state.
func Pipe() (*Endpoint, *Endpoint) {
	s := nextSerial()
	a, b := newEndpoint(s), newEndpoint(s)
	b.ctx.closed = a.ctx.closed
	a.ctx.write = b.Deliver
	b.ctx.write = a.Deliver
	return a, b
}
