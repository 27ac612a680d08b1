// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package session writes stream protocols as algebraic effect programs on
// [code.hybscloud.com/kont], stepped one frame at a time.
//
// A protocol receives the frames of its stream and writes frames to the
// peer through typed operations dispatched on an [Endpoint].
//
// # Architecture
//
//   - Transport: delivered frames are copied into a bounded lock-free SPSC inbox via [code.hybscloud.com/lfq]; writes go to a [frame.Handler] or, with [Pipe], to a peer endpoint.
//   - Non-blocking: Recv and Offer return [code.hybscloud.com/iox.ErrWouldBlock] when no frame is waiting.
//   - Execution: Cont-world (closure-based) and Expr-world (defunctionalized) evaluation.
//   - Error Handling: error operations short-circuit, returning [code.hybscloud.com/kont.Either].
//
// # API Topologies
//
//   - Operations: [Write], [Recv], [Offer], [Close].
//   - Cont-world: [WriteThen], [RecvBind], [OfferBranch], [CloseDone].
//   - Expr-world: [ExprWriteThen], [ExprRecvBind], [ExprOfferBranch], [ExprCloseDone]. Bridge via [Reify] and [Reflect].
//   - Recursive: [Loop] and [ExprLoop].
//
// # Integration
//
//   - Worker: [Start] returns a [Session] whose Handle method is the stream's frame handler. Each frame steps the protocol until it waits again, so a handler never blocks.
//   - Stepping: [Step] and [Advance] (or [StepError]/[AdvanceError]) evaluate one effect at a time.
//   - Blocking: [Exec], [Run] (and Error/Expr variants) wait past boundaries with adaptive backoff, for tests and tools.
//
// # Example
//
//	echo := session.Loop(struct{}{}, func(struct{}) kont.Eff[kont.Either[struct{}, struct{}]] {
//		return session.OfferBranch(
//			func(m session.Message) kont.Eff[kont.Either[struct{}, struct{}]] {
//				return session.WriteThen(m.Type, m.Frame, kont.Pure(kont.Left[struct{}, struct{}](struct{}{})))
//			},
//			func(m session.Message) kont.Eff[kont.Either[struct{}, struct{}]] {
//				return session.WriteThen(m.Type, m.Frame, session.CloseDone(kont.Right[struct{}](struct{}{})))
//			},
//		)
//	})
//	s := session.Start(replyTo, session.Reify(echo), nil)
//	handler := s.Handle
package session
