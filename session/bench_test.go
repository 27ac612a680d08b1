// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session_test

import (
	"testing"

	"code.hybscloud.com/kont"

	"code.hybscloud.com/engine/frame"
	"code.hybscloud.com/engine/session"
)

// BenchmarkHandleEcho measures one Data frame through a started echo.
func BenchmarkHandleEcho(b *testing.B) {
	b.ReportAllocs()
	s := session.Start(func(frame.TypeID, frame.Frame) {}, session.Reify(echo()), nil)
	f := data("payload")
	for b.Loop() {
		s.Handle(frame.TypeData, f)
	}
}

// BenchmarkRunWriteRecv measures a single write/recv round-trip over a pipe.
func BenchmarkRunWriteRecv(b *testing.B) {
	skipRace(b)
	b.ReportAllocs()
	f := data("42")
	for b.Loop() {
		sender := session.WriteThen(frame.TypeData, f, session.CloseDone(struct{}{}))
		receiver := session.RecvBind(func(m session.Message) kont.Eff[int] {
			return session.CloseDone(len(m.Frame))
		})
		session.Run[struct{}, int](sender, receiver)
	}
}

// BenchmarkExprLoopEcho measures an Expr-world loop echoing frames.
func BenchmarkExprLoopEcho(b *testing.B) {
	b.ReportAllocs()
	protocol := session.ExprLoop(0, func(n int) kont.Expr[kont.Either[int, int]] {
		return session.ExprRecvBind(func(m session.Message) kont.Expr[kont.Either[int, int]] {
			return session.ExprWriteThen(m.Type, m.Frame, kont.ExprReturn(kont.Left[int, int](n+1)))
		})
	})
	s := session.Start(func(frame.TypeID, frame.Frame) {}, protocol, nil)
	f := data("payload")
	for b.Loop() {
		s.Handle(frame.TypeData, f)
	}
}
