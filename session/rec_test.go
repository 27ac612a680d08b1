// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session_test

import (
	"strconv"
	"testing"

	"code.hybscloud.com/kont"

	"code.hybscloud.com/engine/frame"
	"code.hybscloud.com/engine/session"
)

func TestLoopCounter(t *testing.T) {
	skipRace(t)
	client := session.Loop(0, func(i int) kont.Eff[kont.Either[int, string]] {
		if i >= 5 {
			return session.WriteThen(frame.TypeEnd, end(), session.CloseDone(kont.Right[int]("done")))
		}
		return session.WriteThen(frame.TypeData, data(strconv.Itoa(i)), kont.Pure(kont.Left[int, string](i+1)))
	})
	server := session.Loop(0, func(acc int) kont.Eff[kont.Either[int, int]] {
		return session.OfferBranch(
			func(m session.Message) kont.Eff[kont.Either[int, int]] {
				n, _ := strconv.Atoi(payload(m))
				return kont.Pure(kont.Left[int, int](acc + n))
			},
			func(session.Message) kont.Eff[kont.Either[int, int]] {
				return kont.Pure(kont.Right[int](acc))
			},
		)
	})

	clientResult, serverResult := session.Run[string, int](client, server)
	if clientResult != "done" {
		t.Fatalf("client got %q, want %q", clientResult, "done")
	}
	// 0+1+2+3+4 = 10
	if serverResult != 10 {
		t.Fatalf("server got %d, want 10", serverResult)
	}
}

func TestExprLoopPure(t *testing.T) {
	protocol := session.ExprLoop(0, func(i int) kont.Expr[kont.Either[int, int]] {
		if i == 1000 {
			return kont.ExprReturn(kont.Right[int](i))
		}
		return kont.ExprReturn(kont.Left[int, int](i + 1))
	})
	result, susp := session.Step[int](protocol)
	if susp != nil {
		t.Fatal("pure loop suspended")
	}
	if result != 1000 {
		t.Fatalf("got %d, want 1000", result)
	}
}

func TestExprLoopEcho(t *testing.T) {
	var got recorded
	protocol := session.ExprLoop(0, func(n int) kont.Expr[kont.Either[int, int]] {
		return session.ExprOfferBranch(
			func(m session.Message) kont.Expr[kont.Either[int, int]] {
				return session.ExprWriteThen(m.Type, m.Frame, kont.ExprReturn(kont.Left[int, int](n+1)))
			},
			func(session.Message) kont.Expr[kont.Either[int, int]] {
				return session.ExprCloseDone(kont.Right[int](n))
			},
		)
	})
	s := session.Start(got.handler, protocol, nil)
	for i := range 3 {
		s.Handle(frame.TypeData, data(strconv.Itoa(i)))
	}
	s.Handle(frame.TypeEnd, end())

	if !s.Done() || s.Result() != 3 {
		t.Fatalf("result got %d (done %v), want 3", s.Result(), s.Done())
	}
	if len(got.payloads) != 3 || got.payloads[2] != "2" {
		t.Fatalf("payloads got %v", got.payloads)
	}
}

func TestReflectReify(t *testing.T) {
	skipRace(t)
	expr := session.ExprWriteThen(frame.TypeData, data("r"), session.ExprCloseDone("expr"))
	server := session.RecvBind(func(m session.Message) kont.Eff[string] {
		return session.CloseDone(payload(m))
	})

	a, b := session.Run[string, string](session.Reflect(expr), server)
	if a != "expr" || b != "r" {
		t.Fatalf("got (%q, %q), want (expr, r)", a, b)
	}
}
