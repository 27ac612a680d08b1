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

func TestExprWriteThen(t *testing.T) {
	skipRace(t)
	client := session.ExprWriteThen(frame.TypeData, data("42"), session.ExprCloseDone("sent"))

	server := session.ExprRecvBind(func(m session.Message) kont.Expr[string] {
		return session.ExprCloseDone("got " + payload(m))
	})

	clientResult, serverResult := session.RunExpr[string, string](client, server)
	if clientResult != "sent" {
		t.Fatalf("client got %q, want %q", clientResult, "sent")
	}
	if serverResult != "got 42" {
		t.Fatalf("server got %q, want %q", serverResult, "got 42")
	}
}

func TestExprOfferBranch(t *testing.T) {
	skipRace(t)
	client := session.ExprWriteThen(frame.TypeData, data("x"),
		session.ExprWriteThen(frame.TypeEnd, end(), kont.ExprReturn(struct{}{})),
	)
	server := session.ExprLoop(0, func(n int) kont.Expr[kont.Either[int, int]] {
		return session.ExprOfferBranch(
			func(session.Message) kont.Expr[kont.Either[int, int]] {
				return kont.ExprReturn(kont.Left[int, int](n + 1))
			},
			func(session.Message) kont.Expr[kont.Either[int, int]] {
				return session.ExprCloseDone(kont.Right[int](n))
			},
		)
	})

	_, got := session.RunExpr[struct{}, int](client, server)
	if got != 1 {
		t.Fatalf("server counted %d open frames, want 1", got)
	}
}

func TestFusedProtocol(t *testing.T) {
	skipRace(t)
	// Full protocol using only fused API
	client := session.WriteThen(frame.TypeData, data("100"),
		session.WriteThen(frame.TypeData, data("hello"),
			session.RecvBind(func(m session.Message) kont.Eff[string] {
				return session.CloseDone(payload(m))
			}),
		),
	)

	server := session.RecvBind(func(n session.Message) kont.Eff[string] {
		return session.RecvBind(func(s session.Message) kont.Eff[string] {
			return session.WriteThen(frame.TypeData, data(payload(n)+payload(n)),
				session.CloseDone(payload(s)+":"+payload(n)),
			)
		})
	})

	clientResult, serverResult := session.Run[string, string](client, server)
	if clientResult != "100100" {
		t.Fatalf("client got %q, want %q", clientResult, "100100")
	}
	if serverResult != "hello:100" {
		t.Fatalf("server got %q, want %q", serverResult, "hello:100")
	}
}
