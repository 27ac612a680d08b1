// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session_test

import (
	"errors"
	"testing"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"

	"code.hybscloud.com/engine/frame"
	"code.hybscloud.com/engine/session"
)

func TestStepInspectOperations(t *testing.T) {
	protocol := session.ExprWriteThen(frame.TypeData, data("x"), session.ExprCloseDone[struct{}](struct{}{}))

	_, susp := session.Step[struct{}](protocol)
	if susp == nil {
		t.Fatal("expected suspension for Write")
	}
	w, ok := susp.Op().(session.Write)
	if !ok {
		t.Fatalf("expected Write, got %T", susp.Op())
	}
	if w.Type != frame.TypeData {
		t.Fatalf("Write type got %v, want %v", w.Type, frame.TypeData)
	}

	var got recorded
	ep := session.NewEndpoint(got.handler)
	_, susp, err := session.Advance(ep, susp)
	if err != nil {
		t.Fatalf("Advance Write error: %v", err)
	}
	if _, ok := susp.Op().(session.Close); !ok {
		t.Fatalf("expected Close, got %T", susp.Op())
	}
	_, susp, err = session.Advance(ep, susp)
	if err != nil {
		t.Fatalf("Advance Close error: %v", err)
	}
	if susp != nil {
		t.Fatal("expected nil suspension after Close")
	}
	if len(got.payloads) != 1 || got.payloads[0] != "x" {
		t.Fatalf("payloads got %v, want [x]", got.payloads)
	}
}

func TestAdvanceWouldBlock(t *testing.T) {
	protocol := session.ExprRecvBind(func(m session.Message) kont.Expr[string] {
		return kont.ExprReturn(payload(m))
	})
	ep := session.NewEndpoint(func(frame.TypeID, frame.Frame) {})

	_, susp := session.Step[string](protocol)
	_, again, err := session.Advance(ep, susp)
	if !errors.Is(err, iox.ErrWouldBlock) {
		t.Fatalf("Advance on empty inbox got %v, want ErrWouldBlock", err)
	}
	if again != susp {
		t.Fatal("suspension consumed on ErrWouldBlock")
	}

	if err := ep.Deliver(frame.TypeData, data("later")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	result, next, err := session.Advance(ep, again)
	if err != nil || next != nil {
		t.Fatalf("Advance after Deliver got (%v, %v)", next, err)
	}
	if result != "later" {
		t.Fatalf("got %q, want %q", result, "later")
	}
}

func TestStepAdvanceAcrossGoroutines(t *testing.T) {
	skipRace(t)
	epA, epB := session.Pipe()

	client := session.ExprWriteThen(frame.TypeData, data("42"),
		session.ExprRecvBind(func(m session.Message) kont.Expr[string] {
			return session.ExprCloseDone(payload(m))
		}),
	)
	server := session.ExprRecvBind(func(m session.Message) kont.Expr[string] {
		return session.ExprWriteThen(frame.TypeData, data("got "+payload(m)),
			session.ExprCloseDone("done"),
		)
	})

	var clientResult string
	done := make(chan struct{})
	go func() {
		clientResult = execExpr(epA, client)
		close(done)
	}()
	serverResult := execExpr(epB, server)
	<-done

	if clientResult != "got 42" {
		t.Fatalf("client got %q, want %q", clientResult, "got 42")
	}
	if serverResult != "done" {
		t.Fatalf("server got %q, want %q", serverResult, "done")
	}
}

func TestAdvanceUnhandledPanics(t *testing.T) {
	type bogus struct{ kont.Phantom[int] }

	_, susp := session.Step[int](session.Reify(kont.Perform(bogus{})))
	defer func() {
		if r := recover(); r != "session: unhandled effect in Advance" {
			t.Fatalf("unexpected panic: %v", r)
		}
	}()
	session.Advance(session.NewEndpoint(func(frame.TypeID, frame.Frame) {}), susp)
}
