// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"code.hybscloud.com/kont"

	"code.hybscloud.com/engine/frame"
)

// Pre-allocated erased operations and frames to eliminate heap escapes
// when boxing empty structs into any/kont.Frame during Expr-world execution.
var (
	exprReturnFrame kont.Frame  = kont.ReturnFrame{}
	exprRecv        kont.Erased = Recv{}
	exprClose       kont.Erased = Close{}
	exprOffer       kont.Erased = Offer{}
)

// identityResume is the identity resume function for EffectFrame construction.
func identityResume(v kont.Erased) kont.Erased { return v }

// ExprWriteThen writes a frame and then continues with next.
// Fuses ExprPerform(Write{Type: t, Frame: f}) + ExprThen.
func ExprWriteThen[B any](t frame.TypeID, f frame.Frame, next kont.Expr[B]) kont.Expr[B] {
	tf := kont.AcquireThenFrame()
	tf.Second = kont.Expr[kont.Erased]{Value: kont.Erased(next.Value), Frame: next.Frame}
	tf.Next = exprReturnFrame

	ef := kont.AcquireEffectFrame()
	ef.Operation = Write{Type: t, Frame: f}
	ef.Resume = identityResume
	ef.Next = tf

	return kont.ExprSuspend[B](ef)
}

func recvBindUnwind[B any](data, _, _ kont.Erased, current kont.Erased) (kont.Erased, kont.Frame) {
	f := data.(func(Message) kont.Expr[B])
	result := f(current.(Message))
	return kont.Erased(result.Value), result.Frame
}

// ExprRecvBind receives a frame and passes it to f.
// Fuses ExprPerform(Recv{}) + ExprBind.
func ExprRecvBind[B any](f func(Message) kont.Expr[B]) kont.Expr[B] {
	bf := kont.AcquireUnwindFrame()
	bf.Data1 = f
	bf.Unwind = recvBindUnwind[B]

	ef := kont.AcquireEffectFrame()
	ef.Operation = exprRecv
	ef.Resume = identityResume
	ef.Next = bf

	return kont.ExprSuspend[B](ef)
}

// ExprCloseDone closes the session and returns a.
// Fuses ExprPerform(Close{}) + ExprThen + ExprReturn.
func ExprCloseDone[A any](a A) kont.Expr[A] {
	tf := kont.AcquireThenFrame()
	tf.Second = kont.Expr[kont.Erased]{Value: kont.Erased(a), Frame: exprReturnFrame}
	tf.Next = exprReturnFrame

	ef := kont.AcquireEffectFrame()
	ef.Operation = exprClose
	ef.Resume = identityResume
	ef.Next = tf

	return kont.ExprSuspend[A](ef)
}

func offerBranchUnwind[A any](data, data2, _ kont.Erased, current kont.Erased) (kont.Erased, kont.Frame) {
	onOpen := data.(func(Message) kont.Expr[A])
	onTerminal := data2.(func(Message) kont.Expr[A])
	e := current.(kont.Either[Message, Message])
	var result kont.Expr[A]
	if m, ok := e.GetLeft(); ok {
		result = onOpen(m)
	} else {
		m, _ := e.GetRight()
		result = onTerminal(m)
	}
	return kont.Erased(result.Value), result.Frame
}

// ExprOfferBranch receives a frame and calls onOpen or onTerminal.
// Fuses ExprPerform(Offer{}) + ExprBind + Either branch.
func ExprOfferBranch[A any](onOpen func(Message) kont.Expr[A], onTerminal func(Message) kont.Expr[A]) kont.Expr[A] {
	bf := kont.AcquireUnwindFrame()
	bf.Data1 = onOpen
	bf.Data2 = onTerminal
	bf.Unwind = offerBranchUnwind[A]

	ef := kont.AcquireEffectFrame()
	ef.Operation = exprOffer
	ef.Resume = identityResume
	ef.Next = bf

	return kont.ExprSuspend[A](ef)
}
