// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"code.hybscloud.com/kont"

	"code.hybscloud.com/engine/frame"
)

// WriteThen writes a frame and then continues with next.
// Fuses Perform(Write{Type: t, Frame: f}) + Then.
func WriteThen[B any](t frame.TypeID, f frame.Frame, next kont.Eff[B]) kont.Eff[B] {
	return kont.Then(kont.Perform(Write{Type: t, Frame: f}), next)
}

// RecvBind receives a frame and passes it to f.
// Fuses Perform(Recv{}) + Bind.
func RecvBind[B any](f func(Message) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(Recv{}), f)
}

// CloseDone closes the session and returns a.
// Fuses Perform(Close{}) + Then + Pure.
func CloseDone[A any](a A) kont.Eff[A] {
	return kont.Then(kont.Perform(Close{}), kont.Pure(a))
}

// OfferBranch receives a frame and calls onOpen for a frame that keeps
// the stream open or onTerminal for End, Abort or Reset.
// Fuses Perform(Offer{}) + Bind + Either branch.
func OfferBranch[A any](onOpen func(Message) kont.Eff[A], onTerminal func(Message) kont.Eff[A]) kont.Eff[A] {
	return kont.Bind(kont.Perform(Offer{}), func(e kont.Either[Message, Message]) kont.Eff[A] {
		if m, ok := e.GetLeft(); ok {
			return onOpen(m)
		}
		m, _ := e.GetRight()
		return onTerminal(m)
	})
}
