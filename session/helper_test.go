// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session_test

import (
	"code.hybscloud.com/kont"

	"code.hybscloud.com/engine/frame"
	"code.hybscloud.com/engine/session"
)

// execExpr drives a protocol to completion on ep via Step+Advance loop,
// retrying on iox.ErrWouldBlock until the peer delivers.
func execExpr[R any](ep *session.Endpoint, protocol kont.Expr[R]) R {
	result, susp := session.Step[R](protocol)
	for susp != nil {
		var err error
		result, susp, err = session.Advance(ep, susp)
		if err != nil {
			continue
		}
	}
	return result
}

func data(payload string) frame.Frame {
	return frame.AppendData(nil, frame.Header{StreamID: 1}, 0, 0, 0, []byte(payload), nil)
}

func end() frame.Frame {
	return frame.AppendEnd(nil, frame.Header{StreamID: 1}, nil)
}

func abort() frame.Frame {
	return frame.AppendAbort(nil, frame.Header{StreamID: 1}, nil)
}

func payload(m session.Message) string {
	return string(frame.Data{Frame: m.Frame}.Payload())
}

type recorded struct {
	types    []frame.TypeID
	payloads []string
}

func (r *recorded) handler(t frame.TypeID, f frame.Frame) {
	r.types = append(r.types, t)
	if t == frame.TypeData {
		r.payloads = append(r.payloads, string(frame.Data{Frame: f}.Payload()))
	}
}

type loop = kont.Either[struct{}, struct{}]

// echo writes every frame back until a terminal one, which it also echoes.
func echo() kont.Eff[struct{}] {
	return session.Loop(struct{}{}, func(struct{}) kont.Eff[loop] {
		return session.OfferBranch(
			func(m session.Message) kont.Eff[loop] {
				return session.WriteThen(m.Type, m.Frame, kont.Pure(kont.Left[struct{}, struct{}](struct{}{})))
			},
			func(m session.Message) kont.Eff[loop] {
				return session.WriteThen(m.Type, m.Frame, session.CloseDone(kont.Right[struct{}](struct{}{})))
			},
		)
	})
}
