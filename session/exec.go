// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"code.hybscloud.com/kont"
)

// Exec runs a Cont-world session protocol on ep, waiting with adaptive
// backoff whenever the inbox is empty. Frames must be delivered from
// another goroutine.
func Exec[R any](ep *Endpoint, protocol kont.Eff[R]) R {
	h := sessionHandler[R]{ctx: &ep.ctx}
	return kont.Handle(protocol, h)
}

// ExecExpr runs an Expr-world session protocol on ep, waiting with
// adaptive backoff whenever the inbox is empty.
func ExecExpr[R any](ep *Endpoint, protocol kont.Expr[R]) R {
	h := sessionHandler[R]{ctx: &ep.ctx}
	return kont.HandleExpr(protocol, h)
}
