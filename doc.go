// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package engine is a sharded stream dispatch runtime.
//
// An Engine runs one Worker per shard. Each worker owns a memory-mapped
// ring of incoming frames and drains it on a single goroutine: Begin
// frames open streams through the binding they are routed to, later
// frames of a stream reach the handler registered for its instance id,
// and throttle frames (Window, Reset, Signal, Challenge) flow back
// against the stream to the handler of its sender. Workers never share
// handler state; they talk only by writing frames into each other's
// rings.
//
// A stream id names both shards of a stream and its direction:
//
//	initialID := w.SupplyInitialID(bindingID) // client -> server
//	replyID := w.SupplyReplyID(initialID)     // server -> client
//
// Flow control is by budget. The shard owning a budget credits it with
// Window frames; watchers debit it through a shared budgets file and are
// woken with Flush frames when credit arrives. Data dropped by the
// dispatcher refunds its reserved credit.
//
// Extensions plug in through Options. A Binding supplies stream
// factories; guards, vaults, catalogs, exporters and metric groups are
// the other kinds. Namespaces group their configurations and attach to
// every worker at once:
//
//	e, err := engine.New(engine.DefaultConfig(), engine.WithBinding(echo.New()))
//	if err != nil {
//		return err
//	}
//	defer e.Close()
//	if err := e.Start(ctx); err != nil {
//		return err
//	}
//	err = e.Attach(ctx, ns)
//
// Signals are delivered on the worker goroutine. SignalAt and
// SignalStreamAt fire from the timer wheel; SignalTask runs work in the
// background and always signals its completion through the worker's own
// ring, so task results interleave with frames and never run beside them.
package engine
