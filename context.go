// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"log/slog"
	"time"

	"code.hybscloud.com/engine/budget"
	"code.hybscloud.com/engine/bufferpool"
	"code.hybscloud.com/engine/frame"
)

// Context is the view of a worker given to extensions. Every method must
// be called on the worker's goroutine unless noted otherwise.
type Context interface {
	// Index returns the worker's shard index.
	Index() int
	Logger() *slog.Logger
	Now() time.Time

	SupplyInitialID(bindingID uint64) uint64
	SupplyReplyID(initialID uint64) uint64
	SupplyPromiseID(initialID uint64) uint64
	SupplyTraceID() uint64
	SupplyBudgetID() uint64

	// SupplySender returns the writer to the shard sending data on streamID.
	SupplySender(streamID uint64) frame.Handler
	// SupplyReceiver returns the writer to the shard receiving data on streamID.
	SupplyReceiver(streamID uint64) frame.Handler
	// DetachSender drops the handler registered for a reply.
	DetachSender(replyID uint64)
	// NewStream registers sender as the throttle of an outbound initial
	// stream and the handler of its reply, and returns the receiver writer.
	NewStream(t frame.TypeID, begin frame.Frame, sender frame.Handler) frame.Handler
	// DroppedFrame returns a handler that refunds the budget of discarded Data.
	DroppedFrame() frame.Handler
	// WriteBuffer is scratch space for encoding frames.
	WriteBuffer() []byte

	Creditor() *budget.Creditor
	SupplyDebitor(budgetID uint64) (*budget.Debitor, error)
	BufferPool() *bufferpool.Pool
	Signaler() Signaler

	SupplyGuard(guardID uint64) GuardHandler
	SupplyVault(vaultID uint64) VaultHandler
	SupplyCatalog(catalogID uint64) CatalogHandler
}

var _ Context = (*Worker)(nil)
