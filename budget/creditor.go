// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package budget

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"code.hybscloud.com/engine/internal/layout"
)

// Flusher wakes the shards whose bits are set in watchers after budgetID
// gained credit.
type Flusher func(traceID, budgetID, watchers uint64)

// CreditorConfig wires a Creditor to its owning shard.
type CreditorConfig struct {
	// Index of the owning shard.
	Index int
	// Budgets is the owner's budgets layout.
	Budgets *layout.Budgets
	// Flusher is called when credit lands on a watched budget.
	Flusher Flusher
	// Linger delays reuse of released child budget slots so that
	// in-flight windows still find them.
	Linger time.Duration
	// Schedule runs task on the owning shard after delay.
	// When nil, child budget slots are freed immediately.
	Schedule func(delay time.Duration, task func())
	Logger   *slog.Logger
}

// Creditor owns the budgets of one shard. It must only be used on the
// owning shard's goroutine.
type Creditor struct {
	index    int
	mask     uint64
	entries  entries
	flusher  Flusher
	linger   time.Duration
	schedule func(time.Duration, func())
	logger   *slog.Logger

	indexByID map[uint64]int64
	acquired  int
}

// NewCreditor returns a Creditor over cfg.Budgets.
func NewCreditor(cfg CreditorConfig) *Creditor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	flusher := cfg.Flusher
	if flusher == nil {
		flusher = func(uint64, uint64, uint64) {}
	}
	return &Creditor{
		index:     cfg.Index,
		mask:      Mask(cfg.Index),
		entries:   newEntries(cfg.Budgets.Body(), cfg.Budgets.Entries()),
		flusher:   flusher,
		linger:    cfg.Linger,
		schedule:  cfg.Schedule,
		logger:    logger,
		indexByID: make(map[uint64]int64),
	}
}

func (c *Creditor) slot(budgetIndex int64) int {
	if uint64(budgetIndex)&^slotMask != c.mask {
		panic(fmt.Sprintf("budget: index 0x%016x not owned by shard %d", budgetIndex, c.index))
	}
	return int(uint64(budgetIndex) & slotMask)
}

// Acquire reserves an entry for budgetID with zero credit and returns its
// index, or NoIndex when the layout is full.
func (c *Creditor) Acquire(budgetID uint64) int64 {
	return c.AcquireChild(budgetID, NoBudgetID)
}

// AcquireChild reserves an entry for budgetID nested in parentBudgetID.
// Credit arriving for the child is propagated to the parent's owner.
func (c *Creditor) AcquireChild(budgetID, parentBudgetID uint64) int64 {
	if OwnerIndex(budgetID) != c.index {
		panic(fmt.Sprintf("budget: budget 0x%016x not owned by shard %d", budgetID, c.index))
	}
	if _, ok := c.indexByID[budgetID]; ok {
		panic(fmt.Sprintf("budget: budget 0x%016x already acquired", budgetID))
	}
	e := &c.entries
	slot := e.home(budgetID)
	for range e.count {
		if e.budgetID(slot) == NoBudgetID {
			atomic.StoreInt64(e.remaining(slot), 0)
			atomic.StoreInt64(e.watchers(slot), 0)
			atomic.StoreInt64(e.word(slot, offsetParentID), int64(parentBudgetID))
			atomic.StoreInt64(e.word(slot, offsetBudgetID), int64(budgetID))
			index := int64(c.mask | uint64(slot))
			c.indexByID[budgetID] = index
			c.acquired++
			c.logger.Debug("budget acquired", "budget", budgetID, "parent", parentBudgetID, "index", index)
			return index
		}
		slot = (slot + 1) & (e.count - 1)
	}
	return NoIndex
}

// Credit adds credit to the budget at budgetIndex and returns the previous
// balance. Watching shards are flushed. A credit that would leave a
// negative balance is a bookkeeping error and panics.
func (c *Creditor) Credit(traceID uint64, budgetIndex int64, credit int64) int64 {
	slot := c.slot(budgetIndex)
	e := &c.entries
	previous := atomic.AddInt64(e.remaining(slot), credit) - credit
	if previous+credit < 0 {
		panic(fmt.Sprintf("budget: negative balance for index 0x%016x: %d%+d", budgetIndex, previous, credit))
	}
	budgetID := e.budgetID(slot)
	c.logger.Debug("budget credit", "trace", traceID, "budget", budgetID, "previous", previous, "credit", credit)

	if watchers := uint64(atomic.LoadInt64(e.watchers(slot))); watchers != 0 {
		c.flusher(traceID, budgetID, watchers)
	}
	return previous
}

// CreditByID credits budgetID and returns the previous balance, or NoCredit
// when this shard has no such budget.
func (c *Creditor) CreditByID(traceID, budgetID uint64, credit int64) int64 {
	index, ok := c.indexByID[budgetID]
	if !ok {
		return NoCredit
	}
	return c.Credit(traceID, index, credit)
}

// Available returns the current balance at budgetIndex.
func (c *Creditor) Available(budgetIndex int64) int64 {
	return atomic.LoadInt64(c.entries.remaining(c.slot(budgetIndex)))
}

// ParentBudgetID returns the parent of budgetID, or NoBudgetID.
func (c *Creditor) ParentBudgetID(budgetID uint64) uint64 {
	index, ok := c.indexByID[budgetID]
	if !ok {
		return NoBudgetID
	}
	return c.entries.parentID(c.slot(index))
}

// Release gives up the budget at budgetIndex. Child budget slots stay
// resolvable for the linger period before they are reused.
func (c *Creditor) Release(budgetIndex int64) {
	slot := c.slot(budgetIndex)
	e := &c.entries
	budgetID := e.budgetID(slot)
	if budgetID == NoBudgetID {
		panic(fmt.Sprintf("budget: release of free index 0x%016x", budgetIndex))
	}
	c.acquired--
	c.logger.Debug("budget released", "budget", budgetID, "index", budgetIndex)

	if e.parentID(slot) != NoBudgetID && c.linger > 0 && c.schedule != nil {
		c.schedule(c.linger, func() { c.free(slot, budgetID) })
		return
	}
	c.free(slot, budgetID)
}

func (c *Creditor) free(slot int, budgetID uint64) {
	e := &c.entries
	if e.budgetID(slot) != budgetID {
		return
	}
	delete(c.indexByID, budgetID)
	atomic.StoreInt64(e.word(slot, offsetBudgetID), int64(NoBudgetID))
	atomic.StoreInt64(e.remaining(slot), 0)
	atomic.StoreInt64(e.watchers(slot), 0)
	atomic.StoreInt64(e.word(slot, offsetParentID), 0)
}

// Acquired returns the number of budgets acquired and not yet released.
func (c *Creditor) Acquired() int {
	return c.acquired
}

// Close releases the creditor's view of its layout. Unmapping is left to
// the owner of the layout.
func (c *Creditor) Close() error {
	c.entries = entries{}
	clear(c.indexByID)
	return nil
}
