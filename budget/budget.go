// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package budget implements flow-control budgets shared between shards.
//
// A budget is owned by one shard, the [Creditor], which is the only writer
// that adds credit. Any shard holding the budget id may watch it through a
// [Debitor] and claim credit with atomic compare-and-swap. When a claim
// falls short the debitor sets its shard bit in the entry's watchers word;
// the next credit makes the owner flush every watching shard so they can
// retry.
//
// Entries live in the owner's budgets layout file:
//
//	 0 budgetId        u64, zero when free
//	 8 remaining       i64
//	16 watchers        u64, one bit per shard
//	24 parentBudgetId  u64
package budget

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

const (
	// NoBudgetID marks frames not subject to a budget.
	NoBudgetID uint64 = 0
	// NoIndex is returned when a budget cannot be acquired.
	NoIndex int64 = -1
	// NoCredit is returned when crediting an unknown budget.
	NoCredit int64 = -1

	ownerShift = 56
	ownerMask  = 0xff << ownerShift
	slotMask   = ^uint64(ownerMask)
	// sequenceMask bounds supplied budget sequences below the owner bits.
	sequenceMask = 1<<ownerShift - 1

	entrySize        = 32
	offsetBudgetID   = 0
	offsetRemaining  = 8
	offsetWatchers   = 16
	offsetParentID   = 24
	fibonacciHashing = 0x9e3779b97f4a7c15
)

// OwnerIndex returns the index of the shard that owns budgetID.
func OwnerIndex(budgetID uint64) int {
	return int(budgetID >> ownerShift)
}

// Mask returns the owner bits for budgets and budget indexes of shard index.
func Mask(index int) uint64 {
	return uint64(index) << ownerShift
}

// Supplier hands out budget ids owned by one shard.
type Supplier struct {
	mask uint64
	next uint64
}

// NewSupplier returns a Supplier for budgets owned by shard index.
func NewSupplier(index int) *Supplier {
	return &Supplier{mask: Mask(index)}
}

// BudgetID returns a fresh non-zero budget id.
func (s *Supplier) BudgetID() uint64 {
	s.next = (s.next + 1) & sequenceMask
	if s.next == 0 {
		s.next = 1
	}
	return s.mask | s.next
}

// entries is an atomic view over the budget entries of one layout.
type entries struct {
	mem   []byte
	count int
	shift uint
}

func newEntries(mem []byte, count int) entries {
	if count <= 0 || count&(count-1) != 0 {
		panic(fmt.Sprintf("budget: entry count must be a power of two: %d", count))
	}
	if len(mem) < count*entrySize {
		panic(fmt.Sprintf("budget: region too small: %d < %d", len(mem), count*entrySize))
	}
	shift := uint(64)
	for c := count; c > 1; c >>= 1 {
		shift--
	}
	return entries{mem: mem, count: count, shift: shift}
}

func (e *entries) word(slot int, offset int) *int64 {
	return (*int64)(unsafe.Pointer(&e.mem[slot*entrySize+offset]))
}

func (e *entries) budgetID(slot int) uint64 {
	return uint64(atomic.LoadInt64(e.word(slot, offsetBudgetID)))
}

func (e *entries) remaining(slot int) *int64 { return e.word(slot, offsetRemaining) }
func (e *entries) watchers(slot int) *int64  { return e.word(slot, offsetWatchers) }

func (e *entries) parentID(slot int) uint64 {
	return uint64(atomic.LoadInt64(e.word(slot, offsetParentID)))
}

// home returns the first probe slot for budgetID.
func (e *entries) home(budgetID uint64) int {
	if e.shift == 64 {
		return 0
	}
	return int((budgetID * fibonacciHashing) >> e.shift)
}

// find probes for the slot holding budgetID, or -1.
func (e *entries) find(budgetID uint64) int {
	slot := e.home(budgetID)
	for range e.count {
		if e.budgetID(slot) == budgetID {
			return slot
		}
		slot = (slot + 1) & (e.count - 1)
	}
	return -1
}

// watch sets bit in the watchers word of slot.
func (e *entries) watch(slot int, bit uint64) {
	w := e.watchers(slot)
	for {
		old := atomic.LoadInt64(w)
		if uint64(old)&bit != 0 || atomic.CompareAndSwapInt64(w, old, int64(uint64(old)|bit)) {
			return
		}
	}
}

// unwatch clears bit in the watchers word of slot.
func (e *entries) unwatch(slot int, bit uint64) {
	w := e.watchers(slot)
	for {
		old := atomic.LoadInt64(w)
		if uint64(old)&bit == 0 || atomic.CompareAndSwapInt64(w, old, int64(uint64(old)&^bit)) {
			return
		}
	}
}
