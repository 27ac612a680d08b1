// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package budget

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"code.hybscloud.com/engine/internal/layout"
)

// DebitorConfig wires a Debitor for one watching shard to one owner.
type DebitorConfig struct {
	// Index of the watching shard; its bit is set in watchers on shortfall.
	Index int
	// OwnerIndex of the shard crediting the budgets.
	OwnerIndex int
	// Budgets is the owner's budgets layout, mapped by the watcher.
	Budgets *layout.Budgets
	Logger  *slog.Logger
}

type debitorEntry struct {
	budgetID uint64
	flushers map[uint64]func(traceID uint64)
	watching map[uint64]struct{}
}

// Debitor claims credit from budgets owned by another (or the same) shard.
// It must only be used on the watching shard's goroutine.
type Debitor struct {
	index   int
	owner   int
	bit     uint64
	mask    uint64
	budgets *layout.Budgets
	entries entries
	logger  *slog.Logger

	bySlot   map[int]*debitorEntry
	slotByID map[uint64]int
	acquired int
}

// NewDebitor returns a Debitor over cfg.Budgets.
func NewDebitor(cfg DebitorConfig) *Debitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Debitor{
		index:    cfg.Index,
		owner:    cfg.OwnerIndex,
		bit:      1 << uint(cfg.Index),
		mask:     Mask(cfg.OwnerIndex),
		budgets:  cfg.Budgets,
		entries:  newEntries(cfg.Budgets.Body(), cfg.Budgets.Entries()),
		logger:   logger,
		bySlot:   make(map[int]*debitorEntry),
		slotByID: make(map[uint64]int),
	}
}

func (d *Debitor) slot(budgetIndex int64) int {
	if uint64(budgetIndex)&^slotMask != d.mask {
		panic(fmt.Sprintf("budget: index 0x%016x not owned by shard %d", budgetIndex, d.owner))
	}
	return int(uint64(budgetIndex) & slotMask)
}

// Acquire resolves budgetID for watcherID and registers flusher, called when
// the budget gains credit after a short claim. Returns NoIndex when the
// owner has no such budget.
func (d *Debitor) Acquire(budgetID, watcherID uint64, flusher func(traceID uint64)) int64 {
	slot, ok := d.slotByID[budgetID]
	if !ok {
		slot = d.entries.find(budgetID)
		if slot < 0 {
			return NoIndex
		}
		d.slotByID[budgetID] = slot
		d.bySlot[slot] = &debitorEntry{
			budgetID: budgetID,
			flushers: make(map[uint64]func(uint64)),
			watching: make(map[uint64]struct{}),
		}
	}
	entry := d.bySlot[slot]
	if _, dup := entry.flushers[watcherID]; !dup {
		d.acquired++
	}
	entry.flushers[watcherID] = flusher
	return int64(d.mask | uint64(slot))
}

// Release drops watcherID from the budget at budgetIndex.
func (d *Debitor) Release(budgetIndex int64, watcherID uint64) {
	slot := d.slot(budgetIndex)
	entry, ok := d.bySlot[slot]
	if !ok {
		return
	}
	if _, ok := entry.flushers[watcherID]; !ok {
		return
	}
	delete(entry.flushers, watcherID)
	delete(entry.watching, watcherID)
	d.acquired--
	if len(entry.watching) == 0 {
		d.entries.unwatch(slot, d.bit)
	}
	if len(entry.flushers) == 0 {
		delete(d.bySlot, slot)
		delete(d.slotByID, entry.budgetID)
	}
}

// Claim takes between minimum and maximum credit, less deferred, from the
// budget at budgetIndex. It returns the amount claimed, zero when less than
// minimum is available. A claim short of maximum watches the budget so
// that watcherID is flushed when credit arrives.
func (d *Debitor) Claim(traceID uint64, budgetIndex int64, watcherID uint64, minimum, maximum, deferred int) int {
	slot := d.slot(budgetIndex)
	remaining := d.entries.remaining(slot)
	claimed := 0
	for {
		current := atomic.LoadInt64(remaining)
		claimable := min(current-int64(deferred), int64(maximum))
		if claimable <= 0 || claimable < int64(minimum) {
			break
		}
		if atomic.CompareAndSwapInt64(remaining, current, current-claimable) {
			claimed = int(claimable)
			break
		}
	}

	if entry, ok := d.bySlot[slot]; ok {
		if claimed < maximum {
			entry.watching[watcherID] = struct{}{}
			d.entries.watch(slot, d.bit)
		} else {
			delete(entry.watching, watcherID)
			if len(entry.watching) == 0 {
				d.entries.unwatch(slot, d.bit)
			}
		}
	}
	d.logger.Debug("budget claim", "trace", traceID, "index", budgetIndex, "watcher", watcherID,
		"minimum", minimum, "maximum", maximum, "claimed", claimed)
	return claimed
}

// Debit takes up to amount credit and returns the amount granted.
func (d *Debitor) Debit(traceID uint64, budgetIndex int64, watcherID uint64, amount int) int {
	return d.Claim(traceID, budgetIndex, watcherID, 0, amount, 0)
}

// Available returns the balance at budgetIndex.
func (d *Debitor) Available(budgetIndex int64) int64 {
	return atomic.LoadInt64(d.entries.remaining(d.slot(budgetIndex)))
}

// Flush calls the flushers of every watcher left short on budgetID.
func (d *Debitor) Flush(traceID, budgetID uint64) {
	slot, ok := d.slotByID[budgetID]
	if !ok {
		return
	}
	entry := d.bySlot[slot]
	if len(entry.watching) == 0 {
		return
	}
	waiting := make([]uint64, 0, len(entry.watching))
	for watcherID := range entry.watching {
		waiting = append(waiting, watcherID)
	}
	for _, watcherID := range waiting {
		if flusher, ok := entry.flushers[watcherID]; ok {
			flusher(traceID)
		}
	}
}

// Acquired returns the number of watcher acquisitions not yet released.
func (d *Debitor) Acquired() int {
	return d.acquired
}

// Close unmaps the owner's budgets layout.
func (d *Debitor) Close() error {
	d.entries = entries{}
	return d.budgets.Close()
}
