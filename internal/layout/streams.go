// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package layout

import (
	"fmt"

	"code.hybscloud.com/engine/internal/ringbuf"
)

// Streams is the frame ring read by one shard and written by every shard.
type Streams struct {
	*Mapping
	Ring *ringbuf.Ring
}

// CreateStreams creates data<index> with a ring of capacity bytes.
func CreateStreams(dir string, index, capacity int) (*Streams, error) {
	m, err := Create(StreamsPath(dir, index), KindStreams, ringbuf.RegionLength(capacity), uint64(capacity), 0)
	if err != nil {
		return nil, err
	}
	return wrapStreams(m)
}

// OpenStreams maps data<index> created by another shard.
func OpenStreams(dir string, index int) (*Streams, error) {
	m, err := Open(StreamsPath(dir, index), KindStreams)
	if err != nil {
		return nil, err
	}
	return wrapStreams(m)
}

func wrapStreams(m *Mapping) (*Streams, error) {
	capacity, _ := m.Params()
	ring, err := ringbuf.New(m.Body()[:ringbuf.RegionLength(int(capacity))])
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("layout: %s: %w", m.Path(), err)
	}
	return &Streams{Mapping: m, Ring: ring}, nil
}

// Budgets holds the shared budget entries credited by one shard.
type Budgets struct {
	*Mapping
}

// BudgetEntrySize is the size of one budget entry in bytes.
const BudgetEntrySize = 32

// CreateBudgets creates budgets<index> with room for entries budgets.
func CreateBudgets(dir string, index, entries int) (*Budgets, error) {
	m, err := Create(BudgetsPath(dir, index), KindBudgets, entries*BudgetEntrySize, uint64(entries), 0)
	if err != nil {
		return nil, err
	}
	return &Budgets{Mapping: m}, nil
}

// OpenBudgets maps budgets<index> created by another shard.
func OpenBudgets(dir string, index int) (*Budgets, error) {
	m, err := Open(BudgetsPath(dir, index), KindBudgets)
	if err != nil {
		return nil, err
	}
	return &Budgets{Mapping: m}, nil
}

// Entries returns the number of budget entries.
func (b *Budgets) Entries() int {
	entries, _ := b.Params()
	return int(entries)
}

// Buffers holds the buffer pool slots owned by one shard.
type Buffers struct {
	*Mapping
}

// CreateBuffers creates buffers<index> with slots of slotCapacity bytes
// followed by one stream id per slot.
func CreateBuffers(dir string, index, slots, slotCapacity int) (*Buffers, error) {
	length := slots*slotCapacity + slots*8
	m, err := Create(BuffersPath(dir, index), KindBuffers, length, uint64(slots), uint64(slotCapacity))
	if err != nil {
		return nil, err
	}
	return &Buffers{Mapping: m}, nil
}

// Slots returns the slot count and slot capacity.
func (b *Buffers) Slots() (count, capacity int) {
	c, s := b.Params()
	return int(c), int(s)
}
