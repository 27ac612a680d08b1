// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bufferpool hands out fixed-size slots from a shard's buffers
// layout. Bindings use slots to hold partial frames across reads; every
// acquired slot must be released before the shard closes.
package bufferpool

import (
	"encoding/binary"
	"fmt"

	"code.hybscloud.com/engine/internal/layout"
)

// NoSlot is returned when every slot is in use.
const NoSlot = -1

// Pool is a slot pool for one shard. Not safe for concurrent use.
type Pool struct {
	buffers  *layout.Buffers
	data     []byte
	owners   []byte
	used     []bool
	slots    int
	capacity int
	next     int
	acquired int
}

// New returns a Pool over buffers.
func New(buffers *layout.Buffers) *Pool {
	slots, capacity := buffers.Slots()
	body := buffers.Body()
	return &Pool{
		buffers:  buffers,
		data:     body[:slots*capacity],
		owners:   body[slots*capacity : slots*capacity+slots*8],
		used:     make([]bool, slots),
		slots:    slots,
		capacity: capacity,
	}
}

// SlotCapacity returns the size of each slot in bytes.
func (p *Pool) SlotCapacity() int { return p.capacity }

// Acquire reserves a slot for streamID and returns its index, or NoSlot.
func (p *Pool) Acquire(streamID uint64) int {
	for range p.slots {
		slot := p.next
		p.next++
		if p.next == p.slots {
			p.next = 0
		}
		if !p.used[slot] {
			p.used[slot] = true
			binary.LittleEndian.PutUint64(p.owners[slot*8:], streamID)
			p.acquired++
			return slot
		}
	}
	return NoSlot
}

// Buffer returns the bytes of an acquired slot.
func (p *Pool) Buffer(slot int) []byte {
	p.check(slot)
	return p.data[slot*p.capacity : (slot+1)*p.capacity : (slot+1)*p.capacity]
}

// StreamID returns the stream that acquired slot.
func (p *Pool) StreamID(slot int) uint64 {
	p.check(slot)
	return binary.LittleEndian.Uint64(p.owners[slot*8:])
}

// Release returns slot to the pool.
func (p *Pool) Release(slot int) {
	p.check(slot)
	p.used[slot] = false
	binary.LittleEndian.PutUint64(p.owners[slot*8:], 0)
	p.acquired--
}

func (p *Pool) check(slot int) {
	if slot < 0 || slot >= p.slots || !p.used[slot] {
		panic(fmt.Sprintf("bufferpool: slot %d not acquired", slot))
	}
}

// AcquiredSlots returns the number of slots in use.
func (p *Pool) AcquiredSlots() int { return p.acquired }

// Close unmaps the buffers layout.
func (p *Pool) Close() error {
	return p.buffers.Close()
}
