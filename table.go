// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"
	"math/bits"

	"code.hybscloud.com/engine/frame"
	"code.hybscloud.com/engine/stream"
)

const handlerMapInitialCapacity = 16

// handlerMap maps instance ids to handlers with linear probing.
// A nil value marks an empty slot.
type handlerMap struct {
	keys   []uint32
	values []frame.Handler
	shift  uint
	size   int
}

func newHandlerMap() *handlerMap {
	m := &handlerMap{}
	m.allocate(handlerMapInitialCapacity)
	return m
}

func (m *handlerMap) allocate(capacity int) {
	m.keys = make([]uint32, capacity)
	m.values = make([]frame.Handler, capacity)
	m.shift = uint(64 - bits.TrailingZeros(uint(capacity)))
	m.size = 0
}

func (m *handlerMap) home(key uint32) int {
	return int((uint64(key) * 0x9e3779b97f4a7c15) >> m.shift)
}

func (m *handlerMap) mask() int { return len(m.keys) - 1 }

func (m *handlerMap) len() int {
	if m == nil {
		return 0
	}
	return m.size
}

func (m *handlerMap) get(key uint32) frame.Handler {
	if m == nil {
		return nil
	}
	for i := m.home(key); m.values[i] != nil; i = (i + 1) & m.mask() {
		if m.keys[i] == key {
			return m.values[i]
		}
	}
	return nil
}

// put stores handler for key. A live entry for key is a stale reference
// left by instance id wrap-around and panics.
func (m *handlerMap) put(key uint32, handler frame.Handler) {
	if handler == nil {
		panic("engine: nil stream handler")
	}
	if (m.size+1)*2 > len(m.keys) {
		m.grow()
	}
	i := m.home(key)
	for ; m.values[i] != nil; i = (i + 1) & m.mask() {
		if m.keys[i] == key {
			panic(fmt.Sprintf("engine: stale stream instance 0x%08x", key))
		}
	}
	m.keys[i] = key
	m.values[i] = handler
	m.size++
}

func (m *handlerMap) grow() {
	keys, values := m.keys, m.values
	m.allocate(len(keys) * 2)
	for i, v := range values {
		if v != nil {
			m.put(keys[i], v)
		}
	}
}

// remove deletes key with backward-shift so probe chains stay unbroken.
func (m *handlerMap) remove(key uint32) frame.Handler {
	if m == nil {
		return nil
	}
	mask := m.mask()
	i := m.home(key)
	for ; m.values[i] != nil; i = (i + 1) & mask {
		if m.keys[i] == key {
			break
		}
	}
	removed := m.values[i]
	if removed == nil {
		return nil
	}
	m.values[i] = nil
	m.size--
	for j := (i + 1) & mask; m.values[j] != nil; j = (j + 1) & mask {
		h := m.home(m.keys[j])
		if !cyclicBetween(h, i, j) {
			m.keys[i], m.values[i] = m.keys[j], m.values[j]
			m.values[j] = nil
			i = j
		}
	}
	return removed
}

// cyclicBetween reports whether h lies in (i, j] on the ring.
func cyclicBetween(h, i, j int) bool {
	if i <= j {
		return i < h && h <= j
	}
	return i < h || h <= j
}

// pop removes and returns any entry.
func (m *handlerMap) pop() (uint32, frame.Handler, bool) {
	if m.len() == 0 {
		return 0, nil, false
	}
	for i, v := range m.values {
		if v != nil {
			key := m.keys[i]
			m.remove(key)
			return key, v, true
		}
	}
	return 0, nil, false
}

// dispatchTable holds one handlerMap per sending shard, created lazily.
type dispatchTable [stream.MaxShards]*handlerMap

func (t *dispatchTable) bucket(index int) *handlerMap {
	m := t[index]
	if m == nil {
		m = newHandlerMap()
		t[index] = m
	}
	return m
}

func (t *dispatchTable) get(index int, instanceID uint32) frame.Handler {
	return t[index].get(instanceID)
}

func (t *dispatchTable) put(index int, instanceID uint32, handler frame.Handler) {
	t.bucket(index).put(instanceID, handler)
}

func (t *dispatchTable) remove(index int, instanceID uint32) frame.Handler {
	return t[index].remove(instanceID)
}

func (t *dispatchTable) len() int {
	n := 0
	for _, m := range t {
		n += m.len()
	}
	return n
}
