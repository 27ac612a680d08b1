// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code.hybscloud.com/engine/frame"
)

// tagged returns a handler that reports key through got.
func tagged(key uint32, got *uint32) frame.Handler {
	return func(frame.TypeID, frame.Frame) { *got = key }
}

func TestHandlerMapPutGetRemove(t *testing.T) {
	m := newHandlerMap()
	var got uint32
	for key := uint32(1); key < 200; key += 2 {
		m.put(key, tagged(key, &got))
	}
	assert.Equal(t, 100, m.len())
	assert.Greater(t, len(m.keys), handlerMapInitialCapacity)

	for key := uint32(1); key < 200; key += 2 {
		h := m.get(key)
		require.NotNil(t, h, "key %d", key)
		h(frame.TypeData, nil)
		assert.Equal(t, key, got)
		assert.Nil(t, m.get(key+1))
	}
	for key := uint32(1); key < 200; key += 4 {
		assert.NotNil(t, m.remove(key))
		assert.Nil(t, m.remove(key))
	}
	assert.Equal(t, 50, m.len())
	for key := uint32(3); key < 200; key += 4 {
		assert.NotNil(t, m.get(key), "key %d survives removal of its neighbours", key)
	}
}

func TestHandlerMapStalePut(t *testing.T) {
	m := newHandlerMap()
	h := func(frame.TypeID, frame.Frame) {}
	m.put(5, h)
	assert.PanicsWithValue(t, "engine: stale stream instance 0x00000005", func() { m.put(5, h) })
	assert.Panics(t, func() { m.put(7, nil) })
}

func TestHandlerMapPop(t *testing.T) {
	m := newHandlerMap()
	seen := make(map[uint32]bool)
	var got uint32
	for key := uint32(1); key <= 9; key += 2 {
		m.put(key, tagged(key, &got))
	}
	for m.len() != 0 {
		key, h, ok := m.pop()
		require.True(t, ok)
		h(frame.TypeData, nil)
		assert.Equal(t, key, got)
		assert.False(t, seen[key])
		seen[key] = true
	}
	assert.Len(t, seen, 5)
	_, _, ok := m.pop()
	assert.False(t, ok)
}

func TestNilHandlerMap(t *testing.T) {
	var table dispatchTable
	assert.Nil(t, table.get(3, 1))
	assert.Nil(t, table.remove(3, 1))
	assert.Zero(t, table.len())
	table.put(3, 1, func(frame.TypeID, frame.Frame) {})
	assert.Equal(t, 1, table.len())
	assert.NotNil(t, table.get(3, 1))
	assert.Nil(t, table.get(4, 1))
}

// TestHandlerMapMatchesMap replays random put/remove sequences against a
// Go map.
func TestHandlerMapMatchesMap(t *testing.T) {
	f := func(ops []uint16) bool {
		m := newHandlerMap()
		want := make(map[uint32]bool)
		h := func(frame.TypeID, frame.Frame) {}
		for _, op := range ops {
			key := uint32(op & 0xff)
			if op&0x100 != 0 || want[key] {
				if (m.remove(key) != nil) != want[key] {
					return false
				}
				delete(want, key)
				continue
			}
			m.put(key, h)
			want[key] = true
		}
		if m.len() != len(want) {
			return false
		}
		for key := range uint32(256) {
			if (m.get(key) != nil) != want[key] {
				return false
			}
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestAffinityAdvance(t *testing.T) {
	tests := []struct {
		name  string
		local int
		mask  uint64
		want  []int
	}{
		{"skips local", 0, 0b0110, []int{1, 2, 1, 2}},
		{"single", 3, 0b1000, []int{3, 3}},
		{"top bit wraps", 0, 1<<63 | 1<<62, []int{62, 63, 62}},
		{"local eligible", 2, 0b0101, []int{2, 0, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAffinity(tt.local, tt.mask)
			var got []int
			for range tt.want {
				got = append(got, a.nextIndex)
				a.advance()
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
