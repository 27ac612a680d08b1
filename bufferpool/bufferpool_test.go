// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build unix

package bufferpool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code.hybscloud.com/engine/bufferpool"
	"code.hybscloud.com/engine/internal/layout"
)

func TestAcquireRelease(t *testing.T) {
	buffers, err := layout.CreateBuffers(t.TempDir(), 0, 2, 128)
	require.NoError(t, err)
	p := bufferpool.New(buffers)
	defer p.Close()

	a := p.Acquire(0x11)
	b := p.Acquire(0x13)
	require.NotEqual(t, bufferpool.NoSlot, a)
	require.NotEqual(t, bufferpool.NoSlot, b)
	assert.Equal(t, bufferpool.NoSlot, p.Acquire(0x15))
	assert.Equal(t, 2, p.AcquiredSlots())

	buf := p.Buffer(a)
	assert.Len(t, buf, 128)
	copy(buf, "hello")
	assert.Equal(t, "hello", string(p.Buffer(a)[:5]))
	assert.Equal(t, uint64(0x13), p.StreamID(b))

	p.Release(a)
	assert.Equal(t, 1, p.AcquiredSlots())
	assert.Panics(t, func() { p.Release(a) })
	assert.Equal(t, a, p.Acquire(0x17))
}
