// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build unix

package layout_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code.hybscloud.com/engine/internal/layout"
)

func TestStreamsSharedBetweenMappings(t *testing.T) {
	dir := t.TempDir()
	owner, err := layout.CreateStreams(dir, 0, 1024)
	require.NoError(t, err)
	defer owner.Close()

	writer, err := layout.OpenStreams(dir, 0)
	require.NoError(t, err)
	defer writer.Close()

	require.NoError(t, writer.Ring.Write(5, []byte("frame")))

	var got string
	n := owner.Ring.Read(func(typeID int32, msg []byte) {
		assert.Equal(t, int32(5), typeID)
		got = string(msg)
	}, 1)
	assert.Equal(t, 1, n)
	assert.Equal(t, "frame", got)
}

func TestOpenRejectsWrongKind(t *testing.T) {
	dir := t.TempDir()
	b, err := layout.CreateBudgets(dir, 1, 16)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, 16, b.Entries())

	require.NoError(t, os.Rename(layout.BudgetsPath(dir, 1), layout.StreamsPath(dir, 1)))
	_, err = layout.OpenStreams(dir, 1)
	assert.ErrorIs(t, err, layout.ErrKind)
}

func TestOpenMissing(t *testing.T) {
	_, err := layout.OpenBudgets(t.TempDir(), 3)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCreateReplacesStale(t *testing.T) {
	dir := t.TempDir()
	first, err := layout.CreateBuffers(dir, 0, 4, 128)
	require.NoError(t, err)
	first.Body()[0] = 0xff
	require.NoError(t, first.Close())

	second, err := layout.CreateBuffers(dir, 0, 2, 64)
	require.NoError(t, err)
	defer second.Close()
	count, capacity := second.Slots()
	assert.Equal(t, 2, count)
	assert.Equal(t, 64, capacity)
	assert.Zero(t, second.Body()[0])
}
