// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stream_test

import (
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code.hybscloud.com/engine/stream"
)

// TestPropertyRoundTrip proves that any client, server and instance id
// decode back to the values they were encoded from, and that the reply
// half of an initial id keeps both indexes and the instance sequence.
func TestPropertyRoundTrip(t *testing.T) {
	roundTrip := func(client, server uint8, instance uint32, initial bool) bool {
		c, s := int(client%stream.MaxShards), int(server%stream.MaxShards)
		instance &= 0x7fffffff
		if initial {
			instance |= 1
		} else {
			instance &^= 1
		}
		id := stream.New(c, s, instance)
		if stream.ClientIndex(id) != c || stream.ServerIndex(id) != s {
			return false
		}
		if stream.InstanceID(id) != instance || stream.IsInitial(id) != initial {
			return false
		}
		if !initial {
			return true
		}
		reply := stream.ReplyID(id)
		return !stream.IsInitial(reply) &&
			stream.ClientIndex(reply) == c &&
			stream.ServerIndex(reply) == s &&
			stream.Sequence(reply) == stream.Sequence(id) &&
			stream.InitialID(reply) == id
	}
	if err := quick.Check(roundTrip, nil); err != nil {
		t.Fatal(err)
	}
}

func TestStreamAndThrottleIndex(t *testing.T) {
	initial := stream.New(3, 7, 0x11)
	reply := stream.ReplyID(initial)

	assert.Equal(t, 3, stream.StreamIndex(initial))
	assert.Equal(t, 7, stream.ThrottleIndex(initial))
	assert.Equal(t, 7, stream.StreamIndex(reply))
	assert.Equal(t, 3, stream.ThrottleIndex(reply))
}

func TestFromIndex(t *testing.T) {
	initial := stream.New(3, 7, 0x11)
	reply := stream.ReplyID(initial)

	// shard 7 finds the initial instance in the bucket of sender 3
	assert.Equal(t, initial, stream.FromIndex(7, 3, stream.InstanceID(initial)))
	// shard 3 finds the reply instance in the bucket of sender 7
	assert.Equal(t, reply, stream.FromIndex(3, 7, stream.InstanceID(reply)))
}

func TestReplyIDPanicsOnReply(t *testing.T) {
	reply := stream.New(1, 2, 0x10)
	require.Panics(t, func() { stream.ReplyID(reply) })
	require.Panics(t, func() { stream.InitialID(stream.New(1, 2, 0x11)) })
}

func TestNewPanicsOnIndexOutOfRange(t *testing.T) {
	require.Panics(t, func() { stream.New(stream.MaxShards, 0, 1) })
	require.Panics(t, func() { stream.New(0, -1, 1) })
}

func TestSupplier(t *testing.T) {
	s := stream.NewSupplier(2)
	seen := make(map[uint64]bool)
	for range 1000 {
		id := s.InitialID(5)
		require.True(t, stream.IsInitial(id))
		require.False(t, stream.IsPromise(id))
		require.Equal(t, 2, stream.ClientIndex(id))
		require.Equal(t, 5, stream.ServerIndex(id))
		require.False(t, seen[id], "duplicate id 0x%016x", id)
		seen[id] = true
	}
}

func TestPromise(t *testing.T) {
	s := stream.NewSupplier(1)
	carrier := s.InitialID(4)
	promise := s.PromiseID(carrier)

	assert.True(t, stream.IsPromise(promise))
	assert.True(t, stream.IsInitial(promise))
	assert.Equal(t, stream.ClientIndex(carrier), stream.ClientIndex(promise))
	assert.Equal(t, stream.ServerIndex(carrier), stream.ServerIndex(promise))
	assert.NotEqual(t, stream.InstanceID(carrier), stream.InstanceID(promise))
}
