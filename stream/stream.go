// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package stream encodes and decodes 64-bit stream identifiers.
//
// A stream id carries the shard that originated the stream (client index),
// the shard it targets (server index), and a per-shard instance id whose
// low bit distinguishes the initial half of a stream from its reply half:
//
//	bits 56..63  client index
//	bits 48..55  server index
//	bits 32..47  reserved, zero
//	bit  31      promise flag
//	bits  0..30  instance sequence, bit 0 set on initial ids
//
// Stream id 0 is reserved for system frames addressed to a shard.
package stream

import "fmt"

const (
	// MaxShards bounds shard indexes to the 64 dispatch buckets per direction.
	MaxShards = 64

	clientShift = 56
	serverShift = 48
	indexMask   = 0xff

	directionBit = 0x1
	promiseBit   = 0x80000000
	instanceMask = 0xffffffff

	// sequenceMask keeps the instance sequence clear of the promise flag.
	sequenceMask = 0x7fffffff
)

// New encodes a stream id from its client index, server index and instance id.
// The direction is carried by the low bit of instance.
func New(client, server int, instance uint32) uint64 {
	if client < 0 || client >= MaxShards || server < 0 || server >= MaxShards {
		panic(fmt.Sprintf("stream: shard index out of range: client=%d server=%d", client, server))
	}
	return uint64(client)<<clientShift | uint64(server)<<serverShift | uint64(instance)
}

// FromIndex rebuilds a full stream id for an instance id found in the local
// dispatch bucket of sender. Initial instances were originated by sender and
// target local; reply instances were originated by local.
func FromIndex(local, sender int, instance uint32) uint64 {
	if instance&directionBit != 0 {
		return New(sender, local, instance)
	}
	return New(local, sender, instance)
}

// IsInitial reports whether id is the initial half of a stream.
func IsInitial(id uint64) bool {
	return id&directionBit != 0
}

// IsPromise reports whether id was supplied as a promise stream.
func IsPromise(id uint64) bool {
	return id&promiseBit != 0
}

// InstanceID returns the per-shard instance id, including the direction bit.
func InstanceID(id uint64) uint32 {
	return uint32(id & instanceMask)
}

// Sequence returns the instance sequence without the direction and promise bits.
func Sequence(id uint64) uint32 {
	return uint32(id&sequenceMask) >> 1
}

// ClientIndex returns the index of the shard that originated the stream.
func ClientIndex(id uint64) int {
	return int(id>>clientShift) & indexMask
}

// ServerIndex returns the index of the shard the stream targets.
func ServerIndex(id uint64) int {
	return int(id>>serverShift) & indexMask
}

// StreamIndex returns the index of the shard writing data frames for id.
func StreamIndex(id uint64) int {
	if IsInitial(id) {
		return ClientIndex(id)
	}
	return ServerIndex(id)
}

// ThrottleIndex returns the index of the shard writing throttle frames for id.
func ThrottleIndex(id uint64) int {
	if IsInitial(id) {
		return ServerIndex(id)
	}
	return ClientIndex(id)
}

// ReplyID returns the reply half of an initial stream id.
// Panics if initialID is not an initial id.
func ReplyID(initialID uint64) uint64 {
	if !IsInitial(initialID) {
		panic(fmt.Sprintf("stream: not an initial id: 0x%016x", initialID))
	}
	return initialID &^ directionBit
}

// InitialID returns the initial half of a reply stream id.
// Panics if replyID is an initial id.
func InitialID(replyID uint64) uint64 {
	if IsInitial(replyID) {
		panic(fmt.Sprintf("stream: not a reply id: 0x%016x", replyID))
	}
	return replyID | directionBit
}

// Promise derives a promise id on the same shard pair as carrierID.
// The instance must be an initial instance id.
func Promise(carrierID uint64, instance uint32) uint64 {
	return carrierID&^instanceMask | uint64(instance|promiseBit)
}

// Supplier hands out initial stream ids for one local shard.
// Not safe for concurrent use; each worker owns one.
type Supplier struct {
	local int
	next  uint32
}

// NewSupplier returns a Supplier for streams originated by shard local.
func NewSupplier(local int) *Supplier {
	if local < 0 || local >= MaxShards {
		panic(fmt.Sprintf("stream: shard index out of range: %d", local))
	}
	return &Supplier{local: local, next: 1}
}

// InitialID returns a fresh initial stream id targeting shard remote.
// Instance sequences advance by two so that initial and reply halves
// never collide, and wrap within the 31-bit sequence space.
func (s *Supplier) InitialID(remote int) uint64 {
	s.next = (s.next + 2) & sequenceMask
	if s.next == 1 {
		s.next = 3
	}
	return New(s.local, remote, s.next)
}

// PromiseID returns a fresh promise id on the shard pair of carrierID.
func (s *Supplier) PromiseID(carrierID uint64) uint64 {
	s.next = (s.next + 2) & sequenceMask
	if s.next == 1 {
		s.next = 3
	}
	return Promise(carrierID, s.next)
}
