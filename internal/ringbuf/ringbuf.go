// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ringbuf implements a many-producer single-consumer ring buffer
// of typed, length-prefixed records over a caller-provided byte region,
// typically a memory-mapped file shared between shards.
//
// Region layout:
//
//	[0, capacity)                      record area, capacity a power of two
//	[capacity, capacity+TrailerLength) tail, head cache and head positions,
//	                                   each on its own 128-byte line
//
// Record layout, 8-byte aligned:
//
//	0 length  i32, negative while the producer is still copying
//	4 type    i32, PaddingType for wrap-around filler
//	8 payload
//
// Producers claim space with a CAS on the tail position. The single consumer
// reads contiguous records, zeroes them, then publishes the new head.
package ringbuf

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/iox"
)

const (
	// HeaderLength is the length of the record header.
	HeaderLength = 8
	// Alignment of every record in the ring.
	Alignment = 8
	// PaddingType marks filler records written before wrapping.
	PaddingType int32 = -1

	linePad         = 128
	tailOffset      = 0
	headCacheOffset = linePad
	headOffset      = 2 * linePad

	// TrailerLength is the length of the position trailer after the record area.
	TrailerLength = 3 * linePad
)

var (
	ErrCapacity       = errors.New("ringbuf: capacity must be a positive power of two")
	ErrAlignment      = errors.New("ringbuf: region must be 8-byte aligned")
	ErrInvalidType    = errors.New("ringbuf: record type must be positive")
	ErrMessageTooLong = errors.New("ringbuf: message too long")
)

// Ring is a many-to-one ring buffer. Write is safe for concurrent use by
// any number of producers, in this process or another mapping the same
// region. Read must only be called by the single owning consumer.
type Ring struct {
	buf          []byte
	capacity     int64
	mask         int64
	maxMsgLength int

	tail      *int64
	headCache *int64
	head      *int64
}

// New wraps region as a ring buffer. len(region) must be a power of two
// plus TrailerLength.
func New(region []byte) (*Ring, error) {
	capacity := int64(len(region)) - TrailerLength
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrCapacity, capacity)
	}
	if uintptr(unsafe.Pointer(&region[0]))%Alignment != 0 {
		return nil, ErrAlignment
	}
	r := &Ring{
		buf:          region,
		capacity:     capacity,
		mask:         capacity - 1,
		maxMsgLength: int(capacity / 8),
	}
	r.tail = r.int64At(capacity + tailOffset)
	r.headCache = r.int64At(capacity + headCacheOffset)
	r.head = r.int64At(capacity + headOffset)
	return r, nil
}

// RegionLength returns the region length required for a ring of capacity bytes.
func RegionLength(capacity int) int {
	return capacity + TrailerLength
}

func (r *Ring) int64At(i int64) *int64 {
	return (*int64)(unsafe.Pointer(&r.buf[i]))
}

func (r *Ring) int32At(i int64) *int32 {
	return (*int32)(unsafe.Pointer(&r.buf[i]))
}

func align(n, alignment int64) int64 {
	return (n + alignment - 1) &^ (alignment - 1)
}

func makeHeader(length, typeID int32) int64 {
	return int64(uint64(uint32(typeID))<<32 | uint64(uint32(length)))
}

// Capacity returns the record area size in bytes.
func (r *Ring) Capacity() int { return int(r.capacity) }

// MaxMsgLength returns the largest payload Write accepts.
func (r *Ring) MaxMsgLength() int { return r.maxMsgLength }

// ProducerPosition returns the total bytes claimed by producers.
func (r *Ring) ProducerPosition() int64 { return atomic.LoadInt64(r.tail) }

// ConsumerPosition returns the total bytes released by the consumer.
func (r *Ring) ConsumerPosition() int64 { return atomic.LoadInt64(r.head) }

// Size returns the bytes currently claimed and not yet consumed.
func (r *Ring) Size() int {
	headBefore := atomic.LoadInt64(r.head)
	for {
		tail := atomic.LoadInt64(r.tail)
		headAfter := atomic.LoadInt64(r.head)
		if headAfter == headBefore {
			size := tail - headAfter
			if size < 0 {
				return 0
			}
			return int(min(size, r.capacity))
		}
		headBefore = headAfter
	}
}

// Write appends one record. It returns iox.ErrWouldBlock when the ring
// lacks space for the record; the caller may retry after the consumer
// makes progress.
func (r *Ring) Write(typeID int32, msg []byte) error {
	if typeID < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidType, typeID)
	}
	if len(msg) > r.maxMsgLength {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLong, len(msg), r.maxMsgLength)
	}
	recordLength := int64(len(msg) + HeaderLength)
	index := r.claim(align(recordLength, Alignment))
	if index < 0 {
		return iox.ErrWouldBlock
	}
	atomic.StoreInt32(r.int32At(index), -int32(recordLength))
	*r.int32At(index + 4) = typeID
	copy(r.buf[index+HeaderLength:], msg)
	atomic.StoreInt32(r.int32At(index), int32(recordLength))
	return nil
}

func (r *Ring) claim(required int64) int64 {
	head := atomic.LoadInt64(r.headCache)
	for {
		tail := atomic.LoadInt64(r.tail)
		if required > r.capacity-(tail-head) {
			head = atomic.LoadInt64(r.head)
			if required > r.capacity-(tail-head) {
				return -1
			}
			atomic.StoreInt64(r.headCache, head)
		}

		padding := int64(0)
		tailIndex := tail & r.mask
		toEnd := r.capacity - tailIndex
		if required > toEnd {
			headIndex := head & r.mask
			if required > headIndex {
				head = atomic.LoadInt64(r.head)
				headIndex = head & r.mask
				if required > headIndex {
					return -1
				}
				atomic.StoreInt64(r.headCache, head)
			}
			padding = toEnd
		}

		if atomic.CompareAndSwapInt64(r.tail, tail, tail+required+padding) {
			if padding != 0 {
				atomic.StoreInt64(r.int64At(tailIndex), makeHeader(int32(padding), PaddingType))
				tailIndex = 0
			}
			return tailIndex
		}
	}
}

// Read delivers up to limit records to handler in claim order and returns
// the number delivered. The payload slice aliases the ring and is valid
// only during the handler call. Consumed space is released even if the
// handler panics.
func (r *Ring) Read(handler func(typeID int32, msg []byte), limit int) int {
	head := atomic.LoadInt64(r.head)
	headIndex := head & r.mask
	contiguous := r.capacity - headIndex
	var bytesRead int64
	count := 0

	defer func() {
		if bytesRead != 0 {
			clear(r.buf[headIndex : headIndex+bytesRead])
			atomic.StoreInt64(r.head, head+bytesRead)
		}
	}()

	for bytesRead < contiguous && count < limit {
		recordIndex := headIndex + bytesRead
		recordLength := int64(atomic.LoadInt32(r.int32At(recordIndex)))
		if recordLength <= 0 {
			break
		}
		bytesRead += align(recordLength, Alignment)

		typeID := *r.int32At(recordIndex + 4)
		if typeID == PaddingType {
			continue
		}
		count++
		handler(typeID, r.buf[recordIndex+HeaderLength:recordIndex+recordLength])
	}
	return count
}
