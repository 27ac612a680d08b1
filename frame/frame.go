// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package frame defines the binary frames exchanged between shards.
//
// Every frame starts with a fixed little-endian header:
//
//	 0 originId       u64
//	 8 routedId       u64
//	16 streamId       u64
//	24 sequence       i64
//	32 acknowledge    i64
//	40 maximum        i32
//	44 reserved       u32, zero
//	48 timestamp      u64
//	56 traceId        u64
//	64 authorization  u64
//
// followed by type-specific fields. Data frames flow on a stream
// (Begin, Data, End, Abort, Flush); throttle frames flow against it
// (Reset, Window, Signal, Challenge) and carry [ThrottleBit] in their type id.
//
// A [Frame] is a view over bytes it does not own. Frames read from a ring
// buffer are valid only for the duration of the [Handler] call.
package frame

import (
	"encoding/binary"
	"fmt"
)

// TypeID tags each frame record in a ring buffer.
type TypeID int32

// ThrottleBit marks frame types that flow against the stream direction.
const ThrottleBit TypeID = 0x40000000

const (
	TypeBegin TypeID = 0x00000001
	TypeData  TypeID = 0x00000002
	TypeEnd   TypeID = 0x00000003
	TypeAbort TypeID = 0x00000004
	TypeFlush TypeID = 0x00000005

	TypeReset     TypeID = 0x40000001
	TypeWindow    TypeID = 0x40000002
	TypeSignal    TypeID = 0x40000003
	TypeChallenge TypeID = 0x40000004
)

// IsThrottle reports whether frames of type t flow against the stream.
func (t TypeID) IsThrottle() bool {
	return t&ThrottleBit != 0
}

func (t TypeID) String() string {
	switch t {
	case TypeBegin:
		return "BEGIN"
	case TypeData:
		return "DATA"
	case TypeEnd:
		return "END"
	case TypeAbort:
		return "ABORT"
	case TypeFlush:
		return "FLUSH"
	case TypeReset:
		return "RESET"
	case TypeWindow:
		return "WINDOW"
	case TypeSignal:
		return "SIGNAL"
	case TypeChallenge:
		return "CHALLENGE"
	}
	return fmt.Sprintf("TypeID(0x%08x)", int32(t))
}

// Handler consumes one frame. Handlers run on the owning worker goroutine
// and must not block or retain f after returning.
type Handler func(t TypeID, f Frame)

const (
	offsetOriginID      = 0
	offsetRoutedID      = 8
	offsetStreamID      = 16
	offsetSequence      = 24
	offsetAcknowledge   = 32
	offsetMaximum       = 40
	offsetTimestamp     = 48
	offsetTraceID       = 56
	offsetAuthorization = 64

	// HeaderSize is the length of the fields common to all frames.
	HeaderSize = 72
)

// Header holds the fields common to every frame.
type Header struct {
	OriginID      uint64
	RoutedID      uint64
	StreamID      uint64
	Sequence      int64
	Acknowledge   int64
	Maximum       int32
	Timestamp     uint64
	TraceID       uint64
	Authorization uint64
}

// Frame is a read-only view over an encoded frame.
type Frame []byte

func (f Frame) OriginID() uint64      { return binary.LittleEndian.Uint64(f[offsetOriginID:]) }
func (f Frame) RoutedID() uint64      { return binary.LittleEndian.Uint64(f[offsetRoutedID:]) }
func (f Frame) StreamID() uint64      { return binary.LittleEndian.Uint64(f[offsetStreamID:]) }
func (f Frame) Sequence() int64       { return int64(binary.LittleEndian.Uint64(f[offsetSequence:])) }
func (f Frame) Acknowledge() int64    { return int64(binary.LittleEndian.Uint64(f[offsetAcknowledge:])) }
func (f Frame) Maximum() int32        { return int32(binary.LittleEndian.Uint32(f[offsetMaximum:])) }
func (f Frame) Timestamp() uint64     { return binary.LittleEndian.Uint64(f[offsetTimestamp:]) }
func (f Frame) TraceID() uint64       { return binary.LittleEndian.Uint64(f[offsetTraceID:]) }
func (f Frame) Authorization() uint64 { return binary.LittleEndian.Uint64(f[offsetAuthorization:]) }

// Header decodes the common header fields.
func (f Frame) Header() Header {
	return Header{
		OriginID:      f.OriginID(),
		RoutedID:      f.RoutedID(),
		StreamID:      f.StreamID(),
		Sequence:      f.Sequence(),
		Acknowledge:   f.Acknowledge(),
		Maximum:       f.Maximum(),
		Timestamp:     f.Timestamp(),
		TraceID:       f.TraceID(),
		Authorization: f.Authorization(),
	}
}

// Validate checks that b is long enough to hold a frame of type t,
// including its variable-length sections.
func Validate(t TypeID, b []byte) error {
	minimum, ok := minLength[t]
	if !ok {
		return fmt.Errorf("frame: unknown type %v", t)
	}
	if len(b) < minimum {
		return fmt.Errorf("frame: %v too short: %d < %d", t, len(b), minimum)
	}
	f := Frame(b)
	var end int
	switch t {
	case TypeBegin:
		end = sectionEnd(f, offsetBeginExtension)
	case TypeData:
		end = sectionEnd(f, offsetDataPayload)
		if end <= len(b)-4 {
			end = sectionEnd(f, end)
		} else {
			end = len(b) + 1
		}
	case TypeEnd, TypeAbort, TypeReset, TypeChallenge:
		end = sectionEnd(f, offsetExtension)
	case TypeFlush:
		end = sectionEnd(f, offsetFlushExtension)
	case TypeSignal:
		end = sectionEnd(f, offsetSignalPayload)
	default:
		end = minimum
	}
	if end > len(b) {
		return fmt.Errorf("frame: %v truncated: %d < %d", t, len(b), end)
	}
	return nil
}

var minLength = map[TypeID]int{
	TypeBegin:     offsetBeginExtension + 4,
	TypeData:      offsetDataPayload + 8,
	TypeEnd:       offsetExtension + 4,
	TypeAbort:     offsetExtension + 4,
	TypeFlush:     offsetFlushExtension + 4,
	TypeReset:     offsetExtension + 4,
	TypeWindow:    windowSize,
	TypeSignal:    offsetSignalPayload + 4,
	TypeChallenge: offsetExtension + 4,
}

// sectionEnd returns the offset following the length-prefixed section at off.
func sectionEnd(f Frame, off int) int {
	return off + 4 + int(binary.LittleEndian.Uint32(f[off:]))
}

// section returns the length-prefixed bytes at off, nil when empty.
func section(f Frame, off int) []byte {
	n := int(binary.LittleEndian.Uint32(f[off:]))
	if n == 0 {
		return nil
	}
	return f[off+4 : off+4+n]
}
