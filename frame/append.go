// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package frame

import "encoding/binary"

// The Append functions encode a frame onto dst and return the extended slice.
// Passing dst[:0] of a reused scratch buffer avoids allocation on the hot path.

func appendHeader(dst []byte, h *Header) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, h.OriginID)
	dst = binary.LittleEndian.AppendUint64(dst, h.RoutedID)
	dst = binary.LittleEndian.AppendUint64(dst, h.StreamID)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(h.Sequence))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(h.Acknowledge))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(h.Maximum))
	dst = binary.LittleEndian.AppendUint32(dst, 0)
	dst = binary.LittleEndian.AppendUint64(dst, h.Timestamp)
	dst = binary.LittleEndian.AppendUint64(dst, h.TraceID)
	dst = binary.LittleEndian.AppendUint64(dst, h.Authorization)
	return dst
}

func appendSection(dst []byte, b []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

// AppendBegin encodes a Begin frame.
func AppendBegin(dst []byte, h Header, affinity uint64, extension []byte) Frame {
	dst = appendHeader(dst, &h)
	dst = binary.LittleEndian.AppendUint64(dst, affinity)
	return appendSection(dst, extension)
}

// AppendData encodes a Data frame.
func AppendData(dst []byte, h Header, budgetID uint64, reserved int32, flags uint32, payload, extension []byte) Frame {
	dst = appendHeader(dst, &h)
	dst = binary.LittleEndian.AppendUint64(dst, budgetID)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(reserved))
	dst = binary.LittleEndian.AppendUint32(dst, flags)
	dst = appendSection(dst, payload)
	return appendSection(dst, extension)
}

// AppendEnd encodes an End frame.
func AppendEnd(dst []byte, h Header, extension []byte) Frame {
	return appendSection(appendHeader(dst, &h), extension)
}

// AppendAbort encodes an Abort frame.
func AppendAbort(dst []byte, h Header, extension []byte) Frame {
	return appendSection(appendHeader(dst, &h), extension)
}

// AppendFlush encodes a Flush frame.
func AppendFlush(dst []byte, h Header, budgetID uint64, reserved int32, extension []byte) Frame {
	dst = appendHeader(dst, &h)
	dst = binary.LittleEndian.AppendUint64(dst, budgetID)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(reserved))
	return appendSection(dst, extension)
}

// AppendReset encodes a Reset frame.
func AppendReset(dst []byte, h Header, extension []byte) Frame {
	return appendSection(appendHeader(dst, &h), extension)
}

// AppendWindow encodes a Window frame.
func AppendWindow(dst []byte, h Header, budgetID uint64, padding, minimum int32, capabilities uint32) Frame {
	dst = appendHeader(dst, &h)
	dst = binary.LittleEndian.AppendUint64(dst, budgetID)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(padding))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(minimum))
	return binary.LittleEndian.AppendUint32(dst, capabilities)
}

// AppendSignal encodes a Signal frame.
func AppendSignal(dst []byte, h Header, cancelID int64, signalID, contextID int32, payload []byte) Frame {
	dst = appendHeader(dst, &h)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(cancelID))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(signalID))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(contextID))
	return appendSection(dst, payload)
}

// AppendChallenge encodes a Challenge frame.
func AppendChallenge(dst []byte, h Header, extension []byte) Frame {
	return appendSection(appendHeader(dst, &h), extension)
}
