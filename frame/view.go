// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package frame

import "encoding/binary"

const (
	offsetBeginAffinity  = HeaderSize
	offsetBeginExtension = HeaderSize + 8

	offsetDataBudgetID = HeaderSize
	offsetDataReserved = HeaderSize + 8
	offsetDataFlags    = HeaderSize + 12
	offsetDataPayload  = HeaderSize + 16

	offsetExtension = HeaderSize

	offsetFlushBudgetID  = HeaderSize
	offsetFlushReserved  = HeaderSize + 8
	offsetFlushExtension = HeaderSize + 12

	offsetWindowBudgetID     = HeaderSize
	offsetWindowPadding      = HeaderSize + 8
	offsetWindowMinimum      = HeaderSize + 12
	offsetWindowCapabilities = HeaderSize + 16
	windowSize               = HeaderSize + 20

	offsetSignalCancelID  = HeaderSize
	offsetSignalSignalID  = HeaderSize + 8
	offsetSignalContextID = HeaderSize + 12
	offsetSignalPayload   = HeaderSize + 16
)

// Data flags.
const (
	FlagFin        uint32 = 0x01
	FlagInit       uint32 = 0x02
	FlagIncomplete uint32 = 0x04
	FlagSkip       uint32 = 0x08
)

// Begin opens one half of a stream.
type Begin struct{ Frame }

func (f Begin) Affinity() uint64  { return binary.LittleEndian.Uint64(f.Frame[offsetBeginAffinity:]) }
func (f Begin) Extension() []byte { return section(f.Frame, offsetBeginExtension) }

// Data carries payload bytes, debited against a budget when BudgetID is non-zero.
type Data struct{ Frame }

func (f Data) BudgetID() uint64 { return binary.LittleEndian.Uint64(f.Frame[offsetDataBudgetID:]) }
func (f Data) Reserved() int32  { return int32(binary.LittleEndian.Uint32(f.Frame[offsetDataReserved:])) }
func (f Data) Flags() uint32    { return binary.LittleEndian.Uint32(f.Frame[offsetDataFlags:]) }
func (f Data) Payload() []byte  { return section(f.Frame, offsetDataPayload) }

func (f Data) Extension() []byte {
	return section(f.Frame, sectionEnd(f.Frame, offsetDataPayload))
}

// End closes one half of a stream normally.
type End struct{ Frame }

func (f End) Extension() []byte { return section(f.Frame, offsetExtension) }

// Abort closes one half of a stream abnormally.
type Abort struct{ Frame }

func (f Abort) Extension() []byte { return section(f.Frame, offsetExtension) }

// Flush asks the receiver to deliver anything held back for BudgetID.
type Flush struct{ Frame }

func (f Flush) BudgetID() uint64  { return binary.LittleEndian.Uint64(f.Frame[offsetFlushBudgetID:]) }
func (f Flush) Reserved() int32   { return int32(binary.LittleEndian.Uint32(f.Frame[offsetFlushReserved:])) }
func (f Flush) Extension() []byte { return section(f.Frame, offsetFlushExtension) }

// Reset refuses or tears down the opposite half of a stream.
type Reset struct{ Frame }

func (f Reset) Extension() []byte { return section(f.Frame, offsetExtension) }

// Window grants credit to the sender of the opposite half.
type Window struct{ Frame }

func (f Window) BudgetID() uint64     { return binary.LittleEndian.Uint64(f.Frame[offsetWindowBudgetID:]) }
func (f Window) Padding() int32       { return int32(binary.LittleEndian.Uint32(f.Frame[offsetWindowPadding:])) }
func (f Window) Minimum() int32       { return int32(binary.LittleEndian.Uint32(f.Frame[offsetWindowMinimum:])) }
func (f Window) Capabilities() uint32 { return binary.LittleEndian.Uint32(f.Frame[offsetWindowCapabilities:]) }

// Signal delivers a timer or task completion to a stream, or to the shard
// itself when StreamID is zero.
type Signal struct{ Frame }

func (f Signal) CancelID() int64  { return int64(binary.LittleEndian.Uint64(f.Frame[offsetSignalCancelID:])) }
func (f Signal) SignalID() int32  { return int32(binary.LittleEndian.Uint32(f.Frame[offsetSignalSignalID:])) }
func (f Signal) ContextID() int32 { return int32(binary.LittleEndian.Uint32(f.Frame[offsetSignalContextID:])) }
func (f Signal) Payload() []byte  { return section(f.Frame, offsetSignalPayload) }

// Challenge asks the sender to reauthorize the stream.
type Challenge struct{ Frame }

func (f Challenge) Extension() []byte { return section(f.Frame, offsetExtension) }
