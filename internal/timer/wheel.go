// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package timer implements a hashed deadline timer wheel for a single
// goroutine. Deadlines and times are milliseconds since the epoch.
//
// The wheel has ticksPerWheel spokes of tickResolution milliseconds each.
// Every spoke holds a fixed number of deadline slots that doubles when a
// spoke overflows. A timer id encodes its spoke, its slot and the slot's
// generation, so cancellation is constant time and an id stops matching
// once its slot is reused.
package timer

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

// NullDeadline marks an empty slot.
const NullDeadline int64 = math.MaxInt64

const (
	initialTickAllocation = 16
	maxTickAllocation     = 1 << 30
	maxTicksPerWheel      = 1 << 15

	spokeShift      = 32
	generationShift = 47
	spokeMask       = maxTicksPerWheel - 1
	generationMask  = 1<<16 - 1
)

var ErrCapacity = errors.New("timer: spoke allocation exhausted")

// Handler is called for each expired timer. Returning false puts the
// timer back and stops the poll.
type Handler func(now int64, timerID int64) bool

// Wheel is a deadline timer wheel. Not safe for concurrent use.
type Wheel struct {
	startTime      int64
	resolutionBits uint
	tickMask       int64
	ticksPerWheel  int64
	tickAllocation int64
	allocationBits uint
	currentTick    int64
	pollIndex      int64
	timerCount     int
	wheel          []int64
	generations    []uint16
}

// New returns a wheel starting at startTime. tickResolution and
// ticksPerWheel must be powers of two.
func New(startTime, tickResolution int64, ticksPerWheel int) (*Wheel, error) {
	if tickResolution <= 0 || tickResolution&(tickResolution-1) != 0 {
		return nil, fmt.Errorf("timer: tick resolution must be a power of two: %d", tickResolution)
	}
	if ticksPerWheel <= 0 || ticksPerWheel > maxTicksPerWheel || ticksPerWheel&(ticksPerWheel-1) != 0 {
		return nil, fmt.Errorf("timer: ticks per wheel must be a power of two up to %d: %d", maxTicksPerWheel, ticksPerWheel)
	}
	w := &Wheel{
		startTime:      startTime,
		resolutionBits: uint(bits.TrailingZeros64(uint64(tickResolution))),
		tickMask:       int64(ticksPerWheel - 1),
		ticksPerWheel:  int64(ticksPerWheel),
		tickAllocation: initialTickAllocation,
		allocationBits: uint(bits.TrailingZeros64(initialTickAllocation)),
		wheel:          make([]int64, ticksPerWheel*initialTickAllocation),
		generations:    make([]uint16, ticksPerWheel*initialTickAllocation),
	}
	for i := range w.wheel {
		w.wheel[i] = NullDeadline
	}
	return w, nil
}

func timerIDForSlot(generation uint16, spoke, slot int64) int64 {
	return int64(generation)<<generationShift | spoke<<spokeShift | slot
}
func spokeOf(timerID int64) int64       { return timerID >> spokeShift & spokeMask }
func slotOf(timerID int64) int64        { return timerID & 0xffffffff }
func generationOf(timerID int64) uint16 { return uint16(timerID >> generationShift & generationMask) }

// index returns the wheel index of a live timerID, or -1.
func (w *Wheel) index(timerID int64) int64 {
	spoke, slot := spokeOf(timerID), slotOf(timerID)
	if timerID < 0 || spoke >= w.ticksPerWheel || slot >= w.tickAllocation {
		return -1
	}
	index := (spoke << w.allocationBits) + slot
	if w.wheel[index] == NullDeadline || w.generations[index] != generationOf(timerID) {
		return -1
	}
	return index
}

// TimerCount returns the number of scheduled timers.
func (w *Wheel) TimerCount() int { return w.timerCount }

// CurrentTickTime returns the time at which the current tick ends.
func (w *Wheel) CurrentTickTime() int64 {
	return ((w.currentTick + 1) << w.resolutionBits) + w.startTime
}

// ScheduleTimer schedules a timer for deadline and returns its id.
// Deadlines in the past expire on the next poll.
func (w *Wheel) ScheduleTimer(deadline int64) (int64, error) {
	deadlineTick := max((deadline-w.startTime)>>w.resolutionBits, w.currentTick)
	spoke := deadlineTick & w.tickMask
	start := spoke << w.allocationBits
	for slot := range w.tickAllocation {
		if w.wheel[start+slot] == NullDeadline {
			w.wheel[start+slot] = deadline
			w.generations[start+slot]++
			w.timerCount++
			return timerIDForSlot(w.generations[start+slot], spoke, slot), nil
		}
	}
	return w.increaseCapacity(deadline, spoke)
}

func (w *Wheel) increaseCapacity(deadline, spoke int64) (int64, error) {
	allocation := w.tickAllocation << 1
	if allocation > maxTickAllocation {
		return 0, fmt.Errorf("%w: %d", ErrCapacity, allocation)
	}
	allocationBits := uint(bits.TrailingZeros64(uint64(allocation)))
	wheel := make([]int64, w.ticksPerWheel*allocation)
	generations := make([]uint16, w.ticksPerWheel*allocation)
	for i := range wheel {
		wheel[i] = NullDeadline
	}
	for j := range w.ticksPerWheel {
		from, to := j<<w.allocationBits, j<<allocationBits
		copy(wheel[to:], w.wheel[from:from+w.tickAllocation])
		copy(generations[to:], w.generations[from:from+w.tickAllocation])
	}
	index := (spoke << allocationBits) + w.tickAllocation
	wheel[index] = deadline
	generations[index] = 1
	timerID := timerIDForSlot(1, spoke, w.tickAllocation)
	w.timerCount++
	w.tickAllocation = allocation
	w.allocationBits = allocationBits
	w.wheel = wheel
	w.generations = generations
	return timerID, nil
}

// CancelTimer removes a scheduled timer. It returns false when the timer
// already expired or was cancelled, even when its slot now holds a newer
// timer.
func (w *Wheel) CancelTimer(timerID int64) bool {
	index := w.index(timerID)
	if index < 0 {
		return false
	}
	w.wheel[index] = NullDeadline
	w.timerCount--
	return true
}

// Deadline returns the deadline of timerID, or NullDeadline.
func (w *Wheel) Deadline(timerID int64) int64 {
	index := w.index(timerID)
	if index < 0 {
		return NullDeadline
	}
	return w.wheel[index]
}

// Poll expires at most limit timers of the current tick whose deadline is
// at or before now, and advances the tick once it has been fully drained.
// Callers loop while CurrentTickTime() <= now to catch up.
func (w *Wheel) Poll(now int64, handler Handler, limit int) int {
	expired := 0
	if w.timerCount > 0 {
		spoke := w.currentTick & w.tickMask
		for range w.tickAllocation {
			if expired >= limit {
				break
			}
			index := (spoke << w.allocationBits) + w.pollIndex
			deadline := w.wheel[index]
			if now >= deadline {
				w.wheel[index] = NullDeadline
				w.timerCount--
				expired++
				if !handler(now, timerIDForSlot(w.generations[index], spoke, w.pollIndex)) {
					w.wheel[index] = deadline
					w.timerCount++
					return expired - 1
				}
			}
			w.pollIndex++
			if w.pollIndex >= w.tickAllocation {
				w.pollIndex = 0
			}
		}
		if expired < limit && now >= w.CurrentTickTime() {
			w.currentTick++
			w.pollIndex = 0
		} else if w.pollIndex >= w.tickAllocation {
			w.pollIndex = 0
		}
	} else if now >= w.CurrentTickTime() {
		w.currentTick++
		w.pollIndex = 0
	}
	return expired
}

// Clear removes every timer.
func (w *Wheel) Clear() {
	for i := range w.wheel {
		w.wheel[i] = NullDeadline
	}
	w.timerCount = 0
}

// ResetStartTime restarts the wheel at start. The wheel must be empty.
func (w *Wheel) ResetStartTime(start int64) error {
	if w.timerCount != 0 {
		return fmt.Errorf("timer: cannot reset start time with %d active timers", w.timerCount)
	}
	w.startTime = start
	w.currentTick = 0
	w.pollIndex = 0
	return nil
}
