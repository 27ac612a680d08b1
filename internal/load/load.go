// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package load keeps per-binding stream counters. Counters are written by
// the owning worker and may be read from any goroutine.
package load

import (
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/engine/frame"
)

// Snapshot is a point-in-time copy of an Entry.
type Snapshot struct {
	InitialOpened  int64
	InitialClosed  int64
	InitialErrored int64
	InitialBytes   int64
	ReplyOpened    int64
	ReplyClosed    int64
	ReplyErrored   int64
	ReplyBytes     int64
}

// Add returns the field-wise sum of s and o.
func (s Snapshot) Add(o Snapshot) Snapshot {
	return Snapshot{
		InitialOpened:  s.InitialOpened + o.InitialOpened,
		InitialClosed:  s.InitialClosed + o.InitialClosed,
		InitialErrored: s.InitialErrored + o.InitialErrored,
		InitialBytes:   s.InitialBytes + o.InitialBytes,
		ReplyOpened:    s.ReplyOpened + o.ReplyOpened,
		ReplyClosed:    s.ReplyClosed + o.ReplyClosed,
		ReplyErrored:   s.ReplyErrored + o.ReplyErrored,
		ReplyBytes:     s.ReplyBytes + o.ReplyBytes,
	}
}

type half struct {
	opened  atomix.Int64
	closed  atomix.Int64
	errored atomix.Int64
	bytes   atomix.Int64
}

func (h *half) record(t frame.TypeID, f frame.Frame) {
	switch t {
	case frame.TypeBegin:
		h.opened.Add(1)
	case frame.TypeData:
		h.bytes.Add(int64(len(frame.Data{Frame: f}.Payload())))
	case frame.TypeEnd:
		h.closed.Add(1)
	case frame.TypeAbort, frame.TypeReset:
		h.closed.Add(1)
		h.errored.Add(1)
	}
}

// Entry holds the counters of one binding.
type Entry struct {
	initial half
	reply   half
}

// RecordInitial counts a frame of the initial half of a stream.
// Reset counts against the half it refuses.
func (e *Entry) RecordInitial(t frame.TypeID, f frame.Frame) { e.initial.record(t, f) }

// RecordReply counts a frame of the reply half of a stream.
func (e *Entry) RecordReply(t frame.TypeID, f frame.Frame) { e.reply.record(t, f) }

// Snapshot copies the current counters.
func (e *Entry) Snapshot() Snapshot {
	return Snapshot{
		InitialOpened:  e.initial.opened.Load(),
		InitialClosed:  e.initial.closed.Load(),
		InitialErrored: e.initial.errored.Load(),
		InitialBytes:   e.initial.bytes.Load(),
		ReplyOpened:    e.reply.opened.Load(),
		ReplyClosed:    e.reply.closed.Load(),
		ReplyErrored:   e.reply.errored.Load(),
		ReplyBytes:     e.reply.bytes.Load(),
	}
}

// Table maps binding ids to entries.
type Table struct {
	mu      sync.RWMutex
	entries map[uint64]*Entry
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{entries: make(map[uint64]*Entry)}
}

// Entry returns the entry for bindingID, creating it on first use.
func (t *Table) Entry(bindingID uint64) *Entry {
	t.mu.RLock()
	e, ok := t.entries[bindingID]
	t.mu.RUnlock()
	if ok {
		return e
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[bindingID]; !ok {
		e = &Entry{}
		t.entries[bindingID] = e
	}
	return e
}

// Snapshot returns the counters of bindingID, or false when none were recorded.
func (t *Table) Snapshot(bindingID uint64) (Snapshot, bool) {
	t.mu.RLock()
	e, ok := t.entries[bindingID]
	t.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return e.Snapshot(), true
}
