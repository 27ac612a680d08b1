// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scalars stores counter and gauge values recorded by metric
// handlers. Writers run on the owning worker; readers may be anywhere.
package scalars

import (
	"sync"

	"golang.org/x/exp/slices"

	"code.hybscloud.com/atomix"
)

// Kind distinguishes monotonic counters from gauges.
type Kind uint8

const (
	Counter Kind = 1 + iota
	Gauge
)

func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	}
	return "unknown"
}

// Sample is one recorded value.
type Sample struct {
	BindingID uint64
	MetricID  uint64
	Kind      Kind
	Value     int64
}

type key struct {
	bindingID uint64
	metricID  uint64
}

type value struct {
	kind Kind
	v    atomix.Int64
}

// Table holds the scalars of one worker.
type Table struct {
	mu     sync.RWMutex
	values map[key]*value
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{values: make(map[key]*value)}
}

// Writer returns the function recording into the scalar for
// (bindingID, metricID). Counters ignore negative deltas; gauges apply
// them.
func (t *Table) Writer(kind Kind, bindingID, metricID uint64) func(delta int64) {
	k := key{bindingID, metricID}
	t.mu.Lock()
	v, ok := t.values[k]
	if !ok {
		v = &value{kind: kind}
		t.values[k] = v
	}
	t.mu.Unlock()

	if kind == Counter {
		return func(delta int64) {
			if delta > 0 {
				v.v.Add(delta)
			}
		}
	}
	return func(delta int64) { v.v.Add(delta) }
}

// Samples returns every scalar ordered by binding then metric id.
func (t *Table) Samples() []Sample {
	t.mu.RLock()
	samples := make([]Sample, 0, len(t.values))
	for k, v := range t.values {
		samples = append(samples, Sample{BindingID: k.bindingID, MetricID: k.metricID, Kind: v.kind, Value: v.v.Load()})
	}
	t.mu.RUnlock()
	slices.SortFunc(samples, func(a, b Sample) int {
		switch {
		case a.BindingID != b.BindingID:
			return cmpUint64(a.BindingID, b.BindingID)
		default:
			return cmpUint64(a.MetricID, b.MetricID)
		}
	})
	return samples
}

// Remove drops every scalar of bindingID.
func (t *Table) Remove(bindingID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.values {
		if k.bindingID == bindingID {
			delete(t.values, k)
		}
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
