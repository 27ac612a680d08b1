// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package stream implements the "stream" metric group, counting the
// streams and bytes seen by a binding.
//
//	stream.opens           counter   initial Begin frames
//	stream.closes          counter   initial End, Abort and Reset frames
//	stream.errors          counter   Abort and Reset frames of either half
//	stream.active          gauge     initial halves open
//	stream.bytes.received  counter   Data payload bytes of the initial half
//	stream.bytes.sent      counter   Data payload bytes of the reply half
package stream

import (
	"code.hybscloud.com/engine"
	"code.hybscloud.com/engine/frame"
)

// Name is the metric group name.
const Name = "stream"

type metric struct {
	kind      engine.MetricKind
	direction engine.MetricDirection
	observe   func(t frame.TypeID, f frame.Frame) int64
}

func (m *metric) Kind() engine.MetricKind { return m.kind }

func (m *metric) Direction() engine.MetricDirection { return m.direction }

func (m *metric) Handler(write func(delta int64)) frame.Handler {
	return func(t frame.TypeID, f frame.Frame) {
		if delta := m.observe(t, f); delta != 0 {
			write(delta)
		}
	}
}

func count(types ...frame.TypeID) func(frame.TypeID, frame.Frame) int64 {
	return func(t frame.TypeID, _ frame.Frame) int64 {
		for _, c := range types {
			if t == c {
				return 1
			}
		}
		return 0
	}
}

func active(t frame.TypeID, _ frame.Frame) int64 {
	switch t {
	case frame.TypeBegin:
		return 1
	case frame.TypeEnd, frame.TypeAbort, frame.TypeReset:
		return -1
	}
	return 0
}

func payloadBytes(t frame.TypeID, f frame.Frame) int64 {
	if t != frame.TypeData {
		return 0
	}
	return int64(len(frame.Data{Frame: f}.Payload()))
}

var metrics = map[string]*metric{
	"stream.opens":          {engine.CounterKind, engine.Received, count(frame.TypeBegin)},
	"stream.closes":         {engine.CounterKind, engine.Received, count(frame.TypeEnd, frame.TypeAbort, frame.TypeReset)},
	"stream.errors":         {engine.CounterKind, engine.Both, count(frame.TypeAbort, frame.TypeReset)},
	"stream.active":         {engine.GaugeKind, engine.Received, active},
	"stream.bytes.received": {engine.CounterKind, engine.Received, payloadBytes},
	"stream.bytes.sent":     {engine.CounterKind, engine.Sent, payloadBytes},
}

// Group is the stream metric group.
type Group struct{}

// New returns the stream metric group for engine.WithMetricGroup.
func New() *Group { return &Group{} }

func (*Group) Name() string { return Name }

func (*Group) Resolve(name string) (engine.Metric, bool) {
	m, ok := metrics[name]
	if !ok {
		return nil, false
	}
	return m, true
}
