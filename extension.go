// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"code.hybscloud.com/engine/frame"
	"code.hybscloud.com/engine/namespace"
)

// Binding is a protocol extension. Supply is called once per worker.
type Binding interface {
	Name() string
	Supply(ctx Context) BindingContext
}

// BindingContext is the per-worker state of a Binding.
type BindingContext interface {
	Attach(config *namespace.BindingConfig) (BindingHandler, error)
	Detach(bindingID uint64)
}

// BindingHandler creates the handler of a new initial stream routed to
// the binding. A nil handler refuses the stream with a Reset.
type BindingHandler interface {
	NewStream(t frame.TypeID, begin frame.Frame, replyTo frame.Handler) frame.Handler
}

// StreamFactory adapts a function to BindingHandler.
type StreamFactory func(t frame.TypeID, begin frame.Frame, replyTo frame.Handler) frame.Handler

func (f StreamFactory) NewStream(t frame.TypeID, begin frame.Frame, replyTo frame.Handler) frame.Handler {
	return f(t, begin, replyTo)
}

// Component is a guard, vault, catalog or exporter extension producing
// handlers of type H.
type Component[H any] interface {
	Name() string
	Supply(ctx Context) ComponentContext[H]
}

// ComponentContext is the per-worker state of a Component.
type ComponentContext[H any] interface {
	Attach(config *namespace.ComponentConfig) (H, error)
	Detach(id uint64)
}

// GuardHandler verifies stream authorization.
type GuardHandler interface {
	Verify(authorization uint64, roles ...string) bool
}

// VaultHandler provides key material by reference.
type VaultHandler interface {
	Key(ref string) ([]byte, bool)
}

// CatalogHandler resolves schemas by id.
type CatalogHandler interface {
	Resolve(schemaID int32) (string, bool)
}

// ExporterHandler publishes metrics. Exporters attach on worker 0 only
// and run on their own goroutine: Start once, Export until detached, Stop.
// Export returns the work done; zero idles the goroutine.
type ExporterHandler interface {
	Start() error
	Export() int
	Stop()
}

// MetricKind distinguishes monotonic counters from gauges.
type MetricKind uint8

const (
	CounterKind MetricKind = iota
	GaugeKind
)

func (k MetricKind) String() string {
	if k == GaugeKind {
		return "gauge"
	}
	return "counter"
}

// MetricDirection selects the stream half a metric observes.
type MetricDirection uint8

const (
	// Received observes frames of the initial half at the server.
	Received MetricDirection = 1 << iota
	// Sent observes frames of the reply half at the server.
	Sent
	Both = Received | Sent
)

// Metric describes one metric of a group.
type Metric interface {
	Kind() MetricKind
	Direction() MetricDirection
	// Handler returns a frame observer recording into write.
	Handler(write func(delta int64)) frame.Handler
}

// MetricGroup is a named family of metrics, e.g. "stream".
type MetricGroup interface {
	Name() string
	// Resolve returns the metric with the qualified name "group.metric".
	Resolve(name string) (Metric, bool)
}
