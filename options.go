// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"log/slog"
	"time"

	"code.hybscloud.com/engine/namespace"
)

// Option configures collaborators that have no YAML form.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	clock        func() time.Time
	poller       func(index int) Poller
	affinityMask func(bindingID uint64) uint64
	labels       *namespace.Labels

	bindings  []Binding
	guards    []Component[GuardHandler]
	vaults    []Component[VaultHandler]
	catalogs  []Component[CatalogHandler]
	exporters []Component[ExporterHandler]
	metrics   []MetricGroup
}

func newOptions(workers int, opts []Option) *options {
	o := &options{
		logger: slog.Default(),
		clock:  time.Now,
		poller: func(int) Poller { return nopPoller{} },
	}
	all := uint64(1)<<uint(workers) - 1
	if workers >= 64 {
		all = ^uint64(0)
	}
	o.affinityMask = func(uint64) uint64 { return all }
	for _, opt := range opts {
		opt(o)
	}
	if o.labels == nil {
		o.labels = namespace.NewLabels()
	}
	return o
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock replaces time.Now for timers and timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithPoller supplies the I/O poller of each worker.
func WithPoller(poller func(index int) Poller) Option {
	return func(o *options) { o.poller = poller }
}

// WithAffinityMask sets the shards eligible to serve streams routed to a
// binding. The default allows every worker.
func WithAffinityMask(mask func(bindingID uint64) uint64) Option {
	return func(o *options) { o.affinityMask = mask }
}

// WithLabels shares a label table, e.g. with a second engine in tests.
func WithLabels(labels *namespace.Labels) Option {
	return func(o *options) { o.labels = labels }
}

// WithBinding registers a binding type.
func WithBinding(b Binding) Option {
	return func(o *options) { o.bindings = append(o.bindings, b) }
}

// WithGuard registers a guard type.
func WithGuard(c Component[GuardHandler]) Option {
	return func(o *options) { o.guards = append(o.guards, c) }
}

// WithVault registers a vault type.
func WithVault(c Component[VaultHandler]) Option {
	return func(o *options) { o.vaults = append(o.vaults, c) }
}

// WithCatalog registers a catalog type.
func WithCatalog(c Component[CatalogHandler]) Option {
	return func(o *options) { o.catalogs = append(o.catalogs, c) }
}

// WithExporter registers an exporter type.
func WithExporter(c Component[ExporterHandler]) Option {
	return func(o *options) { o.exporters = append(o.exporters, c) }
}

// WithMetricGroup registers a metric group.
func WithMetricGroup(g MetricGroup) Option {
	return func(o *options) { o.metrics = append(o.metrics, g) }
}

// Poller performs I/O readiness work for a worker.
type Poller interface {
	DoWork() (int, error)
	Close() error
}

type nopPoller struct{}

func (nopPoller) DoWork() (int, error) { return 0, nil }
func (nopPoller) Close() error         { return nil }
