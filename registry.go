// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"
	"sync"

	"code.hybscloud.com/iox"
	"golang.org/x/exp/slices"

	"code.hybscloud.com/engine/frame"
	"code.hybscloud.com/engine/internal/scalars"
	"code.hybscloud.com/engine/namespace"
)

type bindingEntry struct {
	config  *namespace.BindingConfig
	context BindingContext
	handler BindingHandler

	receivedOrigin frame.Handler
	receivedRouted frame.Handler
	sentOrigin     frame.Handler
	sentRouted     frame.Handler
}

type componentEntry[H any] struct {
	config  *namespace.ComponentConfig
	context ComponentContext[H]
	handler H
}

type metricEntry struct {
	config *namespace.MetricConfig
	metric Metric
}

type namespaceEntry struct {
	config    *namespace.Config
	vaults    map[int32]*componentEntry[VaultHandler]
	guards    map[int32]*componentEntry[GuardHandler]
	catalogs  map[int32]*componentEntry[CatalogHandler]
	metrics   map[int32]*metricEntry
	exporters map[int32]*exporterRunner
	bindings  map[int32]*bindingEntry
}

// registry holds the namespaces attached to one worker.
type registry struct {
	w          *Worker
	namespaces map[int32]*namespaceEntry

	bindings  map[string]BindingContext
	vaults    map[string]ComponentContext[VaultHandler]
	guards    map[string]ComponentContext[GuardHandler]
	catalogs  map[string]ComponentContext[CatalogHandler]
	exporters map[string]ComponentContext[ExporterHandler]
	metrics   map[string]MetricGroup
}

func supplyContexts[H any](w *Worker, components []Component[H]) map[string]ComponentContext[H] {
	contexts := make(map[string]ComponentContext[H], len(components))
	for _, c := range components {
		contexts[c.Name()] = c.Supply(w)
	}
	return contexts
}

func newRegistry(w *Worker) *registry {
	r := &registry{
		w:          w,
		namespaces: make(map[int32]*namespaceEntry),
		bindings:   make(map[string]BindingContext, len(w.opts.bindings)),
		vaults:     supplyContexts(w, w.opts.vaults),
		guards:     supplyContexts(w, w.opts.guards),
		catalogs:   supplyContexts(w, w.opts.catalogs),
		exporters:  supplyContexts(w, w.opts.exporters),
		metrics:    make(map[string]MetricGroup, len(w.opts.metrics)),
	}
	for _, b := range w.opts.bindings {
		r.bindings[b.Name()] = b.Supply(w)
	}
	for _, g := range w.opts.metrics {
		r.metrics[g.Name()] = g
	}
	return r
}

func attachComponents[H any](ns *namespace.Config, kind string, configs []namespace.ComponentConfig,
	contexts map[string]ComponentContext[H], into map[int32]*componentEntry[H]) error {
	for i := range configs {
		c := &configs[i]
		ctx := contexts[c.Type]
		if ctx == nil {
			return fmt.Errorf("%w: %s %s.%s: %q", ErrUnknownType, kind, ns.Name, c.Name, c.Type)
		}
		h, err := ctx.Attach(c)
		if err != nil {
			return fmt.Errorf("engine: attach %s %s.%s: %w", kind, ns.Name, c.Name, err)
		}
		into[namespace.LocalID(c.ID)] = &componentEntry[H]{config: c, context: ctx, handler: h}
	}
	return nil
}

func detachComponents[H any](entries map[int32]*componentEntry[H]) {
	for id, e := range entries {
		e.context.Detach(e.config.ID)
		delete(entries, id)
	}
}

// attach attaches ns in order: vaults, guards, catalogs, metrics,
// exporters, bindings. On failure the partially attached namespace is
// detached again.
func (r *registry) attach(ns *namespace.Config) (err error) {
	if _, ok := r.namespaces[ns.ID]; ok {
		return fmt.Errorf("engine: namespace %s already attached", ns.Name)
	}
	entry := &namespaceEntry{
		config:    ns,
		vaults:    make(map[int32]*componentEntry[VaultHandler]),
		guards:    make(map[int32]*componentEntry[GuardHandler]),
		catalogs:  make(map[int32]*componentEntry[CatalogHandler]),
		metrics:   make(map[int32]*metricEntry),
		exporters: make(map[int32]*exporterRunner),
		bindings:  make(map[int32]*bindingEntry),
	}
	r.namespaces[ns.ID] = entry
	defer func() {
		if err != nil {
			r.detachEntry(entry)
			delete(r.namespaces, ns.ID)
		}
	}()

	if err := attachComponents(ns, "vault", ns.Vaults, r.vaults, entry.vaults); err != nil {
		return err
	}
	if err := attachComponents(ns, "guard", ns.Guards, r.guards, entry.guards); err != nil {
		return err
	}
	if err := attachComponents(ns, "catalog", ns.Catalogs, r.catalogs, entry.catalogs); err != nil {
		return err
	}
	for i := range ns.Metrics {
		m := &ns.Metrics[i]
		group := r.metrics[m.Group()]
		if group == nil {
			return fmt.Errorf("%w: metric %s.%s", ErrUnknownType, ns.Name, m.Name)
		}
		metric, ok := group.Resolve(m.Name)
		if !ok {
			return fmt.Errorf("%w: metric %s.%s", ErrUnknownType, ns.Name, m.Name)
		}
		entry.metrics[namespace.LocalID(m.ID)] = &metricEntry{config: m, metric: metric}
	}
	if r.w.index == 0 {
		for i := range ns.Exporters {
			if err := r.attachExporter(ns, &ns.Exporters[i], entry); err != nil {
				return err
			}
		}
	}
	for i := range ns.Bindings {
		if err := r.attachBinding(ns, &ns.Bindings[i], entry); err != nil {
			return err
		}
	}
	return nil
}

func (r *registry) attachBinding(ns *namespace.Config, b *namespace.BindingConfig, entry *namespaceEntry) error {
	ctx := r.bindings[b.Type]
	if ctx == nil {
		return fmt.Errorf("%w: binding %s.%s: %q", ErrUnknownType, ns.Name, b.Name, b.Type)
	}
	if mask := r.w.opts.affinityMask(b.ID) & r.w.workersMask; mask == 0 {
		return fmt.Errorf("%w: %s.%s %d", ErrAffinity, ns.Name, b.Name, mask)
	}
	be := &bindingEntry{config: b, context: ctx}
	var receivedOrigin, receivedRouted, sentOrigin, sentRouted []frame.Handler
	for _, metricID := range b.MetricIDs {
		m := r.resolveMetric(metricID)
		if m == nil {
			return fmt.Errorf("%w: metric %s of binding %s.%s", ErrUnknownType, r.w.labels.Name(metricID), ns.Name, b.Name)
		}
		kind := scalars.Counter
		if m.metric.Kind() == GaugeKind {
			kind = scalars.Gauge
		}
		write := r.w.scalars.Writer(kind, b.ID, metricID)
		if m.metric.Direction()&Received != 0 {
			receivedOrigin = append(receivedOrigin, m.metric.Handler(write))
			receivedRouted = append(receivedRouted, m.metric.Handler(write))
		}
		if m.metric.Direction()&Sent != 0 {
			sentOrigin = append(sentOrigin, m.metric.Handler(write))
			sentRouted = append(sentRouted, m.metric.Handler(write))
		}
	}
	be.receivedOrigin = fanout(receivedOrigin)
	be.receivedRouted = fanout(receivedRouted)
	be.sentOrigin = fanout(sentOrigin)
	be.sentRouted = fanout(sentRouted)

	handler, err := ctx.Attach(b)
	if err != nil {
		return fmt.Errorf("engine: attach binding %s.%s: %w", ns.Name, b.Name, err)
	}
	be.handler = handler
	entry.bindings[namespace.LocalID(b.ID)] = be
	return nil
}

// detach detaches ns in order: vaults, guards, catalogs, bindings,
// metrics, exporters.
func (r *registry) detach(ns *namespace.Config) error {
	entry, ok := r.namespaces[ns.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNamespace, ns.Name)
	}
	delete(r.namespaces, ns.ID)
	r.detachEntry(entry)
	return nil
}

func (r *registry) detachEntry(entry *namespaceEntry) {
	detachComponents(entry.vaults)
	detachComponents(entry.guards)
	detachComponents(entry.catalogs)
	for id, b := range entry.bindings {
		b.context.Detach(b.config.ID)
		r.w.detachStreams(b.config.ID)
		r.w.scalars.Remove(b.config.ID)
		delete(entry.bindings, id)
	}
	clear(entry.metrics)
	for id, e := range entry.exporters {
		e.stop()
		delete(entry.exporters, id)
	}
}

// detachAll detaches every namespace in attach order.
func (r *registry) detachAll() {
	ids := make([]int32, 0, len(r.namespaces))
	for id := range r.namespaces {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		r.detachEntry(r.namespaces[id])
		delete(r.namespaces, id)
	}
}

func (r *registry) namespace(id uint64) *namespaceEntry {
	return r.namespaces[namespace.NamespaceID(id)]
}

func (r *registry) resolveBinding(id uint64) *bindingEntry {
	if ns := r.namespace(id); ns != nil {
		return ns.bindings[namespace.LocalID(id)]
	}
	return nil
}

func (r *registry) resolveMetric(id uint64) *metricEntry {
	if ns := r.namespace(id); ns != nil {
		return ns.metrics[namespace.LocalID(id)]
	}
	return nil
}

func resolveComponent[H any](ns *namespaceEntry, pick func(*namespaceEntry) map[int32]*componentEntry[H], id uint64) (h H) {
	if ns == nil {
		return h
	}
	if e := pick(ns)[namespace.LocalID(id)]; e != nil {
		return e.handler
	}
	return h
}

func (r *registry) resolveGuard(id uint64) GuardHandler {
	return resolveComponent(r.namespace(id), func(ns *namespaceEntry) map[int32]*componentEntry[GuardHandler] { return ns.guards }, id)
}

func (r *registry) resolveVault(id uint64) VaultHandler {
	return resolveComponent(r.namespace(id), func(ns *namespaceEntry) map[int32]*componentEntry[VaultHandler] { return ns.vaults }, id)
}

func (r *registry) resolveCatalog(id uint64) CatalogHandler {
	return resolveComponent(r.namespace(id), func(ns *namespaceEntry) map[int32]*componentEntry[CatalogHandler] { return ns.catalogs }, id)
}

// exporterRunner drives one exporter on its own goroutine.
type exporterRunner struct {
	id      uint64
	context ComponentContext[ExporterHandler]
	handler ExporterHandler
	done    chan struct{}
	wg      sync.WaitGroup
}

func (r *registry) attachExporter(ns *namespace.Config, c *namespace.ComponentConfig, entry *namespaceEntry) error {
	ctx := r.exporters[c.Type]
	if ctx == nil {
		return fmt.Errorf("%w: exporter %s.%s: %q", ErrUnknownType, ns.Name, c.Name, c.Type)
	}
	h, err := ctx.Attach(c)
	if err != nil {
		return fmt.Errorf("engine: attach exporter %s.%s: %w", ns.Name, c.Name, err)
	}
	if err := h.Start(); err != nil {
		ctx.Detach(c.ID)
		return fmt.Errorf("engine: start exporter %s.%s: %w", ns.Name, c.Name, err)
	}
	e := &exporterRunner{id: c.ID, context: ctx, handler: h, done: make(chan struct{})}
	e.wg.Add(1)
	go e.run()
	entry.exporters[namespace.LocalID(c.ID)] = e
	return nil
}

func (e *exporterRunner) run() {
	defer e.wg.Done()
	var idle iox.Backoff
	for {
		select {
		case <-e.done:
			return
		default:
		}
		if e.handler.Export() == 0 {
			idle.Wait()
		} else {
			idle.Reset()
		}
	}
}

func (e *exporterRunner) stop() {
	close(e.done)
	e.wg.Wait()
	e.handler.Stop()
	e.context.Detach(e.id)
}
