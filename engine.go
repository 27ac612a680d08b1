// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"code.hybscloud.com/engine/internal/load"
	"code.hybscloud.com/engine/internal/scalars"
	"code.hybscloud.com/engine/namespace"
)

// LoadSnapshot holds the stream counters of one binding.
type LoadSnapshot = load.Snapshot

// MetricSample is the value of one metric of one binding, summed across
// workers.
type MetricSample struct {
	Binding string
	Metric  string
	Kind    MetricKind
	Value   int64
}

// Engine runs one Worker per shard.
type Engine struct {
	id       uuid.UUID
	config   Config
	opts     *options
	logger   *slog.Logger
	workers  []*Worker
	executor *executor
	tempDir  bool

	mu         sync.Mutex
	namespaces map[string]*namespace.Config
	cancel     context.CancelFunc
	group      *errgroup.Group
	closed     bool
}

// New creates the engine and the layouts of every worker. Workers do not
// run until Start.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		id:         uuid.New(),
		opts:       newOptions(cfg.Workers, opts),
		namespaces: make(map[string]*namespace.Config),
	}
	e.logger = e.opts.logger.With("engine", e.id.String())
	e.opts.logger = e.logger
	if cfg.Directory == "" {
		cfg.Directory = filepath.Join(os.TempDir(), "engine-"+e.id.String())
		e.tempDir = true
	}
	if err := os.MkdirAll(cfg.Directory, 0o700); err != nil {
		return nil, fmt.Errorf("engine: create directory: %w", err)
	}
	e.config = cfg
	if cfg.TaskParallelism > 0 {
		e.executor = newExecutor(cfg.TaskParallelism)
	}
	for i := range cfg.Workers {
		w, err := newWorker(cfg, i, e.opts, e.executor)
		if err != nil {
			return nil, errors.Join(err, e.Close())
		}
		e.workers = append(e.workers, w)
	}
	e.logger.Info("engine created", "workers", cfg.Workers, "directory", cfg.Directory)
	return e, nil
}

// ID returns the engine instance id.
func (e *Engine) ID() uuid.UUID { return e.id }

// Config returns the settings in effect, including the chosen Directory.
func (e *Engine) Config() Config { return e.config }

// Labels returns the label table shared by the workers.
func (e *Engine) Labels() *namespace.Labels { return e.opts.labels }

// Workers returns the engine's workers by shard index.
func (e *Engine) Workers() []*Worker { return e.workers }

// Start runs every worker on its own goroutine until ctx is done, Close
// is called, or a worker fails.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.group != nil {
		return errors.New("engine: already started")
	}
	ctx, e.cancel = context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range e.workers {
		if !w.markRunning() {
			e.cancel()
			return fmt.Errorf("%w: %s", ErrClosed, w.Name())
		}
		g.Go(func() error { return w.Run(ctx) })
	}
	e.group = g
	return nil
}

// Wait blocks until the workers have stopped and returns the first failure.
func (e *Engine) Wait() error {
	e.mu.Lock()
	g := e.group
	e.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Attach resolves ns and attaches it on every worker.
func (e *Engine) Attach(ctx context.Context, ns *namespace.Config) error {
	if err := ns.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if _, ok := e.namespaces[ns.Name]; ok {
		e.mu.Unlock()
		return fmt.Errorf("engine: namespace %s already attached", ns.Name)
	}
	ns.Resolve(e.opts.labels)
	e.namespaces[ns.Name] = ns
	e.mu.Unlock()

	if err := e.fanout(ctx, ns, (*Worker).Attach); err != nil {
		_ = e.fanout(context.WithoutCancel(ctx), ns, (*Worker).Detach)
		e.mu.Lock()
		delete(e.namespaces, ns.Name)
		e.mu.Unlock()
		return err
	}
	e.logger.Info("namespace attached", "namespace", ns.Name, "bindings", len(ns.Bindings))
	return nil
}

// Detach detaches the namespace named name from every worker.
func (e *Engine) Detach(ctx context.Context, name string) error {
	e.mu.Lock()
	ns, ok := e.namespaces[name]
	delete(e.namespaces, name)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNamespace, name)
	}
	err := e.fanout(ctx, ns, (*Worker).Detach)
	e.logger.Info("namespace detached", "namespace", name)
	return err
}

func (e *Engine) fanout(ctx context.Context, ns *namespace.Config, op func(*Worker, *namespace.Config) *Task) error {
	var g errgroup.Group
	for _, w := range e.workers {
		task := op(w, ns)
		g.Go(func() error {
			if err := task.Wait(ctx); err != nil && !errors.Is(err, ErrUnknownNamespace) {
				return fmt.Errorf("%s: %w", w.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close stops the workers, waits for them to release their resources and
// removes a directory created by New.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	g, cancel := e.group, e.cancel
	e.mu.Unlock()

	var errs []error
	if g != nil {
		cancel()
		errs = append(errs, g.Wait())
	} else {
		for _, w := range e.workers {
			errs = append(errs, w.Close())
		}
	}
	if e.executor != nil {
		e.executor.close()
	}
	if e.tempDir {
		errs = append(errs, os.RemoveAll(e.config.Directory))
	}
	err := errors.Join(errs...)
	if err != nil {
		e.logger.Error("engine closed", "error", err)
	} else {
		e.logger.Info("engine closed")
	}
	return err
}

// Load returns the counters of bindingID summed across workers.
func (e *Engine) Load(bindingID uint64) LoadSnapshot {
	var total LoadSnapshot
	for _, w := range e.workers {
		if s, ok := w.Load(bindingID); ok {
			total = total.Add(s)
		}
	}
	return total
}

// Metrics returns every recorded metric summed across workers, sorted by
// binding then metric name.
func (e *Engine) Metrics() []MetricSample {
	type key struct{ binding, metric uint64 }
	sums := make(map[key]*MetricSample)
	var samples []MetricSample
	labels := e.opts.labels
	for _, w := range e.workers {
		for _, s := range w.scalars.Samples() {
			k := key{s.BindingID, s.MetricID}
			if sum, ok := sums[k]; ok {
				sum.Value += s.Value
				continue
			}
			kind := CounterKind
			if s.Kind == scalars.Gauge {
				kind = GaugeKind
			}
			sums[k] = &MetricSample{
				Binding: labels.Name(s.BindingID),
				Metric:  labels.Lookup(namespace.LocalID(s.MetricID)),
				Kind:    kind,
				Value:   s.Value,
			}
		}
	}
	for _, s := range sums {
		samples = append(samples, *s)
	}
	slices.SortFunc(samples, func(a, b MetricSample) int {
		if c := strings.Compare(a.Binding, b.Binding); c != 0 {
			return c
		}
		return strings.Compare(a.Metric, b.Metric)
	})
	return samples
}
