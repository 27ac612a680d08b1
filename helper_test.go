// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"code.hybscloud.com/engine"
	"code.hybscloud.com/engine/frame"
	"code.hybscloud.com/engine/namespace"
)

func testConfig(t *testing.T, workers int) engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Name = "test"
	cfg.Workers = workers
	cfg.Directory = t.TempDir()
	cfg.StreamsBufferCapacity = 1 << 16
	cfg.BudgetsBufferCapacity = 1 << 12
	cfg.BufferPoolCapacity = 1 << 14
	cfg.BufferSlotCapacity = 1 << 12
	cfg.TaskParallelism = 0
	return cfg
}

func newEngine(t *testing.T, cfg engine.Config, opts ...engine.Option) *engine.Engine {
	e, err := engine.New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// pump runs every worker on the test goroutine until none has work left.
func pump(t *testing.T, e *engine.Engine) {
	t.Helper()
	for {
		total := 0
		for _, w := range e.Workers() {
			n, err := w.DoWork()
			require.NoError(t, err)
			total += n
		}
		if total == 0 {
			return
		}
	}
}

// events records extension callbacks, possibly from exporter goroutines.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, fmt.Sprintf(format, args...))
}

func (e *events) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = nil
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

// frames collects copies of the frames seen by one stream handler.
type frames struct {
	types []frame.TypeID
	all   []frame.Frame
}

func (f *frames) handle(t frame.TypeID, fr frame.Frame) {
	f.types = append(f.types, t)
	f.all = append(f.all, append(frame.Frame(nil), fr...))
}

// of returns the frames of type t in arrival order.
func (f *frames) of(t frame.TypeID) []frame.Frame {
	var out []frame.Frame
	for i, typ := range f.types {
		if typ == t {
			out = append(out, f.all[i])
		}
	}
	return out
}

// last returns the latest frame of type t, or nil.
func (f *frames) last(t frame.TypeID) frame.Frame {
	all := f.of(t)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func (f *frames) count(t frame.TypeID) int { return len(f.of(t)) }

// factory builds the handler of a stream opened on a worker.
type factory func(ctx engine.Context, begin frame.Frame, replyTo frame.Handler) frame.Handler

// testBinding is a binding type whose streams are built by newStream.
type testBinding struct {
	name      string
	events    *events
	newStream factory
}

func (b *testBinding) Name() string { return b.name }

func (b *testBinding) Supply(ctx engine.Context) engine.BindingContext {
	return &testBindingContext{binding: b, ctx: ctx}
}

type testBindingContext struct {
	binding *testBinding
	ctx     engine.Context
}

func (c *testBindingContext) Attach(config *namespace.BindingConfig) (engine.BindingHandler, error) {
	if c.binding.events != nil {
		c.binding.events.add("%d attach binding %s", c.ctx.Index(), config.Name)
	}
	return engine.StreamFactory(func(t frame.TypeID, begin frame.Frame, replyTo frame.Handler) frame.Handler {
		if c.binding.newStream == nil {
			return nil
		}
		return c.binding.newStream(c.ctx, begin, replyTo)
	}), nil
}

func (c *testBindingContext) Detach(bindingID uint64) {
	if c.binding.events != nil {
		c.binding.events.add("%d detach binding", c.ctx.Index())
	}
}

// testComponent is a guard, vault, catalog or exporter type that logs
// its lifecycle and attaches handler.
type testComponent[H any] struct {
	kind    string
	events  *events
	handler H
}

func (c *testComponent[H]) Name() string { return "test" }

func (c *testComponent[H]) Supply(ctx engine.Context) engine.ComponentContext[H] {
	return &testComponentContext[H]{component: c, index: ctx.Index()}
}

type testComponentContext[H any] struct {
	component *testComponent[H]
	index     int
}

func (c *testComponentContext[H]) Attach(config *namespace.ComponentConfig) (H, error) {
	c.component.events.add("%d attach %s %s", c.index, c.component.kind, config.Name)
	return c.component.handler, nil
}

func (c *testComponentContext[H]) Detach(uint64) {
	c.component.events.add("%d detach %s", c.index, c.component.kind)
}

type testExporter struct {
	events  *events
	exports chan struct{}
	once    sync.Once
}

func (x *testExporter) Start() error {
	x.events.add("start exporter")
	return nil
}

func (x *testExporter) Export() int {
	x.once.Do(func() { close(x.exports) })
	return 0
}

func (x *testExporter) Stop() { x.events.add("stop exporter") }

func attach(t *testing.T, e *engine.Engine, ns *namespace.Config) {
	t.Helper()
	require.NoError(t, e.Attach(context.Background(), ns))
}
