// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"

	"code.hybscloud.com/engine"
	"code.hybscloud.com/engine/namespace"
)

type guard struct{}

func (guard) Verify(authorization uint64, _ ...string) bool { return authorization != 0 }

type vault map[string][]byte

func (v vault) Key(ref string) ([]byte, bool) {
	k, ok := v[ref]
	return k, ok
}

type catalog struct{}

func (catalog) Resolve(schemaID int32) (string, bool) { return "", false }

func fullNamespace() *namespace.Config {
	component := func(name string) []namespace.ComponentConfig {
		return []namespace.ComponentConfig{{Name: name, Type: "test"}}
	}
	return &namespace.Config{
		Name:      "ns",
		Vaults:    component("v"),
		Guards:    component("g"),
		Catalogs:  component("c"),
		Exporters: component("x"),
		Bindings:  []namespace.BindingConfig{{Name: "b", Type: "test", Kind: "server", Vault: "v"}},
	}
}

func componentOptions(ev *events, exporter *testExporter) []engine.Option {
	return []engine.Option{
		engine.WithBinding(&testBinding{name: "test", events: ev}),
		engine.WithVault(&testComponent[engine.VaultHandler]{kind: "vault", events: ev, handler: vault{"k": []byte("secret")}}),
		engine.WithGuard(&testComponent[engine.GuardHandler]{kind: "guard", events: ev, handler: guard{}}),
		engine.WithCatalog(&testComponent[engine.CatalogHandler]{kind: "catalog", events: ev, handler: catalog{}}),
		engine.WithExporter(&testComponent[engine.ExporterHandler]{kind: "exporter", events: ev, handler: exporter}),
	}
}

func TestAttachDetachOrder(t *testing.T) {
	ev := &events{}
	exporter := &testExporter{events: ev, exports: make(chan struct{})}
	e := newEngine(t, testConfig(t, 2), componentOptions(ev, exporter)...)

	attach(t, e, fullNamespace())
	<-exporter.exports
	attached := ev.list()
	for _, index := range []string{"0", "1"} {
		var got []string
		for _, entry := range attached {
			if entry[:1] == index {
				got = append(got, entry)
			}
		}
		want := []string{index + " attach vault v", index + " attach guard g", index + " attach catalog c"}
		if index == "0" {
			want = append(want, "0 attach exporter x")
		}
		want = append(want, index+" attach binding b")
		assert.Equal(t, want, got, "worker %s", index)
	}
	assert.Contains(t, attached, "start exporter")

	ev.reset()
	require.NoError(t, e.Detach(context.Background(), "ns"))
	assert.Equal(t, []string{
		"0 detach vault", "0 detach guard", "0 detach catalog", "0 detach binding",
		"stop exporter", "0 detach exporter",
		"1 detach vault", "1 detach guard", "1 detach catalog", "1 detach binding",
	}, sortByWorker(ev.list()))
}

// sortByWorker orders entries by worker while keeping each worker's
// sequence, since workers detach concurrently.
func sortByWorker(log []string) []string {
	worker := func(s string) byte {
		if s[0] == '1' {
			return 1
		}
		return 0
	}
	slices.SortStableFunc(log, func(a, b string) int { return int(worker(a)) - int(worker(b)) })
	return log
}

func TestResolveComponents(t *testing.T) {
	ev := &events{}
	exporter := &testExporter{events: ev, exports: make(chan struct{})}
	e := newEngine(t, testConfig(t, 1), componentOptions(ev, exporter)...)
	ns := fullNamespace()
	attach(t, e, ns)

	w := e.Workers()[0]
	key, ok := w.SupplyVault(ns.Bindings[0].VaultID).Key("k")
	require.True(t, ok)
	assert.Equal(t, "secret", string(key))
	assert.True(t, w.SupplyGuard(ns.Guards[0].ID).Verify(1))
	assert.NotNil(t, w.SupplyCatalog(ns.Catalogs[0].ID))
	assert.Nil(t, w.SupplyGuard(ns.Guards[0].ID+1))
	assert.Nil(t, w.SupplyVault(namespace.ID(ns.ID+1, 1)))
}

func TestAttachUnknownType(t *testing.T) {
	ev := &events{}
	e := newEngine(t, testConfig(t, 2), engine.WithBinding(&testBinding{name: "test", events: ev}))

	ns := &namespace.Config{
		Name: "ns",
		Bindings: []namespace.BindingConfig{
			{Name: "a", Type: "test", Kind: "server"},
			{Name: "b", Type: "missing", Kind: "server"},
		},
	}
	err := e.Attach(context.Background(), ns)
	require.ErrorIs(t, err, engine.ErrUnknownType)
	assert.Contains(t, err.Error(), `"missing"`)
	assert.Contains(t, ev.list(), "0 detach binding", "partial attach is rolled back")

	ns.Bindings = ns.Bindings[:1]
	attach(t, e, ns)
}

func TestAttachUnknownMetric(t *testing.T) {
	e := newEngine(t, testConfig(t, 1), engine.WithBinding(&testBinding{name: "test"}))
	ns := &namespace.Config{
		Name:     "ns",
		Metrics:  []namespace.MetricConfig{{Name: "stream.opens"}},
		Bindings: []namespace.BindingConfig{{Name: "b", Type: "test"}},
	}
	require.ErrorIs(t, e.Attach(context.Background(), ns), engine.ErrUnknownType)
}

func TestAttachEmptyAffinity(t *testing.T) {
	e := newEngine(t, testConfig(t, 2),
		engine.WithBinding(&testBinding{name: "test"}),
		engine.WithAffinityMask(func(uint64) uint64 { return 0b100 }),
	)
	ns := &namespace.Config{Name: "ns", Bindings: []namespace.BindingConfig{{Name: "b", Type: "test"}}}
	require.ErrorIs(t, e.Attach(context.Background(), ns), engine.ErrAffinity)
}

func TestAttachTwice(t *testing.T) {
	e := newEngine(t, testConfig(t, 1), engine.WithBinding(&testBinding{name: "test"}))
	attach(t, e, &namespace.Config{Name: "ns"})
	assert.Error(t, e.Attach(context.Background(), &namespace.Config{Name: "ns"}))
	assert.ErrorIs(t, e.Detach(context.Background(), "other"), engine.ErrUnknownNamespace)
	assert.ErrorIs(t, e.Attach(context.Background(), &namespace.Config{}), namespace.ErrInvalid)
}
