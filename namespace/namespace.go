// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package namespace models the configuration scopes attached to an engine.
//
// Every component of a namespace is identified by a 64-bit namespaced id
// combining the label id of the namespace (high 32 bits) with the label id
// of the component name (low 32 bits). Label ids are interned by [Labels],
// shared by all workers of an engine.
package namespace

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ID combines a namespace label id and a local label id.
func ID(namespaceID, localID int32) uint64 {
	return uint64(uint32(namespaceID))<<32 | uint64(uint32(localID))
}

// NamespaceID returns the namespace label id of id.
func NamespaceID(id uint64) int32 { return int32(id >> 32) }

// LocalID returns the local label id of id.
func LocalID(id uint64) int32 { return int32(id) }

// Labels interns names as small positive ids. Safe for concurrent use.
type Labels struct {
	mu     sync.RWMutex
	ids    map[string]int32
	labels []string
}

// NewLabels returns an empty label table.
func NewLabels() *Labels {
	return &Labels{ids: make(map[string]int32), labels: []string{""}}
}

// Supply returns the id of label, assigning the next id on first use.
func (l *Labels) Supply(label string) int32 {
	l.mu.RLock()
	id, ok := l.ids[label]
	l.mu.RUnlock()
	if ok {
		return id
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok = l.ids[label]; ok {
		return id
	}
	id = int32(len(l.labels))
	l.ids[label] = id
	l.labels = append(l.labels, label)
	return id
}

// Lookup returns the label of id, or "" when unknown.
func (l *Labels) Lookup(id int32) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id <= 0 || int(id) >= len(l.labels) {
		return ""
	}
	return l.labels[id]
}

// Name renders a namespaced id as "namespace.local".
func (l *Labels) Name(id uint64) string {
	return l.Lookup(NamespaceID(id)) + "." + l.Lookup(LocalID(id))
}

// ComponentConfig declares a guard, vault, catalog or exporter.
type ComponentConfig struct {
	Name    string         `yaml:"name"`
	Type    string         `yaml:"type"`
	Options map[string]any `yaml:"options,omitempty"`

	ID uint64 `yaml:"-"`
}

// MetricConfig references a metric by its qualified name, "group.name".
type MetricConfig struct {
	Name string `yaml:"name"`

	ID uint64 `yaml:"-"`
}

// Group returns the metric group, the name prefix before the first dot.
func (m *MetricConfig) Group() string {
	group, _, _ := strings.Cut(m.Name, ".")
	return group
}

// Telemetry lists the metrics a binding records.
type Telemetry struct {
	Metrics []string `yaml:"metrics,omitempty"`
}

// BindingConfig declares a binding.
type BindingConfig struct {
	Name      string         `yaml:"name"`
	Type      string         `yaml:"type"`
	Kind      string         `yaml:"kind"`
	Entry     string         `yaml:"entry,omitempty"`
	Exit      string         `yaml:"exit,omitempty"`
	Vault     string         `yaml:"vault,omitempty"`
	Options   map[string]any `yaml:"options,omitempty"`
	Telemetry Telemetry      `yaml:"telemetry,omitempty"`

	ID        uint64   `yaml:"-"`
	ExitID    uint64   `yaml:"-"`
	VaultID   uint64   `yaml:"-"`
	MetricIDs []uint64 `yaml:"-"`
}

// Config declares one namespace.
type Config struct {
	Name      string            `yaml:"name"`
	Vaults    []ComponentConfig `yaml:"vaults,omitempty"`
	Guards    []ComponentConfig `yaml:"guards,omitempty"`
	Catalogs  []ComponentConfig `yaml:"catalogs,omitempty"`
	Metrics   []MetricConfig    `yaml:"metrics,omitempty"`
	Exporters []ComponentConfig `yaml:"exporters,omitempty"`
	Bindings  []BindingConfig   `yaml:"bindings,omitempty"`

	ID int32 `yaml:"-"`
}

var ErrInvalid = errors.New("namespace: invalid config")

// Validate checks names are present and unique within each component kind.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: namespace name is required", ErrInvalid)
	}
	check := func(kind string, names []string) error {
		seen := make(map[string]bool, len(names))
		for _, name := range names {
			if name == "" {
				return fmt.Errorf("%w: %s: %s name is required", ErrInvalid, c.Name, kind)
			}
			if seen[name] {
				return fmt.Errorf("%w: %s: duplicate %s %q", ErrInvalid, c.Name, kind, name)
			}
			seen[name] = true
		}
		return nil
	}
	components := func(cs []ComponentConfig) []string {
		names := make([]string, len(cs))
		for i := range cs {
			names[i] = cs[i].Name
		}
		return names
	}
	bindings := make([]string, len(c.Bindings))
	for i := range c.Bindings {
		bindings[i] = c.Bindings[i].Name
		if c.Bindings[i].Type == "" {
			return fmt.Errorf("%w: %s.%s: binding type is required", ErrInvalid, c.Name, c.Bindings[i].Name)
		}
	}
	metrics := make([]string, len(c.Metrics))
	for i := range c.Metrics {
		metrics[i] = c.Metrics[i].Name
	}
	return errors.Join(
		check("vault", components(c.Vaults)),
		check("guard", components(c.Guards)),
		check("catalog", components(c.Catalogs)),
		check("metric", metrics),
		check("exporter", components(c.Exporters)),
		check("binding", bindings),
	)
}

// Resolve assigns namespaced ids to the namespace and its components.
// References may be local names or qualified "namespace:name".
func (c *Config) Resolve(labels *Labels) {
	c.ID = labels.Supply(c.Name)
	resolve := func(ref string) uint64 {
		if ref == "" {
			return 0
		}
		if ns, name, ok := strings.Cut(ref, ":"); ok {
			return ID(labels.Supply(ns), labels.Supply(name))
		}
		return ID(c.ID, labels.Supply(ref))
	}
	for _, cs := range [][]ComponentConfig{c.Vaults, c.Guards, c.Catalogs, c.Exporters} {
		for i := range cs {
			cs[i].ID = resolve(cs[i].Name)
		}
	}
	for i := range c.Metrics {
		c.Metrics[i].ID = resolve(c.Metrics[i].Name)
	}
	for i := range c.Bindings {
		b := &c.Bindings[i]
		b.ID = resolve(b.Name)
		b.ExitID = resolve(b.Exit)
		b.VaultID = resolve(b.Vault)
		b.MetricIDs = b.MetricIDs[:0]
		for _, m := range b.Telemetry.Metrics {
			b.MetricIDs = append(b.MetricIDs, resolve(m))
		}
	}
}

// Parse decodes YAML namespace documents. Multiple namespaces may be
// listed under a top-level "namespaces" key or given as a single document.
func Parse(data []byte) ([]*Config, error) {
	var doc struct {
		Namespaces []*Config `yaml:"namespaces"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("namespace: parse: %w", err)
	}
	if len(doc.Namespaces) == 0 {
		var single Config
		if err := yaml.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("namespace: parse: %w", err)
		}
		doc.Namespaces = []*Config{&single}
	}
	for _, c := range doc.Namespaces {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return doc.Namespaces, nil
}

// Load reads and parses a namespace file.
func Load(path string) ([]*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("namespace: read %s: %w", path, err)
	}
	return Parse(data)
}
