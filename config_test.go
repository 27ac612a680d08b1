// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code.hybscloud.com/engine"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := engine.DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1<<16, cfg.BufferSlotCapacity)
	assert.Equal(t, 30*time.Second, cfg.DrainTimeout)
	assert.False(t, cfg.SyntheticAbort)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*engine.Config)
		want   string
	}{
		{"workers", func(c *engine.Config) { c.Workers = 65 }, "workers"},
		{"streams", func(c *engine.Config) { c.StreamsBufferCapacity = 1000 }, "streamsBufferCapacity"},
		{"budgets", func(c *engine.Config) { c.BudgetsBufferCapacity = 96 }, "budgetsBufferCapacity"},
		{"pool", func(c *engine.Config) { c.BufferPoolCapacity = c.BufferSlotCapacity - 1 }, "bufferPoolCapacity"},
		{"limits", func(c *engine.Config) { c.ReadLimit = 0 }, "readLimit"},
		{"tick", func(c *engine.Config) { c.TimerTickResolution = 10 * time.Millisecond }, "timerTickResolution"},
		{"spokes", func(c *engine.Config) { c.TimerTicksPerWheel = 100 }, "timerTicksPerWheel"},
		{"spoke limit", func(c *engine.Config) { c.TimerTicksPerWheel = 1 << 16 }, "timerTicksPerWheel"},
		{"parallelism", func(c *engine.Config) { c.TaskParallelism = -1 }, "taskParallelism"},
		{"queue", func(c *engine.Config) { c.TaskQueueCapacity = 0 }, "taskQueueCapacity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := engine.DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, engine.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: edge
workers: 2
timerTickResolution: 32ms
syntheticAbort: true
logLevel: debug
`), 0o600))

	cfg, err := engine.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "edge", cfg.Name)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 32*time.Millisecond, cfg.TimerTickResolution)
	assert.True(t, cfg.SyntheticAbort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, engine.DefaultConfig().StreamsBufferCapacity, cfg.StreamsBufferCapacity)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := engine.LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("workers: 0\n"), 0o600))
	_, err = engine.LoadConfig(invalid)
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)

	malformed := filepath.Join(dir, "malformed.yaml")
	require.NoError(t, os.WriteFile(malformed, []byte("workers: [\n"), 0o600))
	_, err = engine.LoadConfig(malformed)
	assert.Error(t, err)
}
