// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"code.hybscloud.com/engine/internal/layout"
	"code.hybscloud.com/engine/stream"
)

// Config holds the engine settings. Zero values are replaced by defaults
// in LoadConfig; use DefaultConfig when building one in code.
type Config struct {
	// Name prefixes worker names in logs.
	Name string `yaml:"name"`
	// Directory holds the layout files. Empty selects a fresh directory
	// under os.TempDir named after the engine instance id.
	Directory string `yaml:"directory"`
	// Workers is the number of shards, at most 64.
	Workers int `yaml:"workers"`

	// StreamsBufferCapacity is the ring size of each data file, a power of two.
	StreamsBufferCapacity int `yaml:"streamsBufferCapacity"`
	// BudgetsBufferCapacity is the size of each budgets file; divided into
	// 32-byte entries, the entry count must be a power of two.
	BudgetsBufferCapacity int `yaml:"budgetsBufferCapacity"`
	// BufferPoolCapacity is the size of each buffers file body.
	BufferPoolCapacity int `yaml:"bufferPoolCapacity"`
	// BufferSlotCapacity is the size of each buffer pool slot.
	BufferSlotCapacity int `yaml:"bufferSlotCapacity"`

	// ReadLimit bounds frames read per DoWork.
	ReadLimit int `yaml:"readLimit"`
	// ExpireLimit bounds timers expired per DoWork.
	ExpireLimit int `yaml:"expireLimit"`
	// TimerTickResolution is the wheel tick, a power of two milliseconds.
	TimerTickResolution time.Duration `yaml:"timerTickResolution"`
	// TimerTicksPerWheel is the number of wheel spokes, a power of two.
	TimerTicksPerWheel int `yaml:"timerTicksPerWheel"`

	// TaskParallelism is the number of background task goroutines.
	// Zero runs signaled tasks inline on the worker.
	TaskParallelism int `yaml:"taskParallelism"`
	// TaskQueueCapacity bounds pending attach and detach tasks per worker.
	TaskQueueCapacity int `yaml:"taskQueueCapacity"`

	// DrainOnClose keeps reading frames on close until the ring is empty
	// or DrainTimeout elapses.
	DrainOnClose bool          `yaml:"drainOnClose"`
	DrainTimeout time.Duration `yaml:"drainTimeout"`
	// SyntheticAbort aborts every live stream on close and then requires
	// all buffers and budgets to be released.
	SyntheticAbort bool `yaml:"syntheticAbort"`
	// ChildCleanupLinger delays reuse of released child budgets.
	ChildCleanupLinger time.Duration `yaml:"childCleanupLinger"`

	// LogLevel is one of debug, info, warn, error; read by the daemon.
	LogLevel string `yaml:"logLevel"`
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		Name:                  "engine",
		Workers:               min(runtime.NumCPU(), stream.MaxShards),
		StreamsBufferCapacity: 1 << 20,
		BudgetsBufferCapacity: 1 << 16,
		BufferPoolCapacity:    1 << 22,
		BufferSlotCapacity:    1 << 16,
		ReadLimit:             math.MaxInt,
		ExpireLimit:           math.MaxInt,
		TimerTickResolution:   16 * time.Millisecond,
		TimerTicksPerWheel:    1024,
		TaskParallelism:       1,
		TaskQueueCapacity:     64,
		DrainTimeout:          30 * time.Second,
		ChildCleanupLinger:    5 * time.Second,
		LogLevel:              "info",
	}
}

// LoadConfig reads YAML settings from path over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("engine: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("engine: parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var ErrInvalidConfig = errors.New("engine: invalid config")

func powerOfTwo(n int64) bool {
	return n > 0 && n&(n-1) == 0
}

// Validate checks the settings for consistency.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}
	if c.Workers < 1 || c.Workers > stream.MaxShards {
		invalid("workers must be in [1, %d]: %d", stream.MaxShards, c.Workers)
	}
	if !powerOfTwo(int64(c.StreamsBufferCapacity)) {
		invalid("streamsBufferCapacity must be a power of two: %d", c.StreamsBufferCapacity)
	}
	if !powerOfTwo(int64(c.BudgetsBufferCapacity / layout.BudgetEntrySize)) {
		invalid("budgetsBufferCapacity must hold a power of two entries: %d", c.BudgetsBufferCapacity)
	}
	if c.BufferSlotCapacity <= 0 || c.BufferPoolCapacity < c.BufferSlotCapacity {
		invalid("bufferPoolCapacity %d must hold at least one slot of %d", c.BufferPoolCapacity, c.BufferSlotCapacity)
	}
	if c.ReadLimit <= 0 || c.ExpireLimit <= 0 {
		invalid("readLimit and expireLimit must be positive")
	}
	if !powerOfTwo(c.TimerTickResolution.Milliseconds()) {
		invalid("timerTickResolution must be a power of two milliseconds: %v", c.TimerTickResolution)
	}
	if !powerOfTwo(int64(c.TimerTicksPerWheel)) || c.TimerTicksPerWheel > 1<<15 {
		invalid("timerTicksPerWheel must be a power of two up to 32768: %d", c.TimerTicksPerWheel)
	}
	if c.TaskParallelism < 0 {
		invalid("taskParallelism must not be negative: %d", c.TaskParallelism)
	}
	if c.TaskQueueCapacity <= 0 {
		invalid("taskQueueCapacity must be positive: %d", c.TaskQueueCapacity)
	}
	return errors.Join(errs...)
}
