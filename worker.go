// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/lfq"

	"code.hybscloud.com/engine/budget"
	"code.hybscloud.com/engine/bufferpool"
	"code.hybscloud.com/engine/frame"
	"code.hybscloud.com/engine/internal/layout"
	"code.hybscloud.com/engine/internal/load"
	"code.hybscloud.com/engine/internal/ringbuf"
	"code.hybscloud.com/engine/internal/scalars"
	"code.hybscloud.com/engine/internal/timer"
	"code.hybscloud.com/engine/namespace"
	"code.hybscloud.com/engine/stream"
)

const (
	workerIdle uint32 = iota
	workerRunning
	workerClosed
)

// Worker is one shard: it owns a ring of incoming frames, the dispatch
// tables of the streams it serves, and its budgets, buffers and timers.
// Except where noted, methods must be called on the worker's goroutine.
type Worker struct {
	name        string
	index       int
	workersMask uint64
	config      Config
	opts        *options
	logger      *slog.Logger
	labels      *namespace.Labels

	streamsLayout *layout.Streams
	budgetsLayout *layout.Budgets
	ring          *ringbuf.Ring
	pool          *bufferpool.Pool
	creditor      *budget.Creditor
	debitors      map[int]*budget.Debitor
	poller        Poller

	streams      dispatchTable
	throttles    dispatchTable
	correlations map[uint64]frame.Handler
	streamSets   map[uint64]map[uint64]struct{}
	targets      [stream.MaxShards]*target
	affinities   map[uint64]*affinity
	registry     *registry

	wheel          *timer.Wheel
	tasksByTimerID map[int64]func()
	futures        map[int64]*future
	nextFutureID   int64
	executor       *executor
	inflight       sync.WaitGroup

	taskMu    sync.Mutex
	taskQueue lfq.SPSC[*Task]
	state     atomix.Uint32

	streamIDs   *stream.Supplier
	budgetIDs   *budget.Supplier
	traceID     uint64
	writeBuffer []byte
	scratch     []byte

	load    *load.Table
	scalars *scalars.Table

	lastStreamID  uint64
	readHandler   func(int32, []byte)
	expireHandler timer.Handler
	dropped       frame.Handler
}

func newWorker(cfg Config, index int, opts *options, exec *executor) (w *Worker, err error) {
	w = &Worker{
		name:           fmt.Sprintf("%s#%d", cfg.Name, index),
		index:          index,
		config:         cfg,
		opts:           opts,
		labels:         opts.labels,
		debitors:       make(map[int]*budget.Debitor),
		correlations:   make(map[uint64]frame.Handler),
		streamSets:     make(map[uint64]map[uint64]struct{}),
		affinities:     make(map[uint64]*affinity),
		tasksByTimerID: make(map[int64]func()),
		futures:        make(map[int64]*future),
		nextFutureID:   -1,
		executor:       exec,
		streamIDs:      stream.NewSupplier(index),
		budgetIDs:      budget.NewSupplier(index),
		writeBuffer:    make([]byte, cfg.BufferSlotCapacity+frame.HeaderSize+64),
		scratch:        make([]byte, 0, frame.HeaderSize+64),
		load:           load.NewTable(),
		scalars:        scalars.NewTable(),
	}
	w.workersMask = uint64(1)<<uint(cfg.Workers) - 1
	if cfg.Workers >= 64 {
		w.workersMask = math.MaxUint64
	}
	w.logger = opts.logger.With("worker", w.name)
	w.taskQueue.Init(cfg.TaskQueueCapacity)

	defer func() {
		if err != nil {
			w.closeLayouts()
		}
	}()
	if w.streamsLayout, err = layout.CreateStreams(cfg.Directory, index, cfg.StreamsBufferCapacity); err != nil {
		return nil, fmt.Errorf("engine: %s: %w", w.name, err)
	}
	w.ring = w.streamsLayout.Ring
	if w.budgetsLayout, err = layout.CreateBudgets(cfg.Directory, index, cfg.BudgetsBufferCapacity/layout.BudgetEntrySize); err != nil {
		return nil, fmt.Errorf("engine: %s: %w", w.name, err)
	}
	buffers, err := layout.CreateBuffers(cfg.Directory, index, cfg.BufferPoolCapacity/cfg.BufferSlotCapacity, cfg.BufferSlotCapacity)
	if err != nil {
		return nil, fmt.Errorf("engine: %s: %w", w.name, err)
	}
	w.pool = bufferpool.New(buffers)
	if w.wheel, err = timer.New(w.now().UnixMilli(), cfg.TimerTickResolution.Milliseconds(), cfg.TimerTicksPerWheel); err != nil {
		return nil, fmt.Errorf("engine: %s: %w", w.name, err)
	}
	w.creditor = budget.NewCreditor(budget.CreditorConfig{
		Index:   index,
		Budgets: w.budgetsLayout,
		Flusher: w.doSystemFlush,
		Linger:  cfg.ChildCleanupLinger,
		Schedule: func(delay time.Duration, task func()) {
			w.scheduleTimer(w.now().Add(delay).UnixMilli(), task)
		},
		Logger: w.logger,
	})
	w.poller = opts.poller(index)
	w.readHandler = w.handleRead
	w.expireHandler = w.handleExpire
	w.dropped = w.handleDropped
	w.registry = newRegistry(w)
	return w, nil
}

func (w *Worker) now() time.Time { return w.opts.clock() }

// Name returns the worker name used in logs and errors.
func (w *Worker) Name() string { return w.name }

func (w *Worker) Index() int { return w.index }

func (w *Worker) Logger() *slog.Logger { return w.logger }

func (w *Worker) Now() time.Time { return w.now() }

func (w *Worker) WriteBuffer() []byte { return w.writeBuffer }

func (w *Worker) Creditor() *budget.Creditor { return w.creditor }

func (w *Worker) BufferPool() *bufferpool.Pool { return w.pool }

func (w *Worker) Signaler() Signaler { return w }

func (w *Worker) DroppedFrame() frame.Handler { return w.dropped }

// SupplyInitialID returns a new initial stream id towards the shard
// chosen for bindingID.
func (w *Worker) SupplyInitialID(bindingID uint64) uint64 {
	return w.streamIDs.InitialID(w.resolveRemoteIndex(bindingID))
}

func (w *Worker) SupplyReplyID(initialID uint64) uint64 {
	return stream.ReplyID(initialID)
}

func (w *Worker) SupplyPromiseID(initialID uint64) uint64 {
	return w.streamIDs.PromiseID(initialID)
}

// SupplyTraceID returns a trace id unique to this worker.
func (w *Worker) SupplyTraceID() uint64 {
	w.traceID++
	return budget.Mask(w.index) | w.traceID
}

func (w *Worker) SupplyBudgetID() uint64 {
	return w.budgetIDs.BudgetID()
}

func (w *Worker) SupplySender(streamID uint64) frame.Handler {
	return w.supplyWriter(stream.StreamIndex(streamID))
}

func (w *Worker) SupplyReceiver(streamID uint64) frame.Handler {
	return w.supplyWriter(stream.ThrottleIndex(streamID))
}

// supplyReplyTo returns the writer for frames answering streamID.
func (w *Worker) supplyReplyTo(streamID uint64) frame.Handler {
	return w.supplyWriter(stream.StreamIndex(streamID))
}

func (w *Worker) DetachSender(replyID uint64) {
	w.streams.remove(stream.StreamIndex(replyID), stream.InstanceID(replyID))
	delete(w.correlations, replyID)
}

func (w *Worker) NewStream(t frame.TypeID, begin frame.Frame, sender frame.Handler) frame.Handler {
	initialID := begin.StreamID()
	replyID := stream.ReplyID(initialID)
	w.throttles.put(stream.ThrottleIndex(initialID), stream.InstanceID(initialID), sender)
	w.correlations[replyID] = sender
	return w.SupplyReceiver(initialID)
}

// SupplyDebitor returns the debitor for the owner of budgetID, mapping
// the owner's budgets on first use.
func (w *Worker) SupplyDebitor(budgetID uint64) (*budget.Debitor, error) {
	owner := budget.OwnerIndex(budgetID)
	if d := w.debitors[owner]; d != nil {
		return d, nil
	}
	budgets, err := layout.OpenBudgets(w.config.Directory, owner)
	if err != nil {
		return nil, fmt.Errorf("engine: %s: open budgets %d: %w", w.name, owner, err)
	}
	d := budget.NewDebitor(budget.DebitorConfig{
		Index:      w.index,
		OwnerIndex: owner,
		Budgets:    budgets,
		Logger:     w.logger,
	})
	w.debitors[owner] = d
	return d, nil
}

func (w *Worker) SupplyGuard(guardID uint64) GuardHandler {
	return w.registry.resolveGuard(guardID)
}

func (w *Worker) SupplyVault(vaultID uint64) VaultHandler {
	return w.registry.resolveVault(vaultID)
}

func (w *Worker) SupplyCatalog(catalogID uint64) CatalogHandler {
	return w.registry.resolveCatalog(catalogID)
}

// Attach attaches ns on the worker goroutine. ns must already be resolved
// against the worker's labels. Safe from any goroutine.
func (w *Worker) Attach(ns *namespace.Config) *Task {
	return w.submit(newTask(func() error { return w.registry.attach(ns) }))
}

// Detach detaches ns on the worker goroutine. Safe from any goroutine.
func (w *Worker) Detach(ns *namespace.Config) *Task {
	return w.submit(newTask(func() error { return w.registry.detach(ns) }))
}

// Load returns the load counters recorded for bindingID. Safe from any goroutine.
func (w *Worker) Load(bindingID uint64) (load.Snapshot, bool) {
	return w.load.Snapshot(bindingID)
}

// track records initialID as served by bindingID for bulk teardown.
func (w *Worker) track(bindingID, initialID uint64) {
	set := w.streamSets[bindingID]
	if set == nil {
		set = make(map[uint64]struct{})
		w.streamSets[bindingID] = set
	}
	set[initialID] = struct{}{}
}

// untrack forgets initialID once neither its stream nor its reply
// throttle remains bound.
func (w *Worker) untrack(bindingID, initialID uint64) {
	set := w.streamSets[bindingID]
	if set == nil {
		return
	}
	if _, ok := set[initialID]; !ok {
		return
	}
	replyID := stream.ReplyID(initialID)
	if w.streams.get(stream.StreamIndex(initialID), stream.InstanceID(initialID)) != nil ||
		w.throttles.get(stream.ThrottleIndex(replyID), stream.InstanceID(replyID)) != nil {
		return
	}
	delete(set, initialID)
	if len(set) == 0 {
		delete(w.streamSets, bindingID)
	}
}

// detachStreams aborts every stream still served by bindingID and resets
// its initial toward the shard that opened it.
func (w *Worker) detachStreams(bindingID uint64) {
	set := w.streamSets[bindingID]
	delete(w.streamSets, bindingID)
	for initialID := range set {
		replyID := stream.ReplyID(initialID)
		w.throttles.remove(stream.ThrottleIndex(replyID), stream.InstanceID(replyID))
		if h := w.streams.remove(stream.StreamIndex(initialID), stream.InstanceID(initialID)); h != nil {
			w.doSyntheticAbort(initialID, h)
			w.doSyntheticReset(initialID, w.supplyWriter(stream.StreamIndex(initialID)))
		}
	}
}
