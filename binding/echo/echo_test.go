// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package echo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code.hybscloud.com/engine"
	"code.hybscloud.com/engine/binding/echo"
	"code.hybscloud.com/engine/frame"
	"code.hybscloud.com/engine/namespace"
	"code.hybscloud.com/engine/stream"
)

// harness runs a two-worker engine on the test goroutine. Worker 0 plays
// the client; the echo binding is pinned to worker 1.
type harness struct {
	t       *testing.T
	engine  *engine.Engine
	client  *engine.Worker
	server  *engine.Worker
	echoID  uint64
	now     time.Time
	frames  []frame.TypeID
	payload []string
}

func newHarness(t *testing.T, options map[string]any) *harness {
	h := &harness{t: t, now: time.UnixMilli(1_000_000)}
	cfg := engine.DefaultConfig()
	cfg.Name = "echo"
	cfg.Workers = 2
	cfg.Directory = t.TempDir()
	cfg.StreamsBufferCapacity = 1 << 16
	cfg.BufferPoolCapacity = 1 << 14
	cfg.BufferSlotCapacity = 1 << 12
	cfg.TaskParallelism = 0
	cfg.SyntheticAbort = true

	e, err := engine.New(cfg,
		engine.WithBinding(echo.New()),
		engine.WithClock(func() time.Time { return h.now }),
		engine.WithAffinityMask(func(uint64) uint64 { return 0b10 }),
	)
	require.NoError(t, err)
	h.engine = e
	h.client, h.server = e.Workers()[0], e.Workers()[1]

	ns := &namespace.Config{
		Name: "test",
		Bindings: []namespace.BindingConfig{
			{Name: "echo0", Type: echo.Name, Kind: "server", Options: options},
		},
	}
	require.NoError(t, e.Attach(context.Background(), ns))
	h.echoID = ns.Bindings[0].ID
	return h
}

func (h *harness) handle(t frame.TypeID, f frame.Frame) {
	h.frames = append(h.frames, t)
	if t == frame.TypeData {
		h.payload = append(h.payload, string(frame.Data{Frame: f}.Payload()))
	}
}

// pump runs both workers until neither has work left.
func (h *harness) pump() {
	for {
		n0, err := h.client.DoWork()
		require.NoError(h.t, err)
		n1, err := h.server.DoWork()
		require.NoError(h.t, err)
		if n0+n1 == 0 {
			return
		}
	}
}

// open begins a stream towards the echo binding and returns its initial
// id and the writer of its initial frames.
func (h *harness) open() (uint64, frame.Handler) {
	initialID := h.client.SupplyInitialID(h.echoID)
	require.Equal(h.t, 1, stream.ServerIndex(initialID))
	begin := frame.AppendBegin(nil, frame.Header{
		RoutedID: h.echoID,
		StreamID: initialID,
		TraceID:  h.client.SupplyTraceID(),
	}, 0, nil)
	receiver := h.client.NewStream(frame.TypeBegin, begin, h.handle)
	receiver(frame.TypeBegin, begin)
	h.pump()
	return initialID, receiver
}

func (h *harness) header(streamID uint64) frame.Header {
	return frame.Header{RoutedID: h.echoID, StreamID: streamID}
}

func TestEchoRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	initialID, receiver := h.open()
	replyID := stream.ReplyID(initialID)
	assert.Equal(t, []frame.TypeID{frame.TypeBegin}, h.frames)

	window := frame.AppendWindow(nil, h.header(replyID), 0, 0, 0, 0)
	h.client.SupplySender(replyID)(frame.TypeWindow, window)
	h.pump()
	assert.Equal(t, []frame.TypeID{frame.TypeBegin, frame.TypeWindow}, h.frames)

	receiver(frame.TypeData, frame.AppendData(nil, h.header(initialID), 0, 0, 0, []byte("hello"), nil))
	receiver(frame.TypeData, frame.AppendData(nil, h.header(initialID), 0, 0, 0, []byte("world"), nil))
	receiver(frame.TypeEnd, frame.AppendEnd(nil, h.header(initialID), nil))
	h.pump()

	assert.Equal(t, []string{"hello", "world"}, h.payload)
	assert.Equal(t, frame.TypeEnd, h.frames[len(h.frames)-1])

	load := h.engine.Load(h.echoID)
	assert.Equal(t, int64(1), load.InitialOpened)
	assert.Equal(t, int64(1), load.InitialClosed)
	assert.Equal(t, int64(10), load.InitialBytes)
	assert.Equal(t, int64(1), load.ReplyOpened)
	assert.Equal(t, int64(1), load.ReplyClosed)
	assert.Equal(t, int64(10), load.ReplyBytes)
	require.NoError(t, h.engine.Close())
}

func TestEchoMirrorsReplyReset(t *testing.T) {
	h := newHarness(t, nil)
	initialID, _ := h.open()
	replyID := stream.ReplyID(initialID)

	h.client.SupplySender(replyID)(frame.TypeReset, frame.AppendReset(nil, h.header(replyID), nil))
	h.pump()

	assert.Equal(t, []frame.TypeID{frame.TypeBegin, frame.TypeReset}, h.frames)
	assert.Equal(t, int64(1), h.engine.Load(h.echoID).InitialErrored)
	require.NoError(t, h.engine.Close())
}

func TestEchoAbortedOnClose(t *testing.T) {
	h := newHarness(t, map[string]any{"buffered": true})
	h.open()
	h.open()
	assert.Equal(t, 2, h.server.BufferPool().AcquiredSlots())

	require.NoError(t, h.engine.Close())
	assert.Equal(t, 0, h.server.BufferPool().AcquiredSlots())
}

func TestEchoBufferedPayloadTooLarge(t *testing.T) {
	h := newHarness(t, map[string]any{"buffered": true})
	initialID, receiver := h.open()

	big := make([]byte, h.server.BufferPool().SlotCapacity()+1)
	receiver(frame.TypeData, frame.AppendData(nil, h.header(initialID), 0, 0, 0, big, nil))
	h.pump()

	assert.Equal(t, []frame.TypeID{frame.TypeBegin, frame.TypeReset, frame.TypeAbort}, h.frames)
	assert.Equal(t, 0, h.server.BufferPool().AcquiredSlots())
	require.NoError(t, h.engine.Close())
}

func TestEchoIdleTimeout(t *testing.T) {
	h := newHarness(t, map[string]any{"timeout": "64ms"})
	initialID, receiver := h.open()

	h.now = h.now.Add(32 * time.Millisecond)
	receiver(frame.TypeData, frame.AppendData(nil, h.header(initialID), 0, 0, 0, []byte("x"), nil))
	h.pump()
	h.now = h.now.Add(48 * time.Millisecond)
	h.pump()
	assert.Equal(t, []frame.TypeID{frame.TypeBegin, frame.TypeData}, h.frames, "activity extends the deadline")

	h.now = h.now.Add(time.Second)
	h.pump()
	h.pump()
	assert.Equal(t, []frame.TypeID{frame.TypeBegin, frame.TypeData, frame.TypeReset, frame.TypeAbort}, h.frames)
	require.NoError(t, h.engine.Close())
}

func TestEchoRejectsClientKind(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.Workers = 1
	cfg.Directory = t.TempDir()
	cfg.StreamsBufferCapacity = 1 << 16
	cfg.BufferPoolCapacity = 1 << 14
	cfg.BufferSlotCapacity = 1 << 12
	e, err := engine.New(cfg, engine.WithBinding(echo.New()))
	require.NoError(t, err)
	defer e.Close()

	ns := &namespace.Config{
		Name:     "test",
		Bindings: []namespace.BindingConfig{{Name: "echo0", Type: echo.Name, Kind: "client"}},
	}
	err = e.Attach(context.Background(), ns)
	assert.ErrorIs(t, err, echo.ErrKind)

	ns = &namespace.Config{
		Name: "bad",
		Bindings: []namespace.BindingConfig{{Name: "echo0", Type: echo.Name, Kind: "server",
			Options: map[string]any{"timeout": "soon"}}},
	}
	assert.Error(t, e.Attach(context.Background(), ns))
}
