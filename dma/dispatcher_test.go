package dma_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/usnistgov/pcidma/dma"
	"github.com/usnistgov/pcidma/dmalock"
)

type fakeBuffer struct {
	data []byte
	eop  bool
	err  error
}

// fakeBackend delivers queued buffers without waiting.
type fakeBackend struct {
	mu      sync.Mutex
	engines []dma.EngineInfo
	queue   []fakeBuffer
	pushed  [][]byte
	started map[dma.EngineID]bool
	waits   []dma.Timeout
	closed  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		engines: []dma.EngineInfo{
			{Addr: 0, Direction: dma.ToDevice, Type: dma.TypePacket, Name: "fake0-s2c"},
			{Addr: 0, Direction: dma.FromDevice, Type: dma.TypePacket, Name: "fake0-c2s"},
			{Addr: 2, Direction: dma.Bidirectional, Type: dma.TypeBlock, Name: "fake2"},
		},
		started: map[dma.EngineID]bool{},
	}
}

func (b *fakeBackend) enqueue(eop bool, data ...[]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, d := range data {
		b.queue = append(b.queue, fakeBuffer{data: d, eop: eop && i == len(data)-1})
	}
}

func (b *fakeBackend) Engines() []dma.EngineInfo {
	return b.engines
}

func (b *fakeBackend) Status(id dma.EngineID, buffers []dma.BufferStatus) (dma.EngineStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return dma.EngineStatus{Started: b.started[id], RingHead: len(b.queue)}, nil
}

func (b *fakeBackend) Close() error {
	b.closed = true
	return nil
}

func (b *fakeBackend) Start(req dma.Request) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started[req.Engine] = true
	return nil
}

func (b *fakeBackend) Stop(req dma.Request) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started[req.Engine] = false
	return nil
}

func (b *fakeBackend) Push(req dma.Request, data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushed = append(b.pushed, append([]byte(nil), data...))
	return len(data), nil
}

func (b *fakeBackend) Stream(req dma.Request, cb dma.Callback) error {
	timeout, fail := req.Timeout, true
	for {
		b.mu.Lock()
		b.waits = append(b.waits, timeout)
		if len(b.queue) == 0 {
			b.mu.Unlock()
			if fail {
				return dma.ErrTimeout
			}
			return nil
		}
		buf := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		if buf.err != nil {
			return buf.err
		}
		var flags dma.Flags
		if buf.eop {
			flags = dma.FlagEOP
		}
		act, e := cb(flags, buf.data)
		if e != nil {
			return e
		}
		if act == dma.ActionStop {
			return nil
		}
		timeout, fail = act.NextWait(req.Timeout, req.DefaultTimeout)
	}
}

// minimalBackend implements only the mandatory interface.
type minimalBackend struct{}

func (minimalBackend) Engines() []dma.EngineInfo {
	return []dma.EngineInfo{{Addr: 0, Direction: dma.Bidirectional, Name: "minimal"}}
}

func (minimalBackend) Status(dma.EngineID, []dma.BufferStatus) (dma.EngineStatus, error) {
	return dma.EngineStatus{}, nil
}

func (minimalBackend) Close() error {
	return nil
}

func TestResolve(t *testing.T) {
	assert, require := makeAR(t)

	d := dma.New(newFakeBackend(), nil, dma.Config{})
	defer d.Close()
	assert.Equal(2, d.Addresses())
	assert.Len(d.Engines(), 3)

	id, e := d.Resolve(dma.ToDevice, 0)
	require.NoError(e)
	assert.Equal(dma.EngineID(0), id)
	id, e = d.Resolve(dma.FromDevice, 0)
	require.NoError(e)
	assert.Equal(dma.EngineID(1), id)
	id, e = d.Resolve(dma.FromDevice, 2)
	require.NoError(e)
	assert.Equal(dma.EngineID(2), id)
	id, e = d.Resolve(dma.Bidirectional, 2)
	require.NoError(e)
	assert.Equal(dma.EngineID(2), id)

	_, e = d.Resolve(dma.Bidirectional, 0)
	assert.ErrorIs(e, dma.ErrNotFound)
	id, e = d.Resolve(dma.ToDevice, 1)
	assert.ErrorIs(e, dma.ErrNotFound)
	assert.Equal(dma.InvalidEngine, id)

	info, e := d.Info(1)
	require.NoError(e)
	assert.Equal("fake0-c2s", info.Name)
	_, e = d.Info(3)
	assert.ErrorIs(e, dma.ErrNotAvailable)

	_, e = d.Push(1, 0, []byte{1}, dma.FlagEOP, dma.Immediate)
	assert.ErrorIs(e, dma.ErrDirection)
	_, e = d.Read(0, 0, make([]byte, 8), 0, dma.Immediate)
	assert.ErrorIs(e, dma.ErrDirection)
}

func TestNotSupported(t *testing.T) {
	assert, _ := makeAR(t)

	d := dma.New(minimalBackend{}, nil, dma.Config{})
	defer d.Close()

	assert.ErrorIs(d.Start(0, 0), dma.ErrNotSupported)
	assert.ErrorIs(d.Stop(0, 0), dma.ErrNotSupported)
	_, e := d.Write(0, 0, []byte{1})
	assert.ErrorIs(e, dma.ErrNotSupported)
	_, e = d.Read(0, 0, make([]byte, 8), 0, dma.Immediate)
	assert.ErrorIs(e, dma.ErrNotSupported)
	_, e = d.Benchmark(0, 1024, 1, dma.Bidirectional)
	assert.ErrorIs(e, dma.ErrNotSupported)
	assert.ErrorIs(d.EnableIRQ(dma.IRQAll, 0), dma.ErrNotSupported)
	assert.ErrorIs(d.DisableIRQ(0), dma.ErrNotSupported)
	assert.ErrorIs(d.AckIRQ(dma.IRQAll, dma.IRQSourceAll), dma.ErrNotSupported)

	st, e := d.Status(0, nil)
	assert.NoError(e)
	assert.False(st.Started)
}

func TestStartStopEvents(t *testing.T) {
	assert, require := makeAR(t)

	b := newFakeBackend()
	d := dma.New(b, nil, dma.Config{})
	defer d.Close()

	var started, stopped []dma.EngineID
	cancel := d.OnStarted(func(id dma.EngineID) { started = append(started, id) })
	d.OnStopped(func(id dma.EngineID) { stopped = append(stopped, id) })

	require.NoError(d.Start(1, 0))
	st, e := d.Status(1, nil)
	require.NoError(e)
	assert.True(st.Started)

	cancel()
	require.NoError(d.Start(0, 0))
	require.NoError(d.Stop(1, 0))
	assert.Equal([]dma.EngineID{1}, started)
	assert.Equal([]dma.EngineID{1}, stopped)

	assert.ErrorIs(d.Start(7, 0), dma.ErrNotAvailable)
	require.NoError(d.Close())
	assert.True(b.closed)
}

func TestRead(t *testing.T) {
	assert, require := makeAR(t)

	b := newFakeBackend()
	d := dma.New(b, nil, dma.Config{DefaultTimeout: 2000})
	defer d.Close()

	b.enqueue(true, []byte{1, 2, 3}, []byte{4, 5})
	b.enqueue(true, []byte{6})
	buf := make([]byte, 16)
	n, e := d.Read(1, 0, buf, 0, 7000)
	require.NoError(e)
	assert.Equal(5, n)
	assert.Equal([]byte{1, 2, 3, 4, 5}, buf[:n])
	// caller timeout first, then default timeout for the fragment
	assert.Equal([]dma.Timeout{7000, 2000}, b.waits)

	n, e = d.Read(1, 0, buf, 0, 7000)
	require.NoError(e)
	assert.Equal(1, n)

	// empty
	n, e = d.Read(1, 0, buf, 0, dma.Immediate)
	assert.ErrorIs(e, dma.ErrTimeout)
	assert.Equal(0, n)

	// fragments then silence: timeout with partial count
	b.enqueue(false, []byte{1, 2})
	n, e = d.Read(1, 0, buf, 0, 7000)
	assert.ErrorIs(e, dma.ErrTimeout)
	assert.Equal(2, n)
}

func TestReadMultiPacket(t *testing.T) {
	assert, require := makeAR(t)

	b := newFakeBackend()
	d := dma.New(b, nil, dma.Config{DefaultTimeout: 2000})
	defer d.Close()

	b.enqueue(true, []byte{1, 2})
	b.enqueue(true, []byte{3})
	b.enqueue(true, []byte{4, 5, 6})
	buf := make([]byte, 16)
	n, e := d.Read(1, 0, buf, dma.FlagMultiPacket, 7000)
	require.NoError(e)
	assert.Equal(6, n)
	assert.Equal([]byte{1, 2, 3, 4, 5, 6}, buf[:n])

	b.waits = nil
	b.enqueue(true, []byte{1, 2})
	n, e = d.Read(1, 0, buf, dma.FlagMultiPacket|dma.FlagWait, 7000)
	require.NoError(e)
	assert.Equal(2, n)
	assert.Equal([]dma.Timeout{7000, 7000}, b.waits)

	// stops exactly when buffer is full
	b.enqueue(true, []byte{1, 2})
	b.enqueue(true, []byte{3, 4})
	b.enqueue(true, []byte{5, 6})
	n, e = d.Read(1, 0, buf[:4], dma.FlagMultiPacket, 7000)
	require.NoError(e)
	assert.Equal(4, n)
	n, e = d.Read(1, 0, buf, 0, 7000)
	require.NoError(e)
	assert.Equal(2, n)
}

func TestReadTooBig(t *testing.T) {
	assert, _ := makeAR(t)

	b := newFakeBackend()
	d := dma.New(b, nil, dma.Config{})
	defer d.Close()

	b.enqueue(true, []byte{1, 2, 3}, []byte{4, 5, 6})
	buf := make([]byte, 4)
	n, e := d.Read(1, 0, buf, 0, 1000)
	assert.ErrorIs(e, dma.ErrTooBig)
	assert.Equal(3, n)
}

func TestWrite(t *testing.T) {
	assert, require := makeAR(t)

	b := newFakeBackend()
	d := dma.New(b, nil, dma.Config{})
	defer d.Close()

	n, e := d.Write(0, 0, []byte{1, 2, 3})
	require.NoError(e)
	assert.Equal(3, n)
	n, e = d.Push(2, 2, []byte{4}, 0, dma.Immediate)
	require.NoError(e)
	assert.Equal(1, n)
	assert.Equal([][]byte{{1, 2, 3}, {4}}, b.pushed)
}

func TestSkip(t *testing.T) {
	assert, require := makeAR(t)

	b := newFakeBackend()
	d := dma.New(b, nil, dma.Config{})
	defer d.Close()

	b.enqueue(true, []byte{1})
	b.enqueue(false, []byte{2}, []byte{3})
	b.enqueue(true, []byte{4})
	skipped, e := d.Skip(1, 0)
	require.NoError(e)
	assert.Equal(4, skipped)

	skipped, e = d.Skip(1, 0)
	require.NoError(e)
	assert.Equal(0, skipped)

	errFake := errors.New("fake hardware error")
	b.queue = append(b.queue, fakeBuffer{data: []byte{1}, eop: true}, fakeBuffer{err: errFake})
	_, e = d.Skip(1, 0)
	assert.ErrorIs(e, errFake)

	b.queue = append(b.queue, fakeBuffer{err: errFake})
	_, e = d.Skip(1, dma.FlagIgnoreErrors)
	assert.NoError(e)
}

func TestBusy(t *testing.T) {
	assert, require := makeAR(t)

	locks := dmalock.NewLocal()
	b := newFakeBackend()
	d := dma.New(b, locks, dma.Config{})
	defer d.Close()
	d2 := dma.New(newFakeBackend(), locks, dma.Config{})
	defer d2.Close()
	d3 := dma.New(newFakeBackend(), locks, dma.Config{Interface: "other"})
	defer d3.Close()

	b.enqueue(true, []byte{1})
	var nestedSame, nestedOther, nestedWrite, nestedIface error
	e := d.Stream(1, 0, 0, 0, 1000, func(dma.Flags, []byte) (dma.Action, error) {
		_, nestedSame = d.Read(1, 0, make([]byte, 4), 0, dma.Immediate)
		_, nestedOther = d2.Read(1, 0, make([]byte, 4), 0, dma.Immediate)
		_, nestedWrite = d.Push(0, 0, []byte{1}, dma.FlagEOP, dma.Immediate)
		_, nestedIface = d3.Read(1, 0, make([]byte, 4), 0, dma.Immediate)
		return dma.ActionStop, nil
	})
	require.NoError(e)
	assert.ErrorIs(nestedSame, dma.ErrBusy)
	assert.ErrorIs(nestedOther, dma.ErrBusy)
	assert.NoError(nestedWrite)
	assert.ErrorIs(nestedIface, dma.ErrTimeout)

	// lock is released after the stream
	_, e = d.Read(1, 0, make([]byte, 4), 0, dma.Immediate)
	assert.ErrorIs(e, dma.ErrTimeout)
}

func TestBenchmarkArguments(t *testing.T) {
	assert, _ := makeAR(t)

	d := dma.New(minimalBackend{}, nil, dma.Config{})
	defer d.Close()
	_, e := d.Benchmark(0, 0, 1, dma.Bidirectional)
	assert.ErrorIs(e, dma.ErrNotSupported)

	cfg := d.Config()
	assert.Equal(dma.DefaultInterfaceName, cfg.Interface)
	assert.Equal(dma.DefaultDMATimeout, cfg.DefaultTimeout)
	assert.Equal(dma.DefaultPollInterval, cfg.PollInterval)
}

func TestStopBusy(t *testing.T) {
	assert, require := makeAR(t)

	b := newFakeBackend()
	d := dma.New(b, nil, dma.Config{DefaultTimeout: 1000})

	b.enqueue(true, []byte{1})
	var stopErr, closeErr error
	e := d.Stream(1, 0, 0, 0, 1000, func(dma.Flags, []byte) (dma.Action, error) {
		stopErr = d.Stop(1, 0)
		closeErr = d.Close()
		return dma.ActionStop, nil
	})
	require.NoError(e)
	assert.ErrorIs(stopErr, dma.ErrBusy)
	assert.ErrorIs(closeErr, dma.ErrBusy)
	assert.False(b.closed)

	// locks are released after the stream
	require.NoError(d.Start(1, 0))
	require.NoError(d.Stop(1, 0))
	assert.NoError(d.Close())
	assert.True(b.closed)
}
