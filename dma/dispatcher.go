package dma

import (
	"errors"
	"fmt"
	"sync"

	"github.com/usnistgov/pcidma/core/events"
	"github.com/usnistgov/pcidma/dmalock"
	"github.com/zyedidia/generic/mapset"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Dispatcher events.
const (
	EventStarted = "started"
	EventStopped = "stopped"
)

type engine struct {
	info     EngineInfo
	mu       sync.Mutex
	locks    [Bidirectional + 1]dmalock.Lock
	stopping atomic.Bool
}

// Dispatcher provides the engine-agnostic DMA API over one Backend.
type Dispatcher struct {
	cfg     Config
	backend Backend
	locks   dmalock.Provider
	engines []*engine
	addrs   mapset.Set[int]
	emitter *events.Emitter
}

// New creates a Dispatcher.
// If locks is nil, an in-process lock provider is used.
func New(backend Backend, locks dmalock.Provider, cfg Config) *Dispatcher {
	cfg.applyDefaults()
	if locks == nil {
		locks = dmalock.NewLocal()
	}
	d := &Dispatcher{
		cfg:     cfg,
		backend: backend,
		locks:   locks,
		addrs:   mapset.New[int](),
		emitter: events.NewEmitter(),
	}
	for _, info := range backend.Engines() {
		d.engines = append(d.engines, &engine{info: info})
		d.addrs.Put(info.Addr)
	}
	logger.Info("dispatcher created",
		zap.String("interface", cfg.Interface),
		zap.Int("engines", len(d.engines)),
		zap.Duration("poll", cfg.Poller().Interval),
	)
	return d
}

// Config returns effective configuration.
func (d *Dispatcher) Config() Config {
	return d.cfg
}

// Backend returns the underlying backend.
func (d *Dispatcher) Backend() Backend {
	return d.backend
}

// Engines returns information of all engines, indexed by EngineID.
func (d *Dispatcher) Engines() (list []EngineInfo) {
	for _, eng := range d.engines {
		list = append(list, eng.info)
	}
	return list
}

// Addresses returns the number of distinct logical addresses.
func (d *Dispatcher) Addresses() int {
	return d.addrs.Size()
}

// Info returns information of an engine.
func (d *Dispatcher) Info(id EngineID) (EngineInfo, error) {
	eng, e := d.engine(id, 0)
	if e != nil {
		return EngineInfo{}, e
	}
	return eng.info, nil
}

// Resolve finds an engine by logical address and direction.
func (d *Dispatcher) Resolve(dir Direction, addr int) (EngineID, error) {
	if !d.addrs.Has(addr) {
		return InvalidEngine, fmt.Errorf("%w: address %d", ErrNotFound, addr)
	}
	for i, eng := range d.engines {
		if eng.info.Addr == addr && eng.info.Direction.Has(dir) {
			return EngineID(i), nil
		}
	}
	return InvalidEngine, fmt.Errorf("%w: address %d direction %s", ErrNotFound, addr, dir)
}

func (d *Dispatcher) engine(id EngineID, dir Direction) (*engine, error) {
	if id < 0 || int(id) >= len(d.engines) {
		return nil, fmt.Errorf("%w: engine %d", ErrNotAvailable, id)
	}
	eng := d.engines[id]
	if !eng.info.Direction.Has(dir) {
		return nil, fmt.Errorf("%w: engine %s is %s", ErrDirection, eng.info.Name, eng.info.Direction)
	}
	return eng, nil
}

// lockName returns the name of the lock that serializes one direction of an engine.
func (d *Dispatcher) lockName(eng *engine, dir Direction) string {
	c := 'r'
	if dir == ToDevice {
		c = 'w'
	}
	return fmt.Sprintf("dma%d%c/%s", eng.info.Addr, c, d.cfg.Interface)
}

// tryLock acquires the read or write lock of an engine without blocking.
func (d *Dispatcher) tryLock(eng *engine, dir Direction) (unlock func(), e error) {
	eng.mu.Lock()
	lock := eng.locks[dir]
	if lock == nil {
		if lock, e = d.locks.Acquire(d.lockName(eng, dir)); e != nil {
			eng.mu.Unlock()
			return nil, e
		}
		eng.locks[dir] = lock
	}
	eng.mu.Unlock()

	if !lock.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrBusy, d.lockName(eng, dir))
	}
	return lock.Unlock, nil
}

// lockEngine acquires every direction lock of an engine without blocking.
func (d *Dispatcher) lockEngine(eng *engine) (unlock func(), e error) {
	var unlocks []func()
	unlock = func() {
		for _, u := range unlocks {
			u()
		}
	}
	for _, dir := range []Direction{ToDevice, FromDevice} {
		if !eng.info.Direction.Has(dir) {
			continue
		}
		u, e := d.tryLock(eng, dir)
		if e != nil {
			unlock()
			return nil, e
		}
		unlocks = append(unlocks, u)
	}
	return unlock, nil
}

// interrupt asks transfers running on an engine to end, and waits for them to release the locks.
func (d *Dispatcher) interrupt(eng *engine) (unlock func(), e error) {
	eng.stopping.Store(true)
	defer eng.stopping.Store(false)

	deadline := NewDeadline(TimeoutFromDuration(d.cfg.DefaultTimeout.Duration()))
	d.cfg.Poller().Until(deadline, func() bool {
		unlock, e = d.lockEngine(eng)
		return !errors.Is(e, ErrBusy)
	})
	return unlock, e
}

func (d *Dispatcher) request(id EngineID, addr, size int, flags Flags, timeout Timeout) Request {
	p := d.cfg.Poller()
	p.Stop = &d.engines[id].stopping
	return Request{
		Engine:         id,
		Addr:           addr,
		Size:           size,
		Flags:          flags,
		Timeout:        timeout,
		DefaultTimeout: TimeoutFromDuration(d.cfg.DefaultTimeout.Duration()),
		Poller:         p,
	}
}

// Start starts an engine.
// Starting a started engine has no effect.
func (d *Dispatcher) Start(id EngineID, flags Flags) error {
	starter, ok := d.backend.(Starter)
	if !ok {
		return ErrNotSupported
	}
	eng, e := d.engine(id, 0)
	if e != nil {
		return e
	}
	if e := starter.Start(d.request(id, eng.info.Addr, 0, flags, Infinite)); e != nil {
		return fmt.Errorf("start %s %w", eng.info.Name, e)
	}
	d.emitter.Emit(EventStarted, id)
	return nil
}

// Stop stops an engine.
// With FlagPersistent, a persistent engine is forced down.
// Stopping a stopped engine has no effect.
// A transfer running on the engine observes the stop between poll iterations and fails with ErrStopped.
// Stop fails with ErrBusy if the transfer does not end within the default timeout.
func (d *Dispatcher) Stop(id EngineID, flags Flags) error {
	starter, ok := d.backend.(Starter)
	if !ok {
		return ErrNotSupported
	}
	eng, e := d.engine(id, 0)
	if e != nil {
		return e
	}
	unlock, e := d.lockEngine(eng)
	if errors.Is(e, ErrBusy) {
		unlock, e = d.interrupt(eng)
	}
	if e != nil {
		return fmt.Errorf("stop %s %w", eng.info.Name, e)
	}
	defer unlock()
	if e := starter.Stop(d.request(id, eng.info.Addr, 0, flags, Infinite)); e != nil {
		return fmt.Errorf("stop %s %w", eng.info.Name, e)
	}
	d.emitter.Emit(EventStopped, id)
	return nil
}

// OnStarted registers a callback when an engine is started through Start.
func (d *Dispatcher) OnStarted(cb func(id EngineID)) (cancel func()) {
	return d.emitter.On(EventStarted, cb)
}

// OnStopped registers a callback when an engine is stopped through Stop.
func (d *Dispatcher) OnStopped(cb func(id EngineID)) (cancel func()) {
	return d.emitter.On(EventStopped, cb)
}

// Push sends data to a to-device engine.
// Returns number of octets written; on timeout, this is the partial count.
func (d *Dispatcher) Push(id EngineID, addr int, data []byte, flags Flags, timeout Timeout) (n int, e error) {
	pusher, ok := d.backend.(Pusher)
	if !ok {
		return 0, ErrNotSupported
	}
	eng, e := d.engine(id, ToDevice)
	if e != nil {
		return 0, e
	}
	unlock, e := d.tryLock(eng, ToDevice)
	if e != nil {
		return 0, e
	}
	defer unlock()

	n, e = pusher.Push(d.request(id, addr, len(data), flags, timeout), data)
	logger.Debug("push",
		zap.String("engine", eng.info.Name),
		zap.Int("size", len(data)),
		zap.Int("written", n),
		zap.Error(e),
	)
	return n, e
}

// Stream receives data from a from-device engine, passing each buffer to cb.
func (d *Dispatcher) Stream(id EngineID, addr int, size int, flags Flags, timeout Timeout, cb Callback) (e error) {
	streamer, ok := d.backend.(Streamer)
	if !ok {
		return ErrNotSupported
	}
	eng, e := d.engine(id, FromDevice)
	if e != nil {
		return e
	}
	unlock, e := d.tryLock(eng, FromDevice)
	if e != nil {
		return e
	}
	defer unlock()

	e = streamer.Stream(d.request(id, addr, size, flags, timeout), cb)
	logger.Debug("stream",
		zap.String("engine", eng.info.Name),
		zap.Int("size", size),
		zap.Stringer("timeout", timeout),
		zap.Error(e),
	)
	return e
}

// Status reports engine status.
// If buffers is non-empty, it receives per-slot status.
func (d *Dispatcher) Status(id EngineID, buffers []BufferStatus) (EngineStatus, error) {
	if _, e := d.engine(id, 0); e != nil {
		return EngineStatus{}, e
	}
	return d.backend.Status(id, buffers)
}

// Benchmark measures throughput in MiB/s.
func (d *Dispatcher) Benchmark(addr, size, iterations int, dir Direction) (float64, error) {
	bm, ok := d.backend.(Benchmarker)
	if !ok {
		return 0, ErrNotSupported
	}
	if size <= 0 || iterations <= 0 {
		return 0, fmt.Errorf("%w: size %d iterations %d", ErrInvalidArgument, size, iterations)
	}
	return bm.Benchmark(d, BenchmarkRequest{
		Addr:       addr,
		Size:       size,
		Iterations: iterations,
		Direction:  dir,
	})
}

func (d *Dispatcher) irq() (IRQBackend, error) {
	irq, ok := d.backend.(IRQBackend)
	if !ok {
		return nil, ErrNotSupported
	}
	return irq, nil
}

// EnableIRQ enables interrupts.
func (d *Dispatcher) EnableIRQ(kind IRQType, flags Flags) error {
	irq, e := d.irq()
	if e != nil {
		return e
	}
	return irq.EnableIRQ(kind, flags)
}

// DisableIRQ disables interrupts.
func (d *Dispatcher) DisableIRQ(flags Flags) error {
	irq, e := d.irq()
	if e != nil {
		return e
	}
	return irq.DisableIRQ(flags)
}

// AckIRQ acknowledges interrupts.
func (d *Dispatcher) AckIRQ(kind IRQType, source IRQSource) error {
	irq, e := d.irq()
	if e != nil {
		return e
	}
	return irq.AckIRQ(kind, source)
}

// Close closes the backend and releases locks.
// It fails with ErrBusy while a transfer started through this Dispatcher is running.
func (d *Dispatcher) Close() (e error) {
	var held []dmalock.Lock
	release := func() {
		for _, lock := range held {
			lock.Unlock()
		}
	}
	for _, eng := range d.engines {
		eng.mu.Lock()
		for dir, lock := range eng.locks {
			if lock == nil {
				continue
			}
			if !lock.TryLock() {
				eng.mu.Unlock()
				release()
				return fmt.Errorf("%w: %s", ErrBusy, d.lockName(eng, Direction(dir)))
			}
			held = append(held, lock)
		}
		eng.mu.Unlock()
	}

	e = d.backend.Close()
	for _, eng := range d.engines {
		eng.mu.Lock()
		for dir, lock := range eng.locks {
			if lock != nil {
				lock.Unlock()
				e = multierr.Append(e, lock.Close())
				eng.locks[dir] = nil
			}
		}
		eng.mu.Unlock()
	}
	return e
}
