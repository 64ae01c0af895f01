package dma

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Read receives data from a from-device engine into buf.
//
// Without FlagMultiPacket, it returns after the first complete packet.
// With FlagMultiPacket, it keeps receiving packets while buf has room; the wait after each packet
// uses the caller timeout if FlagWait is set, otherwise the default timeout, and expiry of that
// wait is not an error.
// A packet that does not fit into the remaining space yields ErrTooBig.
// On timeout, n is the number of octets received so far.
func (d *Dispatcher) Read(id EngineID, addr int, buf []byte, flags Flags, timeout Timeout) (n int, e error) {
	e = d.Stream(id, addr, len(buf), flags, timeout, func(fl Flags, data []byte) (Action, error) {
		if n+len(data) > len(buf) {
			return ActionStop, fmt.Errorf("%w: need %d octets, buffer has %d", ErrTooBig, n+len(data), len(buf))
		}
		n += copy(buf[n:], data)

		if fl&FlagEOP == 0 {
			return ActionReqFragment, nil
		}
		if flags&FlagMultiPacket != 0 && n < len(buf) {
			if flags&FlagWait != 0 {
				return ActionWait, nil
			}
			return ActionContinue, nil
		}
		return ActionStop, nil
	})
	return n, e
}

// Write sends one packet to a to-device engine and waits until hardware has consumed it.
func (d *Dispatcher) Write(id EngineID, addr int, data []byte) (n int, e error) {
	return d.Push(id, addr, data, FlagEOP|FlagWait, TimeoutFromDuration(d.cfg.DefaultTimeout.Duration()))
}

// Skip discards stale data from a from-device engine.
// It returns when no data arrives within the default timeout, or fails with ErrTimeout if data
// keeps arriving longer than the skip timeout.
// With FlagIgnoreErrors, descriptor errors end the drain silently.
func (d *Dispatcher) Skip(id EngineID, flags Flags) (skipped int, e error) {
	deadline := NewDeadline(TimeoutFromDuration(d.cfg.SkipTimeout.Duration()))
	cb := func(Flags, []byte) (Action, error) {
		skipped++
		if deadline.Expired() {
			return ActionStop, nil
		}
		return ActionReqPacket, nil
	}

	dflt := TimeoutFromDuration(d.cfg.DefaultTimeout.Duration())
	for {
		e = d.Stream(id, 0, 0, flags|FlagMultiPacket, dflt, cb)
		switch {
		case errors.Is(e, ErrTimeout):
			return skipped, nil
		case e != nil && flags&FlagIgnoreErrors != 0:
			logger.Warn("skip stopped on error", zap.Int("engine", int(id)), zap.Int("skipped", skipped), zap.Error(e))
			return skipped, nil
		case e != nil:
			return skipped, e
		}
		if deadline.Expired() {
			return skipped, fmt.Errorf("%w: data keeps arriving after %d buffers", ErrTimeout, skipped)
		}
	}
}
