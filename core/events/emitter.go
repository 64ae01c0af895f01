// Package events provides a simple event emitter.
package events

import (
	"reflect"
	"sync"

	"github.com/chuckpreslar/emission"
)

// Emitter is a simple event emitter.
// This is a thin wrapper of emission.Emitter whose registration methods return a cancel function.
type Emitter struct {
	e *emission.Emitter
}

// NewEmitter creates a simple event emitter.
func NewEmitter() *Emitter {
	return &Emitter{
		e: emission.NewEmitter(),
	}
}

// On registers a callback when an event occurs.
// Returns a function that cancels the callback registration.
func (emitter *Emitter) On(event, listener any) (cancel func()) {
	emitter.e.On(event, listener)
	return func() { emitter.e.Off(event, listener) }
}

// Once registers a one-time callback when an event occurs.
// Returns a function that cancels the callback registration.
func (emitter *Emitter) Once(event, listener any) (cancel func()) {
	fn := reflect.ValueOf(listener)
	if fn.Kind() != reflect.Func {
		panic("listener must be a function")
	}

	var once sync.Once
	wrapper := reflect.MakeFunc(fn.Type(), func(args []reflect.Value) (results []reflect.Value) {
		once.Do(func() {
			cancel()
			results = fn.Call(args)
		})
		if results == nil {
			for i := 0; i < fn.Type().NumOut(); i++ {
				results = append(results, reflect.Zero(fn.Type().Out(i)))
			}
		}
		return results
	}).Interface()
	cancel = emitter.On(event, wrapper)
	return cancel
}

// Emit invokes callbacks registered for an event.
func (emitter *Emitter) Emit(event any, args ...any) {
	emitter.e.Emit(event, args...)
}
