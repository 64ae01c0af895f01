package events_test

import (
	"sync/atomic"
	"testing"

	"github.com/usnistgov/pcidma/core/events"
	"github.com/usnistgov/pcidma/core/testenv"
)

var makeAR = testenv.MakeAR

func TestOnCancel(t *testing.T) {
	assert, _ := makeAR(t)

	var nA, nB, nC, nD int32
	fA := func() { atomic.AddInt32(&nA, 1) }
	fB := func() { atomic.AddInt32(&nB, 1) }
	fC := func() { atomic.AddInt32(&nC, 1) }
	fD := func() { atomic.AddInt32(&nD, 1) }

	emitter := events.NewEmitter()
	cancelA := emitter.On(1, fA)
	cancelB := emitter.On(1, fB)
	cancelC := emitter.Once(2, fC)
	cancelD := emitter.Once(2, fD)

	emitter.Emit(1)
	assert.EqualValues(1, atomic.LoadInt32(&nA))
	assert.EqualValues(1, atomic.LoadInt32(&nB))

	cancelA()
	emitter.Emit(1)
	assert.EqualValues(1, atomic.LoadInt32(&nA))
	assert.EqualValues(2, atomic.LoadInt32(&nB))

	cancelB()
	emitter.Emit(1)
	assert.EqualValues(2, atomic.LoadInt32(&nB))

	cancelD()
	emitter.Emit(2)
	assert.EqualValues(1, atomic.LoadInt32(&nC))
	assert.EqualValues(0, atomic.LoadInt32(&nD))

	emitter.Emit(2)
	assert.EqualValues(1, atomic.LoadInt32(&nC))

	cancelC()
}

func TestArgs(t *testing.T) {
	assert, _ := makeAR(t)

	var got int64
	emitter := events.NewEmitter()
	cancel := emitter.On("started", func(id int) { atomic.StoreInt64(&got, int64(id)) })
	defer cancel()

	emitter.Emit("started", 7)
	assert.EqualValues(7, atomic.LoadInt64(&got))
}
