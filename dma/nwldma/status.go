package nwldma

import (
	"github.com/pkg/math"
	"github.com/usnistgov/pcidma/dma"
)

// Status implements dma.Backend interface.
func (b *Backend) Status(id dma.EngineID, buffers []dma.BufferStatus) (st dma.EngineStatus, e error) {
	eng, e := b.engine(id)
	if e != nil {
		return st, e
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()

	st.Started = eng.started.Load()
	if eng.ring == nil {
		return st, nil
	}
	st.RingSize = eng.ringSize
	st.BufferSize = eng.pageSize
	st.RingHead = int(eng.head.Load())
	st.RingTail = int(eng.tail.Load())

	for i := range buffers[:math.MinInt(len(buffers), eng.ringSize)] {
		status := eng.readDesc(i, bdStatus)
		buffers[i] = dma.BufferStatus{
			Used:  status&BDComplete != 0,
			Error: status&BDError != 0,
			First: status&BDSOP != 0,
			Last:  status&BDEOP != 0,
			Size:  int(status & BDSizeMask),
		}
	}
	return st, nil
}
