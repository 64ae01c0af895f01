package hwinfo

import (
	"sync"

	procinfo "github.com/c9s/goprocinfo/linux"
	"go.uber.org/zap"
)

const pathProcessStat = "/proc/self/stat"

type procinfoProvider struct {
	once  sync.Once
	sched Scheduling
}

func (p *procinfoProvider) Scheduling() Scheduling {
	p.once.Do(func() {
		stat, e := procinfo.ReadProcessStat(pathProcessStat)
		if e != nil {
			logger.Warn("cannot read process stat, assuming normal scheduling", zap.String("path", pathProcessStat), zap.Error(e))
			return
		}
		p.sched = Scheduling{
			Policy:     int(stat.Policy),
			RtPriority: int(stat.RtPriority),
		}
	})
	return p.sched
}
