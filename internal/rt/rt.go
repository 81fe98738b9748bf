// Package rt — настройка потока реального времени для задачи мотора:
// привязка к потоку ОС, SCHED_FIFO и mlockall. На не-Linux всё, кроме
// привязки к потоку, — заглушки.
package rt

import (
	"runtime"

	"github.com/shiwa/lockstep/internal/logger"
)

// Options — что делать при входе в поток реального времени.
type Options struct {
	Realtime   bool
	Priority   int
	LockMemory bool
}

// Enter привязывает текущую горутину к потоку ОС и, если включено, поднимает
// приоритет. Ошибки повышения приоритета не фатальны: задача продолжает
// работать в обычном режиме. Возвращённую функцию вызвать при выходе.
func Enter(o Options) (leave func()) {
	runtime.LockOSThread()
	log := logger.With("rt")
	locked := false
	if o.Realtime {
		if err := SetFIFO(o.Priority); err != nil {
			log.Warn("realtime priority unavailable: %v", err)
		} else {
			log.Info("SCHED_FIFO priority %d", o.Priority)
		}
		if o.LockMemory {
			if err := LockMemory(); err != nil {
				log.Warn("%v", err)
			} else {
				locked = true
			}
		}
	}
	return func() {
		if locked {
			_ = UnlockMemory()
		}
		runtime.UnlockOSThread()
	}
}
