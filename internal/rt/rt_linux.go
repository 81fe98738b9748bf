//go:build linux

package rt

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SetFIFO переводит текущий поток в SCHED_FIFO с приоритетом priority (1..99).
// Вызывать после runtime.LockOSThread. Требует CAP_SYS_NICE или root.
func SetFIFO(priority int) error {
	if priority < 1 || priority > 99 {
		return fmt.Errorf("sched_fifo priority %d out of range 1..99", priority)
	}
	attr := &unix.SchedAttr{
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(priority),
	}
	if err := unix.SchedSetAttr(0, attr, 0); err != nil {
		return fmt.Errorf("sched_setattr: %w", err)
	}
	return nil
}

// LockMemory фиксирует страницы процесса в памяти (mlockall), чтобы
// подкачка не добавляла задержку к срокам событий.
func LockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall: %w", err)
	}
	return nil
}

// UnlockMemory снимает mlockall.
func UnlockMemory() error {
	return unix.Munlockall()
}

// GranularityNs измеряет разрешение CLOCK_MONOTONIC_RAW: минимальный
// ненулевой интервал между соседними чтениями.
func GranularityNs() int64 {
	const rounds = 20
	var minDt int64 = 1e9
	for i := 0; i < rounds; i++ {
		var t1, t2 unix.Timespec
		_ = unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &t1)
		_ = unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &t2)
		dt := (t2.Sec-t1.Sec)*1e9 + int64(t2.Nsec-t1.Nsec)
		if dt > 0 && dt < minDt {
			minDt = dt
		}
	}
	if minDt == 1e9 {
		return 0
	}
	return minDt
}
