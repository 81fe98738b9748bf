// Package clock — монотонное 64-битное время в микросекундах поверх 32-битного
// аппаратного счётчика с переполнением (≈71.6 мин на круг).
//
// Состояние (эпоха + последнее значение счётчика) хранится одним atomic.Uint64,
// поэтому читатель никогда не видит «разорванное» значение, а переполнение
// детектируется CAS-циклом без блокировок.
package clock

import (
	"context"
	"sync/atomic"
	"time"
)

// Counter — 32-битный счётчик микросекунд, который периодически переполняется.
type Counter interface {
	Read() uint32
}

// CounterFunc адаптирует функцию к Counter.
type CounterFunc func() uint32

// Read вызывает f.
func (f CounterFunc) Read() uint32 { return f() }

// Clock — источник монотонного времени.
type Clock interface {
	Micros() uint64
	Millis() uint64
}

// Sleeper — грубое ожидание, прерываемое сигналом wake (новое событие в очереди).
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) error
}

// Monotonic — Clock поверх Counter с учётом переполнения.
type Monotonic struct {
	counter Counter
	state   atomic.Uint64 // epoch<<32 | last
}

// NewMonotonic создаёт часы поверх счётчика.
func NewMonotonic(c Counter) *Monotonic {
	m := &Monotonic{counter: c}
	m.state.Store(uint64(c.Read()))
	return m
}

// Micros возвращает время в микросекундах. Если счётчик меньше последнего
// наблюдённого значения, считается что произошло переполнение и эпоха
// увеличивается. Счётчик читается внутри цикла, так что значение, сохранённое
// конкурентом, всегда не новее прочитанного нами.
func (m *Monotonic) Micros() uint64 {
	for {
		s := m.state.Load()
		epoch, last := s>>32, uint32(s)
		now := m.counter.Read()
		if now < last {
			epoch++
		}
		next := epoch<<32 | uint64(now)
		if next == s || m.state.CompareAndSwap(s, next) {
			return next
		}
	}
}

// Millis возвращает время в миллисекундах.
func (m *Monotonic) Millis() uint64 {
	return m.Micros() / 1000
}

// Epoch возвращает число зафиксированных переполнений.
func (m *Monotonic) Epoch() uint32 {
	return uint32(m.state.Load() >> 32)
}

// TimerSleeper — Sleeper на time.Timer.
type TimerSleeper struct{}

// Sleep ждёт d, сигнала wake или отмены ctx.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
		return nil
	case <-t.C:
		return nil
	}
}
