package clock

import (
	"context"
	"sync/atomic"
	"time"
)

// Fake — управляемые часы для тестов. Каждое чтение Micros сдвигает время
// на step (0 — время стоит), что позволяет проверять busy-wait без реального ожидания.
type Fake struct {
	now    atomic.Uint64
	step   atomic.Uint64
	sleeps atomic.Int64
}

// NewFake создаёт часы, стоящие на start микросекунд.
func NewFake(start uint64) *Fake {
	f := &Fake{}
	f.now.Store(start)
	return f
}

// Micros возвращает текущее время и сдвигает его на step.
func (f *Fake) Micros() uint64 {
	s := f.step.Load()
	if s == 0 {
		return f.now.Load()
	}
	return f.now.Add(s) - s
}

// Millis возвращает текущее время в миллисекундах.
func (f *Fake) Millis() uint64 { return f.Micros() / 1000 }

// Set устанавливает время.
func (f *Fake) Set(us uint64) { f.now.Store(us) }

// Advance сдвигает время вперёд.
func (f *Fake) Advance(d time.Duration) { f.now.Add(uint64(d / time.Microsecond)) }

// AdvanceMicros сдвигает время на us микросекунд.
func (f *Fake) AdvanceMicros(us uint64) { f.now.Add(us) }

// SetStep задаёт автоприращение на каждое чтение.
func (f *Fake) SetStep(us uint64) { f.step.Store(us) }

// Sleeps возвращает число вызовов Sleep.
func (f *Fake) Sleeps() int { return int(f.sleeps.Load()) }

// Sleep мгновенно «проспал» d: время сдвигается, если до этого не пришёл wake.
func (f *Fake) Sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) error {
	f.sleeps.Add(1)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
		return nil
	default:
	}
	f.Advance(d)
	return nil
}
