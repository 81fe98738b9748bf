// Package deferred — очередь отложенной работы: из контекста приёма (где
// нельзя блокироваться) в обычную задачу сессии.
//
// Постановка никогда не блокируется: при переполнении Enqueue возвращает false.
package deferred

import (
	"fmt"
	"sync/atomic"

	"github.com/shiwa/lockstep/internal/logger"
)

// Kind — тип отложенной работы.
type Kind uint8

const (
	None Kind = iota
	HapticPulse
	HapticDoublePulse
	HapticDeactivate
)

func (k Kind) String() string {
	switch k {
	case HapticPulse:
		return "HAPTIC_PULSE"
	case HapticDoublePulse:
		return "HAPTIC_DOUBLE_PULSE"
	case HapticDeactivate:
		return "HAPTIC_DEACTIVATE"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Work — элемент очереди. Смысл параметров зависит от Kind:
// для импульсов это палец, амплитуда и длительность в мс.
type Work struct {
	Kind       Kind
	Finger     uint8
	Amplitude  uint8
	DurationMs uint32
}

// Executor исполняет работу в обычной задаче.
type Executor interface {
	Execute(w Work) error
}

// ExecutorFunc адаптирует функцию к Executor.
type ExecutorFunc func(w Work) error

func (f ExecutorFunc) Execute(w Work) error { return f(w) }

// DefaultCapacity — размер очереди по умолчанию.
const DefaultCapacity = 8

// Queue — ограниченная очередь поверх буферизованного канала.
type Queue struct {
	ch      chan Work
	exec    Executor
	dropped atomic.Uint64
	log     logger.Component
}

// New создаёт очередь. capacity <= 0 заменяется на DefaultCapacity.
func New(capacity int, exec Executor) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		ch:   make(chan Work, capacity),
		exec: exec,
		log:  logger.With("deferred"),
	}
}

// Enqueue ставит работу без блокировки. false — очередь полна.
func (q *Queue) Enqueue(w Work) bool {
	select {
	case q.ch <- w:
		return true
	default:
		q.dropped.Add(1)
		q.log.Warn("queue full, dropped %s", w.Kind)
		return false
	}
}

// C — канал для select в цикле обычной задачи; полученное передаётся в Execute.
func (q *Queue) C() <-chan Work { return q.ch }

// Execute исполняет одну работу. Ошибка исполнителя логируется.
func (q *Queue) Execute(w Work) {
	if q.exec == nil {
		return
	}
	if err := q.exec.Execute(w); err != nil {
		q.log.Error("%s f%d: %v", w.Kind, w.Finger, err)
	}
}

// ProcessOne исполняет не более одной работы. false — очередь пуста.
func (q *Queue) ProcessOne() bool {
	select {
	case w := <-q.ch:
		q.Execute(w)
		return true
	default:
		return false
	}
}

// Pending — число ожидающих работ.
func (q *Queue) Pending() int { return len(q.ch) }

// Dropped — число работ, отброшенных из-за переполнения.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Clear выбрасывает всю ожидающую работу.
func (q *Queue) Clear() {
	for {
		select {
		case <-q.ch:
		default:
			return
		}
	}
}
