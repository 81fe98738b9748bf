// Package schedule — очередь событий мотора: фиксированный пул слотов под
// мьютексом, выборка по самому раннему сроку (EDF) линейным проходом.
//
// Пул мал (до MaxCapacity), поэтому линейный поиск минимума проще и
// предсказуемее кучи.
package schedule

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shiwa/lockstep/internal/logger"
)

// Kind — тип события мотора.
type Kind uint8

const (
	Activate Kind = iota + 1
	Deactivate
)

func (k Kind) String() string {
	switch k {
	case Activate:
		return "ACTIVATE"
	case Deactivate:
		return "DEACTIVATE"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Event — запланированное действие над одним пальцем.
type Event struct {
	DueUs       uint64
	Finger      uint8
	Amplitude   uint8
	FrequencyHz uint16
	Kind        Kind
}

func (e Event) String() string {
	return fmt.Sprintf("%s f%d @%d", e.Kind, e.Finger, e.DueUs)
}

// Notifier будит потребителя очереди (задачу мотора).
type Notifier interface {
	Notify()
}

// NotifierFunc адаптирует функцию к Notifier.
type NotifierFunc func()

func (f NotifierFunc) Notify() { f() }

var (
	ErrQueueFull   = errors.New("motor queue full")
	ErrLockTimeout = errors.New("motor queue lock timeout")
)

const (
	DefaultCapacity = 16
	MaxCapacity     = 32
	// ClearLockTimeout — сколько Clear ждёт мьютекс, прежде чем чистить без него.
	ClearLockTimeout = 5 * time.Millisecond
)

type slot struct {
	ev Event
	// occupied можно сбросить и без мьютекса (аварийная очистка).
	occupied atomic.Bool
}

// Queue — очередь событий мотора. Безопасна для конкурентного использования.
type Queue struct {
	mu     sync.Mutex
	slots  []slot
	notify Notifier
	log    logger.Component
}

// New создаёт очередь. capacity вне (0, MaxCapacity] заменяется на DefaultCapacity
// или MaxCapacity. notify может быть nil.
func New(capacity int, notify Notifier) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if capacity > MaxCapacity {
		capacity = MaxCapacity
	}
	return &Queue{
		slots:  make([]slot, capacity),
		notify: notify,
		log:    logger.With("queue"),
	}
}

// SetNotifier подключает потребителя. Вызывается до запуска задач:
// задача мотора создаётся после очереди.
func (q *Queue) SetNotifier(n Notifier) { q.notify = n }

// Cap возвращает размер пула.
func (q *Queue) Cap() int { return len(q.slots) }

// Enqueue ставит пару ACTIVATE@dueUs и DEACTIVATE@dueUs+durationMs×1000.
// Если для второго события нет места, первое откатывается и возвращается ErrQueueFull.
// Потребитель не будится: это делает NotifyConsumer после загрузки пакета.
func (q *Queue) Enqueue(dueUs uint64, finger, amplitude uint8, durationMs, frequencyHz uint16) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueueLocked(dueUs, finger, amplitude, durationMs, frequencyHz)
}

// TryEnqueue — Enqueue с ограниченным ожиданием мьютекса.
func (q *Queue) TryEnqueue(timeout time.Duration, dueUs uint64, finger, amplitude uint8, durationMs, frequencyHz uint16) error {
	if !q.tryLock(timeout) {
		return ErrLockTimeout
	}
	defer q.mu.Unlock()
	return q.enqueueLocked(dueUs, finger, amplitude, durationMs, frequencyHz)
}

func (q *Queue) enqueueLocked(dueUs uint64, finger, amplitude uint8, durationMs, frequencyHz uint16) error {
	on := q.freeSlotLocked(-1)
	if on < 0 {
		q.log.Warn("queue full, dropped f%d @%d", finger, dueUs)
		return ErrQueueFull
	}
	q.putLocked(on, Event{DueUs: dueUs, Finger: finger, Amplitude: amplitude, FrequencyHz: frequencyHz, Kind: Activate})

	off := q.freeSlotLocked(on)
	if off < 0 {
		q.slots[on].occupied.Store(false)
		q.slots[on].ev = Event{}
		q.log.Warn("queue full, rolled back f%d @%d", finger, dueUs)
		return ErrQueueFull
	}
	q.putLocked(off, Event{
		DueUs:  dueUs + uint64(durationMs)*1000,
		Finger: finger,
		Kind:   Deactivate,
	})
	return nil
}

func (q *Queue) freeSlotLocked(skip int) int {
	for i := range q.slots {
		if i != skip && !q.slots[i].occupied.Load() {
			return i
		}
	}
	return -1
}

func (q *Queue) putLocked(i int, e Event) {
	q.slots[i].ev = e
	q.slots[i].occupied.Store(true)
}

// earliestLocked возвращает индекс события с минимальным сроком.
// При равных сроках DEACTIVATE идёт раньше ACTIVATE: выключение предыдущего
// импульса не должно гасить следующий на том же пальце.
func (q *Queue) earliestLocked() int {
	best := -1
	for i := range q.slots {
		if !q.slots[i].occupied.Load() {
			continue
		}
		if best < 0 || before(q.slots[i].ev, q.slots[best].ev) {
			best = i
		}
	}
	return best
}

func before(a, b Event) bool {
	if a.DueUs != b.DueUs {
		return a.DueUs < b.DueUs
	}
	return a.Kind == Deactivate && b.Kind == Activate
}

// Peek возвращает самое раннее событие, не извлекая его.
func (q *Queue) Peek() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.earliestLocked()
	if i < 0 {
		return Event{}, false
	}
	return q.slots[i].ev, true
}

// Dequeue извлекает самое раннее событие: копия и освобождение слота под одним захватом.
func (q *Queue) Dequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.earliestLocked()
	if i < 0 {
		return Event{}, false
	}
	e := q.slots[i].ev
	q.slots[i].occupied.Store(false)
	return e, true
}

// Clear удаляет все события. Мьютекс ждётся не дольше ClearLockTimeout;
// при неудаче слоты освобождаются без него и возвращается false.
// Никогда не блокируется надолго: это примитив аварийной остановки.
func (q *Queue) Clear() bool {
	locked := q.tryLock(ClearLockTimeout)
	for i := range q.slots {
		q.slots[i].occupied.Store(false)
	}
	if !locked {
		q.log.Warn("clear without lock (contention)")
		return false
	}
	q.mu.Unlock()
	return true
}

func (q *Queue) tryLock(timeout time.Duration) bool {
	if q.mu.TryLock() {
		return true
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(50 * time.Microsecond)
		if q.mu.TryLock() {
			return true
		}
	}
	return false
}

// NotifyConsumer будит задачу мотора. Вызывается вне мьютекса.
func (q *Queue) NotifyConsumer() {
	if q.notify != nil {
		q.notify.Notify()
	}
}

// Len возвращает число занятых слотов.
func (q *Queue) Len() int {
	n := 0
	for i := range q.slots {
		if q.slots[i].occupied.Load() {
			n++
		}
	}
	return n
}

// IsComplete сообщает, что все события пакета выполнены.
func (q *Queue) IsComplete() bool { return q.Len() == 0 }
