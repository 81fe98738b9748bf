// Package staging — неблокирующая передача событий из контекста приёма
// (колбэк линка) в обычную задачу: кольцо SPSC на атомиках.
//
// Производитель ровно один (горутина приёма), потребитель ровно один
// (задача разбора). Stage и Unstage не блокируются и не выделяют память.
package staging

import "sync/atomic"

// Event — событие, уже переведённое в локальное время.
type Event struct {
	DueUs       uint64
	Finger      uint8
	Amplitude   uint8
	DurationMs  uint16
	FrequencyHz uint16
	// FirstInBatch ставит Stage на первое событие после BeginBatch:
	// потребитель очищает очередь мотора до его приёма.
	FirstInBatch bool
	// LastInBatch отмечает последнее событие пакета: потребитель после него
	// взводит очередь мотора.
	LastInBatch bool
}

type slot struct {
	ev    Event
	valid atomic.Bool
}

// Buffer — кольцо на P слотов, из которых занято может быть не более P−1.
type Buffer struct {
	_    [64]byte
	head atomic.Uint32 // пишет производитель
	_    [60]byte
	tail atomic.Uint32 // пишет потребитель
	_    [60]byte

	mask  uint32
	slots []slot
	// begin принадлежит производителю.
	begin bool
	// batches — пакеты, начатые в кольце, чьё последнее событие ещё не выбрано.
	batches atomic.Int32
}

// DefaultCapacity — размер кольца по умолчанию.
const DefaultCapacity = 16

// New создаёт кольцо. capacity должна быть степенью двойки, иначе panic.
func New(capacity int) *Buffer {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		panic("staging: capacity must be a power of two >= 2")
	}
	return &Buffer{
		mask:  uint32(capacity - 1),
		slots: make([]slot, capacity),
	}
}

// Cap возвращает число слотов P.
func (b *Buffer) Cap() int { return len(b.slots) }

// Stage кладёт событие (только производитель). false — кольцо заполнено.
func (b *Buffer) Stage(e Event) bool {
	h := b.head.Load()
	next := (h + 1) & b.mask
	if next == b.tail.Load() {
		return false
	}
	if b.begin {
		e.FirstInBatch = true
		b.begin = false
		b.batches.Add(1)
	}
	s := &b.slots[h]
	s.ev = e
	s.valid.Store(true)
	b.head.Store(next)
	return true
}

// Unstage забирает самое старое событие (только потребитель).
func (b *Buffer) Unstage() (Event, bool) {
	t := b.tail.Load()
	if t == b.head.Load() {
		return Event{}, false
	}
	s := &b.slots[t]
	if !s.valid.Load() {
		return Event{}, false
	}
	e := s.ev
	s.ev = Event{}
	s.valid.Store(false)
	b.tail.Store((t + 1) & b.mask)
	if e.LastInBatch && b.batches.Load() > 0 {
		b.batches.Add(-1)
	}
	return e, true
}

// BeginBatch отмечает начало нового пакета (только производитель): следующее
// успешно положенное событие получит FirstInBatch. Граница хранится в слоте,
// поэтому два пакета подряд в кольце не сливаются.
func (b *Buffer) BeginBatch() { b.begin = true }

// BatchPending сообщает, что в кольце есть начатый пакет, последний элемент
// которого ещё не выбран.
func (b *Buffer) BatchPending() bool { return b.batches.Load() > 0 }

// Len — число событий в кольце (приблизительно при конкурентной записи).
func (b *Buffer) Len() int {
	return int((b.head.Load() - b.tail.Load()) & b.mask)
}

// Reset опустошает кольцо. Вызывается только потребителем.
func (b *Buffer) Reset() {
	for {
		if _, ok := b.Unstage(); !ok {
			break
		}
	}
	b.batches.Store(0)
}
