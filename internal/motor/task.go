// Package motor — задача реального времени, исполняющая события очереди
// точно в срок: грубый сон до окна точного ожидания, затем busy-wait.
//
// Задача — единственный, кто вызывает активацию на Sink. Мьютекс очереди
// держится только на время Peek/Dequeue, но не во время вызова Sink.
package motor

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shiwa/lockstep/internal/clock"
	"github.com/shiwa/lockstep/internal/logger"
	"github.com/shiwa/lockstep/internal/rt"
	"github.com/shiwa/lockstep/internal/schedule"
)

// Queue — потребительская сторона очереди событий.
type Queue interface {
	Peek() (schedule.Event, bool)
	Dequeue() (schedule.Event, bool)
}

// Sink — аппаратный исполнитель. Не реентерабелен: вызывается только из задачи.
type Sink interface {
	Activate(finger, amplitude uint8) error
	Deactivate(finger uint8) error
	SetFrequency(finger uint8, hz uint16) error
	// PreSelect заранее готовит канал и частоту для следующей активации.
	PreSelect(finger uint8, hz uint16) error
	// PreSelected возвращает палец, подготовленный PreSelect, или −1.
	PreSelected() int
	ActivatePreSelected(finger, amplitude uint8) error
}

// Recorder получает фактическое отклонение исполнения от срока.
type Recorder interface {
	RecordDrift(kind schedule.Kind, finger uint8, driftUs int64)
}

// State — состояние задачи.
type State uint32

const (
	Idle State = iota
	Armed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Armed:
		return "ARMED"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

const (
	DefaultCoarseThreshold = 2 * time.Millisecond
	DefaultFineWindow      = 1 * time.Millisecond
)

// Task — задача мотора.
type Task struct {
	q       Queue
	sink    Sink
	clk     clock.Clock
	sleeper clock.Sleeper
	yield   func()
	rec     Recorder

	coarseUs uint64
	fineUs   uint64

	pin    bool
	rtOpts rt.Options

	wake     chan struct{}
	state    atomic.Uint32
	executed atomic.Uint64
	failures atomic.Uint64
	log      logger.Component
}

// Option — опция конструктора Task.
type Option func(*Task)

// WithSleeper подменяет грубый сон (по умолчанию clock.TimerSleeper).
func WithSleeper(s clock.Sleeper) Option { return func(t *Task) { t.sleeper = s } }

// WithYield подменяет уступку процессора в busy-wait (по умолчанию runtime.Gosched).
func WithYield(y func()) Option { return func(t *Task) { t.yield = y } }

// WithRecorder подключает сбор метрик.
func WithRecorder(r Recorder) Option { return func(t *Task) { t.rec = r } }

// WithThresholds задаёт порог грубого сна и окно точного ожидания.
func WithThresholds(coarse, fine time.Duration) Option {
	return func(t *Task) {
		if coarse > 0 {
			t.coarseUs = uint64(coarse / time.Microsecond)
		}
		if fine > 0 {
			t.fineUs = uint64(fine / time.Microsecond)
		}
	}
}

// WithRealtime закрепляет задачу за потоком ОС и, если o.Realtime,
// поднимает приоритет до SCHED_FIFO.
func WithRealtime(o rt.Options) Option {
	return func(t *Task) {
		t.pin = true
		t.rtOpts = o
	}
}

// New создаёт задачу мотора.
func New(q Queue, sink Sink, clk clock.Clock, opts ...Option) *Task {
	t := &Task{
		q:        q,
		sink:     sink,
		clk:      clk,
		sleeper:  clock.TimerSleeper{},
		yield:    runtime.Gosched,
		coarseUs: uint64(DefaultCoarseThreshold / time.Microsecond),
		fineUs:   uint64(DefaultFineWindow / time.Microsecond),
		wake:     make(chan struct{}, 1),
		log:      logger.With("motor"),
	}
	for _, o := range opts {
		o(t)
	}
	if t.fineUs >= t.coarseUs {
		t.fineUs = t.coarseUs / 2
	}
	return t
}

// Notify будит задачу (новый пакет в очереди). Не блокируется.
func (t *Task) Notify() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// State возвращает текущее состояние.
func (t *Task) State() State { return State(t.state.Load()) }

// Executed — число исполненных событий.
func (t *Task) Executed() uint64 { return t.executed.Load() }

// Failures — число ошибок Sink.
func (t *Task) Failures() uint64 { return t.failures.Load() }

// Run — цикл задачи до отмены ctx.
func (t *Task) Run(ctx context.Context) error {
	if t.pin {
		leave := rt.Enter(t.rtOpts)
		defer leave()
	}
	t.log.Info("motor task started (coarse %d us, fine %d us)", t.coarseUs, t.fineUs)
	defer t.log.Info("motor task stopped")
	for {
		if err := t.step(ctx); err != nil {
			t.state.Store(uint32(Idle))
			return nil
		}
	}
}

// step — одна итерация цикла. Ошибка возвращается только при отмене ctx.
func (t *Task) step(ctx context.Context) error {
	ev, ok := t.q.Peek()
	if !ok {
		t.state.Store(uint32(Idle))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.wake:
			return nil
		}
	}
	t.state.Store(uint32(Armed))

	// вычитание в беззнаковом виде, затем знаковая интерпретация
	delay := int64(ev.DueUs - t.clk.Micros())
	if delay <= 0 {
		t.executeNext()
		return nil
	}
	if uint64(delay) > t.coarseUs {
		d := time.Duration(uint64(delay)-t.fineUs) * time.Microsecond
		return t.sleeper.Sleep(ctx, d, t.wake)
	}

	cur, ok := t.q.Peek()
	if !ok || cur != ev {
		return nil
	}
	for int64(ev.DueUs-t.clk.Micros()) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.yield()
	}
	t.executeNext()
	return nil
}

func (t *Task) executeNext() {
	ev, ok := t.q.Dequeue()
	if !ok {
		// очередь очищена между Peek и Dequeue
		return
	}
	t.execute(ev)
}

func (t *Task) execute(ev schedule.Event) {
	var err error
	switch ev.Kind {
	case schedule.Activate:
		if t.sink.PreSelected() == int(ev.Finger) {
			err = t.sink.ActivatePreSelected(ev.Finger, ev.Amplitude)
		} else {
			err = t.sink.SetFrequency(ev.Finger, ev.FrequencyHz)
			if err == nil {
				err = t.sink.Activate(ev.Finger, ev.Amplitude)
			}
		}
	case schedule.Deactivate:
		err = t.sink.Deactivate(ev.Finger)
	default:
		t.log.Warn("unknown event kind %v", ev.Kind)
		return
	}
	drift := int64(t.clk.Micros() - ev.DueUs)
	t.executed.Add(1)
	if err != nil {
		t.failures.Add(1)
		t.log.Error("%v: %v", ev, err)
	}
	if t.rec != nil {
		t.rec.RecordDrift(ev.Kind, ev.Finger, drift)
	}
	if ev.Kind == schedule.Deactivate {
		t.preselectNext()
	}
}

func (t *Task) preselectNext() {
	next, ok := t.q.Peek()
	if !ok || next.Kind != schedule.Activate {
		return
	}
	if err := t.sink.PreSelect(next.Finger, next.FrequencyHz); err != nil {
		t.log.Debug("preselect f%d: %v", next.Finger, err)
	}
}
