// Package session — протокол пары узлов поверх link: PING/PONG для
// синхронизации часов, пакеты событий (MC), команды сессии и keepalive.
//
// Каждая роль работает в двух горутинах. Горутина приёма (контекст колбэка)
// только разбирает кадры, отвечает и кладёт события в кольцо staging.
// Обычная задача переносит события в очередь мотора, шлёт PING, следит за
// keepalive и исполняет отложенную работу.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shiwa/lockstep/internal/clock"
	"github.com/shiwa/lockstep/internal/deferred"
	"github.com/shiwa/lockstep/internal/haptic"
	"github.com/shiwa/lockstep/internal/link"
	"github.com/shiwa/lockstep/internal/logger"
	"github.com/shiwa/lockstep/internal/metrics"
	"github.com/shiwa/lockstep/internal/schedule"
	"github.com/shiwa/lockstep/internal/timesync"
	"github.com/shiwa/lockstep/internal/wire"
)

// Role — роль узла.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

// ParseRole разбирает роль из конфигурации.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePrimary, RoleSecondary:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q (want primary|secondary)", s)
}

// State — состояние сессии, управляемое командами START/PAUSE/RESUME/STOP.
type State uint32

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

const (
	// MaxActuators — пальцы, адресуемые пакетом.
	MaxActuators = 4
	// DefaultFrequencyHz — частота события с нулевой добавкой.
	DefaultFrequencyHz = 250
	// BaseFrequencyHz — основа для ненулевой добавки частоты.
	BaseFrequencyHz = 150

	// MaxValidOffset — предел |смещения| в принятом пакете.
	MaxValidOffset = 35 * time.Second
	// MaxBaseSkew — предел расхождения локальной базы пакета с текущим временем.
	MaxBaseSkew = 30 * time.Second

	DefaultPingInterval     = time.Second
	DefaultKeepaliveTimeout = 6 * time.Second
	DefaultTick             = 100 * time.Millisecond

	// EnqueueLockTimeout — сколько обычная задача ждёт мьютекс очереди мотора.
	EnqueueLockTimeout = 5 * time.Millisecond
)

// Импульс-подтверждение при соединении и двойной импульс при разрыве.
const (
	ConnectPulseFinger     = 0
	ConnectPulseAmplitude  = 30
	ConnectPulseDurationMs = 50

	DisconnectPulseAmplitude = 50
	DoublePulseGap           = 100 * time.Millisecond
)

// ErrBatchRejected — пакет не прошёл проверку; он подтверждается и отбрасывается.
var ErrBatchRejected = errors.New("batch rejected")

// Config — параметры сессии. Нулевые поля заменяются значениями по умолчанию.
type Config struct {
	PingInterval       time.Duration
	KeepaliveTimeout   time.Duration
	Tick               time.Duration
	DefaultFrequencyHz uint16
	// ConnectPulse — импульсы-подтверждения при соединении и разрыве.
	ConnectPulse bool
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.KeepaliveTimeout <= 0 {
		c.KeepaliveTimeout = DefaultKeepaliveTimeout
	}
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.DefaultFrequencyHz == 0 {
		c.DefaultFrequencyHz = DefaultFrequencyHz
	}
	return c
}

// FrequencyHz переводит добавку частоты из пакета в герцы.
func (c Config) FrequencyHz(offset uint8) uint16 {
	if offset == 0 {
		return c.DefaultFrequencyHz
	}
	return BaseFrequencyHz + uint16(offset)
}

// Deps — общие зависимости обеих ролей.
type Deps struct {
	Link     link.Link
	Clock    clock.Clock
	Queue    *schedule.Queue
	Actuator haptic.Actuator
	Metrics  *metrics.Metrics
}

func (d Deps) validate() error {
	switch {
	case d.Link == nil:
		return errors.New("session: nil link")
	case d.Clock == nil:
		return errors.New("session: nil clock")
	case d.Queue == nil:
		return errors.New("session: nil queue")
	case d.Actuator == nil:
		return errors.New("session: nil actuator")
	case d.Metrics == nil:
		return errors.New("session: nil metrics")
	}
	return nil
}

// Status — снимок состояния сессии.
type Status struct {
	Role        Role   `json:"role"`
	SessionID   string `json:"session_id,omitempty"`
	Connected   bool   `json:"connected"`
	State       string `json:"state"`
	LastSeenMs  uint64 `json:"last_seen_ms"`
	QueueLen    int    `json:"queue_len"`
	StagingLen  int    `json:"staging_len"`
	DeferredLen int    `json:"deferred_len"`
	Sent        uint64 `json:"sent"`
	Received    uint64 `json:"received"`
	Malformed   uint64 `json:"malformed"`
	// Dropped — события, не попавшие в очередь мотора (нет места или мьютекс занят).
	Dropped uint64 `json:"dropped"`

	// Только PRIMARY.
	Sync    *timesync.Status `json:"sync,omitempty"`
	Batches uint64           `json:"batches,omitempty"`
	LastAck uint32           `json:"last_ack,omitempty"`
}

// node — общее ядро PRIMARY и SECONDARY.
type node struct {
	role Role
	cfg  Config
	Deps
	work *deferred.Queue

	seq        atomic.Uint32
	lastSeenMs atomic.Uint64
	connected  atomic.Bool
	state      atomic.Uint32

	idMu sync.Mutex
	id   string

	sent      atomic.Uint64
	received  atomic.Uint64
	malformed atomic.Uint64
	dropped   atomic.Uint64

	// shutdownReq — запрос аварийной остановки из горутины приёма.
	shutdownReq chan struct{}

	log logger.Component
}

func newNode(role Role, d Deps, cfg Config) (*node, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	n := &node{
		role:        role,
		cfg:         cfg.withDefaults(),
		Deps:        d,
		shutdownReq: make(chan struct{}, 1),
		log:         logger.With(string(role)),
	}
	n.work = deferred.New(deferred.DefaultCapacity, deferred.ExecutorFunc(n.executeDeferred))
	return n, nil
}

func (n *node) nextSeq() uint32 { return n.seq.Add(1) }

func (n *node) send(ctx context.Context, msg string) error {
	if err := n.Link.Send(ctx, msg); err != nil {
		return err
	}
	n.sent.Add(1)
	return nil
}

// touch отмечает признак жизни пира. true — это первое сообщение после разрыва.
func (n *node) touch() bool {
	n.lastSeenMs.Store(n.Clock.Millis())
	return !n.connected.Swap(true)
}

// newSession выдаёт новый идентификатор сессии соединения.
func (n *node) newSession() string {
	id := uuid.NewString()
	n.idMu.Lock()
	n.id = id
	n.idMu.Unlock()
	return id
}

// SessionID — идентификатор текущей сессии соединения ("" до первого соединения).
func (n *node) SessionID() string {
	n.idMu.Lock()
	defer n.idMu.Unlock()
	return n.id
}

// Connected сообщает, жив ли пир.
func (n *node) Connected() bool { return n.connected.Load() }

// State — состояние сессии.
func (n *node) State() State { return State(n.state.Load()) }

func (n *node) setState(s State) {
	if old := State(n.state.Swap(uint32(s))); old != s {
		n.log.Info("session %s -> %s", old, s)
	}
}

// keepaliveExpired проверяет тайм-аут и при срабатывании помечает пира отключённым.
func (n *node) keepaliveExpired() bool {
	if !n.connected.Load() {
		return false
	}
	last := n.lastSeenMs.Load()
	now := n.Clock.Millis()
	if now < last || now-last <= uint64(n.cfg.KeepaliveTimeout/time.Millisecond) {
		return false
	}
	if !n.connected.CompareAndSwap(true, false) {
		return false
	}
	n.log.Warn("keepalive timeout: peer silent for %d ms", now-last)
	return true
}

// requestShutdown передаёт аварийную остановку обычной задаче. Не блокируется.
func (n *node) requestShutdown() {
	select {
	case n.shutdownReq <- struct{}{}:
	default:
	}
}

// safetyShutdown — очистка очереди (best effort), отложенной работы и остановка всех пальцев.
// Безопасна из любой горутины.
func (n *node) safetyShutdown() {
	n.work.Clear()
	if !n.Queue.Clear() {
		n.log.Warn("safety shutdown: queue cleared without lock")
	}
	n.Queue.NotifyConsumer()
	if err := n.Actuator.StopAll(); err != nil {
		n.log.Error("safety shutdown: stop all: %v", err)
	}
}

// enqueue ставит пару событий с ограниченным ожиданием мьютекса.
// Отказ (ErrQueueFull, ErrLockTimeout) учитывается в Dropped.
func (n *node) enqueue(dueUs uint64, finger, amplitude uint8, durationMs, frequencyHz uint16) error {
	err := n.Queue.TryEnqueue(EnqueueLockTimeout, dueUs, finger, amplitude, durationMs, frequencyHz)
	if err != nil {
		n.dropped.Add(1)
		n.log.Warn("enqueue f%d @%d: %v", finger, dueUs, err)
	}
	return err
}

// pulse ставит одиночный импульс в очередь мотора «прямо сейчас».
func (n *node) pulse(at uint64, finger, amplitude uint8, durationMs uint16) error {
	if err := n.enqueue(at, finger, amplitude, durationMs, n.cfg.DefaultFrequencyHz); err != nil {
		return fmt.Errorf("pulse f%d: %w", finger, err)
	}
	n.Queue.NotifyConsumer()
	return nil
}

// executeDeferred исполняет отложенную работу в обычной задаче.
// Импульсы идут через очередь мотора: Sink вызывает только задача мотора.
func (n *node) executeDeferred(w deferred.Work) error {
	now := n.Clock.Micros()
	dur := uint16(w.DurationMs)
	switch w.Kind {
	case deferred.HapticPulse:
		return n.pulse(now, w.Finger, w.Amplitude, dur)
	case deferred.HapticDoublePulse:
		if err := n.pulse(now, w.Finger, w.Amplitude, dur); err != nil {
			return err
		}
		second := now + uint64(w.DurationMs)*1000 + uint64(DoublePulseGap/time.Microsecond)
		return n.pulse(second, w.Finger, w.Amplitude, dur)
	case deferred.HapticDeactivate:
		return n.Actuator.Deactivate(w.Finger)
	default:
		return fmt.Errorf("unsupported deferred work %s", w.Kind)
	}
}

func (n *node) connectPulse() {
	if n.cfg.ConnectPulse && n.Actuator.Fingers() > ConnectPulseFinger {
		n.work.Enqueue(deferred.Work{
			Kind:       deferred.HapticPulse,
			Finger:     ConnectPulseFinger,
			Amplitude:  ConnectPulseAmplitude,
			DurationMs: ConnectPulseDurationMs,
		})
	}
}

func (n *node) disconnectPulse() {
	if n.cfg.ConnectPulse && n.Actuator.Fingers() > ConnectPulseFinger {
		n.work.Enqueue(deferred.Work{
			Kind:       deferred.HapticDoublePulse,
			Finger:     ConnectPulseFinger,
			Amplitude:  DisconnectPulseAmplitude,
			DurationMs: ConnectPulseDurationMs,
		})
	}
}

// receive — цикл горутины приёма. Возвращает nil при отмене ctx.
func (n *node) receive(ctx context.Context, handle func(context.Context, link.Frame, wire.Message)) error {
	for {
		f, err := n.Link.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: %w", n.Link.Name(), err)
		}
		n.received.Add(1)
		msg, err := wire.Decode(f.Msg)
		if err != nil {
			n.malformed.Add(1)
			// пустой MC всё равно подтверждается, иначе отправитель повторяет его
			if !errors.Is(err, wire.ErrEmptyBatch) {
				n.log.Debug("drop frame: %v", err)
				continue
			}
		}
		handle(ctx, f, msg)
	}
}

func (n *node) status() Status {
	return Status{
		Role:        n.role,
		SessionID:   n.SessionID(),
		Connected:   n.connected.Load(),
		State:       n.State().String(),
		LastSeenMs:  n.lastSeenMs.Load(),
		QueueLen:    n.Queue.Len(),
		DeferredLen: n.work.Pending(),
		Sent:        n.sent.Load(),
		Received:    n.received.Load(),
		Malformed:   n.malformed.Load(),
		Dropped:     n.dropped.Load(),
	}
}
