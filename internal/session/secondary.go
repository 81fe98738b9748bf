package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shiwa/lockstep/internal/link"
	"github.com/shiwa/lockstep/internal/staging"
	"github.com/shiwa/lockstep/internal/wire"
)

// Secondary — ведомый узел: отвечает на PING, принимает пакеты и исполняет
// их по своим часам.
type Secondary struct {
	*node
	buf *staging.Buffer

	// kick будит обычную задачу после постановки пакета в кольцо.
	kick chan struct{}

	rejected atomic.Uint64
}

// NewSecondary создаёт ведомый узел. buf — кольцо между приёмом и обычной задачей.
func NewSecondary(d Deps, buf *staging.Buffer, cfg Config) (*Secondary, error) {
	if buf == nil {
		return nil, fmt.Errorf("session: nil staging buffer")
	}
	n, err := newNode(RoleSecondary, d, cfg)
	if err != nil {
		return nil, err
	}
	return &Secondary{node: n, buf: buf, kick: make(chan struct{}, 1)}, nil
}

// Run запускает приём и обычную задачу до отмены ctx или закрытия линка.
func (s *Secondary) Run(ctx context.Context) error {
	s.identify(ctx)

	errc := make(chan error, 1)
	go func() { errc <- s.receive(ctx, s.handle) }()

	tick := time.NewTicker(s.cfg.Tick)
	defer tick.Stop()
	for {
		s.drain()
		select {
		case <-ctx.Done():
			<-errc
			return nil
		case err := <-errc:
			return err
		case <-s.kick:
		case w := <-s.work.C():
			s.work.Execute(w)
		case <-s.shutdownReq:
			s.SafetyShutdown()
		case <-tick.C:
			if s.keepaliveExpired() {
				s.SafetyShutdown()
				s.disconnectPulse()
			}
		}
	}
}

func (s *Secondary) identify(ctx context.Context) {
	if err := s.send(ctx, wire.EncodeIdentify(wire.RoleSecondary)); err != nil {
		s.log.Warn("identify: %v", err)
	}
}

// handle — обработка кадра в горутине приёма.
func (s *Secondary) handle(ctx context.Context, f link.Frame, msg wire.Message) {
	switch msg.Kind {
	case wire.KindPing:
		// T3 снимается как можно ближе к отправке
		t3 := s.Clock.Micros()
		if err := s.send(ctx, wire.EncodePong(msg.Seq, f.RxUs, t3)); err != nil {
			s.log.Warn("pong: %v", err)
		}
		s.alive(ctx)
	case wire.KindBatch:
		s.alive(ctx)
		if err := s.acceptBatch(msg.Batch); err != nil {
			s.rejected.Add(1)
			s.log.Warn("batch %d: %v", msg.Seq, err)
		}
		if err := s.send(ctx, wire.EncodeAck(msg.Seq)); err != nil {
			s.log.Warn("ack %d: %v", msg.Seq, err)
		}
	case wire.KindStartSession, wire.KindResumeSession:
		s.alive(ctx)
		s.setState(StateRunning)
	case wire.KindPauseSession:
		s.alive(ctx)
		s.setState(StatePaused)
		s.Queue.Clear()
		s.Queue.NotifyConsumer()
	case wire.KindStopSession:
		s.alive(ctx)
		s.setState(StateStopped)
		s.requestShutdown()
	default:
		s.log.Debug("ignore %s", msg.Kind)
	}
}

// alive обновляет keepalive; после разрыва начинает новую сессию.
func (s *Secondary) alive(ctx context.Context) {
	if !s.touch() {
		return
	}
	id := s.newSession()
	s.log.Info("primary connected, session %s", id)
	s.identify(ctx)
	s.connectPulse()
}

// acceptBatch проверяет пакет, переводит его в локальное время и кладёт в кольцо.
func (s *Secondary) acceptBatch(b wire.Batch) error {
	if s.State() == StatePaused {
		return fmt.Errorf("session paused: %w", ErrBatchRejected)
	}
	events, err := s.translate(b, s.Clock.Micros())
	if err != nil {
		return err
	}
	free := s.buf.Cap() - 1 - s.buf.Len()
	if len(events) > free {
		return fmt.Errorf("staging has %d free slots, need %d: %w", free, len(events), ErrBatchRejected)
	}
	s.buf.BeginBatch()
	for _, e := range events {
		if !s.buf.Stage(e) {
			// проверка выше консервативна: Len при параллельной выборке
			// только завышает занятость, так что сюда обычно не попасть
			return fmt.Errorf("staging full: %w", ErrBatchRejected)
		}
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
	return nil
}

// translate проверяет смещение и базу пакета и строит события в локальном времени.
func (s *Secondary) translate(b wire.Batch, nowUs uint64) ([]staging.Event, error) {
	maxOffset := int64(MaxValidOffset / time.Microsecond)
	if b.OffsetUs > maxOffset || b.OffsetUs < -maxOffset {
		return nil, fmt.Errorf("offset %d us out of range: %w", b.OffsetUs, ErrBatchRejected)
	}
	base := b.LocalBaseUs()
	skew := base - int64(nowUs)
	maxSkew := int64(MaxBaseSkew / time.Microsecond)
	if base < 0 || skew > maxSkew || skew < -maxSkew {
		return nil, fmt.Errorf("local base %d us is %d us from now: %w", base, skew, ErrBatchRejected)
	}

	events := make([]staging.Event, 0, len(b.Events))
	for _, e := range b.Events {
		if e.Amplitude == 0 || e.Finger >= MaxActuators {
			continue
		}
		events = append(events, staging.Event{
			DueUs:       uint64(base) + uint64(e.DeltaMs)*1000,
			Finger:      e.Finger,
			Amplitude:   e.Amplitude,
			DurationMs:  b.DurationMs,
			FrequencyHz: s.cfg.FrequencyHz(e.FreqOffset),
		})
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("no playable events: %w", ErrBatchRejected)
	}
	events[len(events)-1].LastInBatch = true
	return events, nil
}

// drain переносит события из кольца в очередь мотора (обычная задача).
// Первое событие пакета очищает очередь, последнее будит задачу мотора.
func (s *Secondary) drain() {
	for {
		e, ok := s.buf.Unstage()
		if !ok {
			return
		}
		if e.FirstInBatch {
			s.Queue.Clear()
		}
		_ = s.enqueue(e.DueUs, e.Finger, e.Amplitude, e.DurationMs, e.FrequencyHz)
		if e.LastInBatch {
			s.Queue.NotifyConsumer()
		}
	}
}

// SafetyShutdown останавливает исполнение и сбрасывает кольцо.
// Только для обычной задачи: Reset кольца разрешён лишь потребителю.
func (s *Secondary) SafetyShutdown() {
	s.safetyShutdown()
	s.buf.Reset()
}

// Shutdown — аварийная остановка из любой горутины (выход процесса); кольцо не трогает.
func (s *Secondary) Shutdown() { s.safetyShutdown() }

// Rejected — число отклонённых пакетов.
func (s *Secondary) Rejected() uint64 { return s.rejected.Load() }

// Status — снимок состояния.
func (s *Secondary) Status() Status {
	st := s.status()
	st.StagingLen = s.buf.Len()
	return st
}
