package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shiwa/lockstep/internal/link"
	"github.com/shiwa/lockstep/internal/timesync"
	"github.com/shiwa/lockstep/internal/wire"
)

// Primary — ведущий узел: оценивает смещение часов SECONDARY, рассылает
// пакеты событий и исполняет их у себя.
type Primary struct {
	*node
	est *timesync.Estimator

	// Исходящий PING: номер и T1. T1 обнуляется после обработки PONG.
	pingSeq atomic.Uint32
	pingT1  atomic.Uint64

	lastAck atomic.Uint32
	batches atomic.Uint64
}

// NewPrimary создаёт ведущий узел.
func NewPrimary(d Deps, est *timesync.Estimator, cfg Config) (*Primary, error) {
	if est == nil {
		return nil, errors.New("session: nil estimator")
	}
	n, err := newNode(RolePrimary, d, cfg)
	if err != nil {
		return nil, err
	}
	return &Primary{node: n, est: est}, nil
}

// Estimator — оценщик смещения этого узла.
func (p *Primary) Estimator() *timesync.Estimator { return p.est }

// Run запускает приём и обычную задачу до отмены ctx или закрытия линка.
func (p *Primary) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- p.receive(ctx, p.handle) }()

	ping := time.NewTicker(p.cfg.PingInterval)
	defer ping.Stop()
	tick := time.NewTicker(p.cfg.Tick)
	defer tick.Stop()

	p.Ping(ctx)
	for {
		select {
		case <-ctx.Done():
			<-errc
			return nil
		case err := <-errc:
			return err
		case <-ping.C:
			p.Ping(ctx)
		case w := <-p.work.C():
			p.work.Execute(w)
		case <-p.shutdownReq:
			p.SafetyShutdown()
		case <-tick.C:
			p.checkKeepalive(ctx)
		}
	}
}

// Ping отправляет PING с текущим временем как T1.
func (p *Primary) Ping(ctx context.Context) {
	seq := p.nextSeq()
	p.pingT1.Store(0)
	p.pingSeq.Store(seq)
	t1 := p.Clock.Micros()
	p.pingT1.Store(t1)
	if err := p.send(ctx, wire.EncodePing(seq, t1)); err != nil {
		p.log.Debug("ping %d: %v", seq, err)
	}
}

func (p *Primary) checkKeepalive(ctx context.Context) {
	if !p.keepaliveExpired() {
		return
	}
	if msg, err := wire.EncodeCommand(wire.KindStopSession, p.nextSeq()); err == nil {
		if err := p.send(ctx, msg); err != nil {
			p.log.Debug("stop session: %v", err)
		}
	}
	p.setState(StateStopped)
	p.SafetyShutdown()
	p.est.Reset()
	p.disconnectPulse()
}

// handle — обработка кадра в горутине приёма.
func (p *Primary) handle(ctx context.Context, f link.Frame, msg wire.Message) {
	switch msg.Kind {
	case wire.KindPong:
		// любой PONG доказывает, что пир жив, даже запоздавший
		p.alive()
		p.handlePong(f, msg)
	case wire.KindBatchAck:
		p.alive()
		p.lastAck.Store(msg.Seq)
		p.log.Debug("batch %d acked", msg.Seq)
	case wire.KindIdentify:
		p.alive()
		p.log.Info("peer identified as %s", msg.Role)
	default:
		p.log.Debug("ignore %s", msg.Kind)
	}
}

// alive обновляет keepalive. Первое сообщение после разрыва сбрасывает
// оценщик и пробует тёплый старт.
func (p *Primary) alive() {
	if !p.touch() {
		return
	}
	id := p.newSession()
	p.est.Reset()
	if p.est.TryWarmStart() {
		p.log.Info("secondary connected, session %s: warm start, need %d samples",
			id, p.est.Params().WarmConfirmSamples)
	} else {
		p.log.Info("secondary connected, session %s: cold start, need %d samples",
			id, p.est.Params().MinValidSamples)
	}
	p.connectPulse()
}

func (p *Primary) handlePong(f link.Frame, msg wire.Message) {
	if msg.Seq != p.pingSeq.Load() {
		p.log.Debug("pong %d does not match ping %d", msg.Seq, p.pingSeq.Load())
		return
	}
	t1 := p.pingT1.Swap(0)
	if t1 == 0 {
		return
	}
	wasValid := p.est.Valid()
	res := p.est.RecordRoundTrip(timesync.Exchange{T1: t1, T2: msg.T2, T3: msg.T3, T4: f.RxUs})
	p.Metrics.RecordRTT(res.RoundTrip.RTT)
	if !res.Accepted {
		return
	}
	p.Metrics.RecordSyncProbe(res.Offset)
	if !wasValid && p.est.Valid() {
		p.Metrics.FinalizeSyncProbing(p.est.Offset())
	}
	p.log.Debug("pong %d: offset %d us, rtt %d us", msg.Seq, res.Offset, res.RoundTrip.RTT)
}

// SendBatch рассылает пакет и ставит те же события в локальную очередь.
// База — сейчас плюс адаптивное упреждение. Без валидного смещения пакет
// уходит со смещением 0 (SECONDARY сыграет его по своим часам).
func (p *Primary) SendBatch(ctx context.Context, events []wire.BatchEvent, durationMs uint16) (wire.Batch, error) {
	if len(events) == 0 {
		return wire.Batch{}, wire.ErrEmptyBatch
	}
	if len(events) > wire.MaxBatchEvents {
		return wire.Batch{}, wire.ErrTooManyEvents
	}
	p.Queue.Clear()

	b := wire.Batch{
		Seq:        p.nextSeq(),
		BaseUs:     p.Clock.Micros() + p.est.AdaptiveLeadTime(),
		DurationMs: durationMs,
		Events:     events,
	}
	if p.est.Valid() {
		b.OffsetUs = p.est.CorrectedOffset()
	} else {
		p.log.Warn("batch %d: clock sync not valid, sending with zero offset", b.Seq)
	}
	msg, err := wire.EncodeBatch(b)
	if err != nil {
		return b, fmt.Errorf("encode batch: %w", err)
	}
	if err := p.send(ctx, msg); err != nil {
		// локально всё равно играем
		p.log.Warn("send batch %d: %v", b.Seq, err)
	}
	p.batches.Add(1)

	for _, e := range events {
		if e.Amplitude == 0 || e.Finger >= MaxActuators {
			continue
		}
		due := b.BaseUs + uint64(e.DeltaMs)*1000
		// отказ уже учтён в Dropped, остальные события пакета всё равно ставятся
		_ = p.enqueue(due, e.Finger, e.Amplitude, durationMs, p.cfg.FrequencyHz(e.FreqOffset))
	}
	p.Queue.NotifyConsumer()
	return b, nil
}

// SendCommand отправляет команду сессии и применяет её локально.
func (p *Primary) SendCommand(ctx context.Context, k wire.Kind) error {
	msg, err := wire.EncodeCommand(k, p.nextSeq())
	if err != nil {
		return err
	}
	switch k {
	case wire.KindStartSession, wire.KindResumeSession:
		p.setState(StateRunning)
	case wire.KindPauseSession:
		p.setState(StatePaused)
		p.Queue.Clear()
		p.Queue.NotifyConsumer()
	case wire.KindStopSession:
		p.setState(StateStopped)
		p.requestShutdown()
	}
	if err := p.send(ctx, msg); err != nil {
		return fmt.Errorf("send %s: %w", k, err)
	}
	return nil
}

// SafetyShutdown останавливает исполнение. Безопасна из любой горутины.
func (p *Primary) SafetyShutdown() { p.safetyShutdown() }

// Shutdown — то же, что SafetyShutdown (выход процесса).
func (p *Primary) Shutdown() { p.safetyShutdown() }

// LastAck — номер последнего подтверждённого пакета.
func (p *Primary) LastAck() uint32 { return p.lastAck.Load() }

// Batches — число разосланных пакетов.
func (p *Primary) Batches() uint64 { return p.batches.Load() }

// Status — снимок состояния.
func (p *Primary) Status() Status {
	st := p.status()
	snap := p.est.Snapshot()
	st.Sync = &snap
	st.Batches = p.batches.Load()
	st.LastAck = p.lastAck.Load()
	return st
}
