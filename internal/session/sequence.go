package session

import (
	"context"
	"time"

	"github.com/shiwa/lockstep/internal/wire"
)

// Sequence — простейший фиксированный цикл: пальцы 0..Fingers−1 по очереди,
// OnMs вибрации и OffMs паузы, MaxBatchEvents событий на пакет.
type Sequence struct {
	OnMs      uint16
	OffMs     uint16
	Amplitude uint8
	Fingers   int
	// Period — интервал между пакетами; 0 — длительность одного пакета.
	Period time.Duration
}

// Значения цикла по умолчанию.
const (
	DefaultOnMs      = 100
	DefaultOffMs     = 67
	DefaultAmplitude = 100
)

func (s Sequence) withDefaults() Sequence {
	if s.OnMs == 0 {
		s.OnMs = DefaultOnMs
	}
	if s.OffMs == 0 {
		s.OffMs = DefaultOffMs
	}
	if s.Amplitude == 0 {
		s.Amplitude = DefaultAmplitude
	}
	if s.Fingers <= 0 || s.Fingers > MaxActuators {
		s.Fingers = MaxActuators
	}
	if s.Period <= 0 {
		s.Period = time.Duration(int(s.OnMs)+int(s.OffMs)) * wire.MaxBatchEvents * time.Millisecond
	}
	return s
}

// Events строит один пакет цикла.
func (s Sequence) Events() []wire.BatchEvent {
	s = s.withDefaults()
	step := s.OnMs + s.OffMs
	events := make([]wire.BatchEvent, wire.MaxBatchEvents)
	for i := range events {
		events[i] = wire.BatchEvent{
			DeltaMs:   uint16(i) * step,
			Finger:    uint8(i % s.Fingers),
			Amplitude: s.Amplitude,
		}
	}
	return events
}

// Run рассылает пакеты каждые Period, пока сессия в состоянии RUNNING и пир на связи.
func (s Sequence) Run(ctx context.Context, p *Primary) error {
	s = s.withDefaults()
	events := s.Events()
	t := time.NewTicker(s.Period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if p.State() != StateRunning || !p.Connected() {
			continue
		}
		if _, err := p.SendBatch(ctx, events, s.OnMs); err != nil {
			p.log.Warn("sequence: %v", err)
		}
	}
}
