package haptic

import (
	"sync"

	"github.com/shiwa/lockstep/internal/logger"
)

// LogSink — исполнитель без железа: ведёт состояние пальцев и пишет действия в debug-лог.
// Используется на стендах и в CI.
type LogSink struct {
	mu          sync.Mutex
	fingers     int
	active      []bool
	freq        []uint16
	preselected int
	activations uint64
	log         logger.Component
}

// NewLogSink создаёт исполнитель на fingers пальцев.
func NewLogSink(fingers int) *LogSink {
	if fingers <= 0 {
		fingers = 4
	}
	return &LogSink{
		fingers:     fingers,
		active:      make([]bool, fingers),
		freq:        make([]uint16, fingers),
		preselected: -1,
		log:         logger.With("haptic"),
	}
}

func (s *LogSink) Fingers() int { return s.fingers }

func (s *LogSink) Activate(finger, amplitude uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activateLocked(finger, amplitude)
}

func (s *LogSink) activateLocked(finger, amplitude uint8) error {
	if err := checkFinger(finger, s.fingers); err != nil {
		return err
	}
	s.active[finger] = amplitude > 0
	s.activations++
	s.log.Debug("f%d on amp=%d%% freq=%dHz", finger, amplitude, s.freq[finger])
	return nil
}

func (s *LogSink) Deactivate(finger uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkFinger(finger, s.fingers); err != nil {
		return err
	}
	s.active[finger] = false
	if s.preselected == int(finger) {
		s.preselected = -1
	}
	s.log.Debug("f%d off", finger)
	return nil
}

func (s *LogSink) SetFrequency(finger uint8, hz uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkFinger(finger, s.fingers); err != nil {
		return err
	}
	s.freq[finger] = hz
	return nil
}

func (s *LogSink) PreSelect(finger uint8, hz uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkFinger(finger, s.fingers); err != nil {
		return err
	}
	s.freq[finger] = hz
	s.preselected = int(finger)
	return nil
}

func (s *LogSink) PreSelected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preselected
}

func (s *LogSink) ActivatePreSelected(finger, amplitude uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preselected = -1
	return s.activateLocked(finger, amplitude)
}

func (s *LogSink) StopAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.active {
		s.active[i] = false
	}
	s.preselected = -1
	s.log.Debug("all off")
	return nil
}

// Active сообщает, включён ли палец.
func (s *LogSink) Active(finger uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(finger) < s.fingers && s.active[finger]
}

// Activations — число включений с момента создания.
func (s *LogSink) Activations() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activations
}
