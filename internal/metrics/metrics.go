// Package metrics — сбор задержек исполнения и качества синхронизации.
//
// Metrics реализует motor.Recorder: задача мотора отдаёт фактическое
// отклонение каждого события, сессия — RTT и пробы синхронизации.
package metrics

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/shiwa/lockstep/internal/logger"
	"github.com/shiwa/lockstep/internal/schedule"
)

// LateThresholdUs — событие, исполненное позже срока на большее число мкс, считается опоздавшим.
const LateThresholdUs = 1000

// Confidence — оценка качества синхронизации по разбросу проб.
type Confidence int

const (
	ConfidenceUnknown Confidence = iota
	ConfidenceLow
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "HIGH"
	case ConfidenceMedium:
		return "MEDIUM"
	case ConfidenceLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// Пороги разброса проб (мкс).
const (
	highSpreadUs   = 10_000
	mediumSpreadUs = 20_000
)

type span struct {
	n        uint64
	sum      int64
	min, max int64
}

func (s *span) reset() {
	*s = span{min: math.MaxInt64, max: math.MinInt64}
}

func (s *span) add(v int64) {
	s.n++
	s.sum += v
	if v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
}

func (s *span) avg() float64 {
	if s.n == 0 {
		return 0
	}
	return float64(s.sum) / float64(s.n)
}

func (s *span) jitter() int64 {
	if s.n == 0 {
		return 0
	}
	return s.max - s.min
}

// Metrics — накопитель. Выключенный накопитель игнорирует записи.
type Metrics struct {
	mu      sync.Mutex
	enabled bool
	verbose bool

	drift  span
	late   uint64
	early  uint64
	byKind map[schedule.Kind]uint64

	rtt span

	probes      span
	finalOffset int64
	finalized   bool

	log logger.Component
}

// New создаёт выключенный накопитель.
func New() *Metrics {
	m := &Metrics{log: logger.With("metrics")}
	m.resetLocked()
	return m
}

// Enable включает сбор. Если сбор был выключен, статистика обнуляется.
func (m *Metrics) Enable(verbose bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		m.resetLocked()
	}
	m.enabled = true
	m.verbose = verbose
}

// Disable выключает сбор и печатает отчёт.
func (m *Metrics) Disable() {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	m.enabled = false
	report := m.reportLocked()
	m.mu.Unlock()
	logger.Info("%s", report)
}

// Enabled сообщает, идёт ли сбор.
func (m *Metrics) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Reset обнуляет статистику, не меняя режим.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Metrics) resetLocked() {
	m.drift.reset()
	m.rtt.reset()
	m.probes.reset()
	m.late, m.early = 0, 0
	m.byKind = make(map[schedule.Kind]uint64)
	m.finalOffset = 0
	m.finalized = false
}

// RecordDrift учитывает отклонение исполнения события (положительное — опоздание).
func (m *Metrics) RecordDrift(kind schedule.Kind, finger uint8, driftUs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}
	m.drift.add(driftUs)
	m.byKind[kind]++
	switch {
	case driftUs > LateThresholdUs:
		m.late++
		if m.verbose {
			m.log.Warn("late %s f%d by %d us", kind, finger, driftUs)
		}
	case driftUs < 0:
		m.early++
	}
}

// RecordRTT учитывает время обмена PING/PONG.
func (m *Metrics) RecordRTT(rttUs uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}
	m.rtt.add(int64(rttUs))
}

// RecordSyncProbe учитывает одну оценку смещения.
func (m *Metrics) RecordSyncProbe(offsetUs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}
	m.probes.add(offsetUs)
}

// FinalizeSyncProbing фиксирует итоговое смещение серии проб.
func (m *Metrics) FinalizeSyncProbing(offsetUs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}
	m.finalOffset = offsetUs
	m.finalized = true
	if m.verbose {
		m.log.Info("sync probing done: offset %d us, spread %d us (%s)",
			offsetUs, m.probes.jitter(), m.confidenceLocked())
	}
}

func (m *Metrics) confidenceLocked() Confidence {
	if m.probes.n == 0 {
		return ConfidenceUnknown
	}
	spread := m.probes.jitter()
	switch {
	case spread < highSpreadUs:
		return ConfidenceHigh
	case spread < mediumSpreadUs:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Snapshot — срез статистики для API статуса.
type Snapshot struct {
	Enabled bool `json:"enabled"`

	Events        uint64  `json:"events"`
	Activations   uint64  `json:"activations"`
	Late          uint64  `json:"late"`
	Early         uint64  `json:"early"`
	AvgDriftUs    float64 `json:"avg_drift_us"`
	MinDriftUs    int64   `json:"min_drift_us"`
	MaxDriftUs    int64   `json:"max_drift_us"`
	DriftJitterUs int64   `json:"drift_jitter_us"`

	RTTSamples uint64  `json:"rtt_samples"`
	AvgRTTUs   float64 `json:"avg_rtt_us"`
	MinRTTUs   int64   `json:"min_rtt_us"`
	MaxRTTUs   int64   `json:"max_rtt_us"`

	Probes        uint64 `json:"probes"`
	ProbeSpreadUs int64  `json:"probe_spread_us"`
	FinalOffsetUs int64  `json:"final_offset_us"`
	Finalized     bool   `json:"finalized"`
	Confidence    string `json:"confidence"`
}

// Snapshot возвращает текущую статистику.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Metrics) snapshotLocked() Snapshot {
	s := Snapshot{
		Enabled:       m.enabled,
		Events:        m.drift.n,
		Activations:   m.byKind[schedule.Activate],
		Late:          m.late,
		Early:         m.early,
		AvgDriftUs:    m.drift.avg(),
		DriftJitterUs: m.drift.jitter(),
		RTTSamples:    m.rtt.n,
		AvgRTTUs:      m.rtt.avg(),
		Probes:        m.probes.n,
		ProbeSpreadUs: m.probes.jitter(),
		FinalOffsetUs: m.finalOffset,
		Finalized:     m.finalized,
		Confidence:    m.confidenceLocked().String(),
	}
	if m.drift.n > 0 {
		s.MinDriftUs, s.MaxDriftUs = m.drift.min, m.drift.max
	}
	if m.rtt.n > 0 {
		s.MinRTTUs, s.MaxRTTUs = m.rtt.min, m.rtt.max
	}
	return s
}

// Report — текстовый отчёт.
func (m *Metrics) Report() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reportLocked()
}

func (m *Metrics) reportLocked() string {
	s := m.snapshotLocked()
	var b strings.Builder
	b.WriteString("=== latency report ===\n")
	fmt.Fprintf(&b, "events: %d (activations %d), late >%dus: %d, early: %d\n",
		s.Events, s.Activations, LateThresholdUs, s.Late, s.Early)
	if s.Events > 0 {
		fmt.Fprintf(&b, "drift: avg %.1f us, min %d us, max %d us, jitter %d us\n",
			s.AvgDriftUs, s.MinDriftUs, s.MaxDriftUs, s.DriftJitterUs)
	}
	if s.RTTSamples > 0 {
		fmt.Fprintf(&b, "rtt: %d samples, avg %.1f us, min %d us, max %d us\n",
			s.RTTSamples, s.AvgRTTUs, s.MinRTTUs, s.MaxRTTUs)
	}
	if s.Probes > 0 {
		fmt.Fprintf(&b, "sync: %d probes, spread %d us", s.Probes, s.ProbeSpreadUs)
		if s.Finalized {
			fmt.Fprintf(&b, ", offset %d us", s.FinalOffsetUs)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "confidence: %s", s.Confidence)
	return b.String()
}
