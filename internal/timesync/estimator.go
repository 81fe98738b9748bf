package timesync

import (
	"sync"

	"github.com/shiwa/lockstep/internal/clock"
	"github.com/shiwa/lockstep/internal/logger"
	"github.com/shiwa/lockstep/internal/stats"
)

// Exchange — четыре метки одного обмена PING/PONG (мкс):
// T1 отправка PING, T2 приём на SECONDARY, T3 отправка PONG, T4 приём PONG.
type Exchange struct {
	T1, T2, T3, T4 uint64
}

// RoundTripInfo — разбор времени обмена.
type RoundTripInfo struct {
	RTT        uint64 // сетевая часть: (T4−T1) − (T3−T2)
	Total      uint64 // T4−T1
	Processing uint64 // T3−T2
	// T3 < T2: ошибка часов на стороне SECONDARY, обработка принята за 0.
	NegativeProcessing bool
	// Обработка дольше MaxProcessingUs.
	ExcessiveProcessing bool
}

// ComputeOffset — смещение SECONDARY относительно PRIMARY по формуле PTP:
// ((T2−T1) + (T3−T4)) / 2, деление с усечением к нулю.
// Положительное значение — часы SECONDARY впереди.
func ComputeOffset(t1, t2, t3, t4 uint64) int64 {
	term1 := int64(t2) - int64(t1)
	term2 := int64(t3) - int64(t4)
	return (term1 + term2) / 2
}

// RoundTrip вычисляет RTT без времени обработки на SECONDARY.
func RoundTrip(ex Exchange, maxProcessingUs uint64) RoundTripInfo {
	var info RoundTripInfo
	if ex.T4 >= ex.T1 {
		info.Total = ex.T4 - ex.T1
	}
	if ex.T3 < ex.T2 {
		info.NegativeProcessing = true
	} else {
		info.Processing = ex.T3 - ex.T2
		info.ExcessiveProcessing = maxProcessingUs > 0 && info.Processing > maxProcessingUs
	}
	if info.Total > info.Processing {
		info.RTT = info.Total - info.Processing
	}
	return info
}

// Result — итог обработки одного обмена.
type Result struct {
	Offset    int64
	RoundTrip RoundTripInfo
	Accepted  bool
}

// Estimator — состояние синхронизации часов одной сессии соединения.
// Безопасен для конкурентного использования.
type Estimator struct {
	mu    sync.RWMutex
	p     Params
	clk   clock.Clock
	store WarmStore
	log   logger.Component

	ring  []int64
	idx   int
	count int

	valid  bool
	offset int64
	drift  float64 // мкс смещения на мс времени

	hasLast   bool
	lastRaw   int64
	lastRawMs uint64

	warm      *WarmCache
	probation *probation

	latency latencyState
}

// Option — опция конструктора.
type Option func(*Estimator)

// WithStore подключает хранилище кэша тёплого старта.
func WithStore(s WarmStore) Option {
	return func(e *Estimator) { e.store = s }
}

// NewEstimator создаёт оценщик с параметрами p (нулевые поля — по умолчанию).
func NewEstimator(clk clock.Clock, p Params, opts ...Option) *Estimator {
	p = p.withDefaults()
	e := &Estimator{
		p:    p,
		clk:  clk,
		log:  logger.With("sync"),
		ring: make([]int64, p.SampleCapacity),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Params возвращает действующие параметры.
func (e *Estimator) Params() Params {
	return e.p
}

// RecordRoundTrip — путь обработки PONG: смещение, RTT, образец, задержка.
func (e *Estimator) RecordRoundTrip(ex Exchange) Result {
	offset := ComputeOffset(ex.T1, ex.T2, ex.T3, ex.T4)
	info := RoundTrip(ex, e.p.MaxProcessingUs)
	if info.NegativeProcessing {
		e.log.Warn("negative processing time (T3 < T2), treating as 0")
	} else if info.ExcessiveProcessing {
		e.log.Warn("excessive processing time: %d us", info.Processing)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	accepted := e.addSampleWithQualityGateLocked(offset, info.RTT)
	e.updateLatencyLocked(info.RTT)
	return Result{Offset: offset, RoundTrip: info, Accepted: accepted}
}

// AddSampleWithQualityGate отбрасывает образец с RTT выше порога,
// иначе передаёт его в текущую фазу (холодный старт, проверка тёплого старта, EMA).
func (e *Estimator) AddSampleWithQualityGate(offset int64, rttUs uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addSampleWithQualityGateLocked(offset, rttUs)
}

func (e *Estimator) addSampleWithQualityGateLocked(offset int64, rttUs uint64) bool {
	if rttUs > e.p.RTTQualityThresholdUs {
		e.log.Debug("sample rejected: rtt=%d us > %d us", rttUs, e.p.RTTQualityThresholdUs)
		return false
	}
	switch {
	case e.probation != nil:
		e.confirmWarmLocked(offset)
	case e.valid:
		e.updateEMALocked(offset)
	default:
		e.addSampleLocked(offset)
	}
	return true
}

// AddSample добавляет образец холодного старта без проверки качества.
func (e *Estimator) AddSample(offset int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.addSampleLocked(offset)
}

func (e *Estimator) addSampleLocked(offset int64) {
	e.ring[e.idx] = offset
	e.idx = (e.idx + 1) % len(e.ring)
	if e.count < len(e.ring) {
		e.count++
	}
	if e.count < e.p.MinValidSamples {
		return
	}
	median, kept, _ := e.p.outlierFilter().RobustMedian(e.ring[:e.count])
	wasValid := e.valid
	e.offset = median
	e.valid = true
	e.hasLast = true
	e.lastRaw = median
	e.lastRawMs = e.clk.Millis()
	if !wasValid {
		e.log.Info("clock sync valid: offset=%d us (%d/%d samples kept)", median, kept, e.count)
	}
}

// UpdateEMA — сопровождение: EMA смещения и EMA дрейфа. До валидности
// образец уходит в кольцо холодного старта.
func (e *Estimator) UpdateEMA(offset int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.valid {
		e.addSampleLocked(offset)
		return
	}
	e.updateEMALocked(offset)
}

func (e *Estimator) updateEMALocked(offset int64) {
	now := e.clk.Millis()
	if e.hasLast && now > e.lastRawMs {
		elapsed := now - e.lastRawMs
		if elapsed >= e.p.MinDriftIntervalMs {
			raw := float64(offset-e.lastRaw) / float64(elapsed)
			raw = stats.Clamp(raw, e.p.MaxDriftUsPerMs)
			next := stats.EMA{Alpha: e.p.DriftAlpha}.Next(e.drift, raw)
			e.drift = stats.Clamp(next, e.p.MaxDriftUsPerMs)
		}
	}
	e.hasLast = true
	e.lastRaw = offset
	e.lastRawMs = now
	e.offset = e.p.OffsetEMA.Next(e.offset, offset)
}

// Valid сообщает, можно ли использовать смещение для планирования.
func (e *Estimator) Valid() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.valid
}

// Offset возвращает сглаженное смещение (0, если не валидно).
func (e *Estimator) Offset() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.valid {
		return 0
	}
	return e.offset
}

// Drift возвращает сглаженный дрейф в мкс/мс.
func (e *Estimator) Drift() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.drift
}

// SampleCount возвращает число образцов в кольце холодного старта.
func (e *Estimator) SampleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.count
}

// CorrectedOffset — смещение с поправкой на дрейф за время с последнего образца.
// Экстраполяция ограничена MaxExtrapolationMs.
func (e *Estimator) CorrectedOffset() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.correctedLocked(e.clk.Millis())
}

func (e *Estimator) correctedLocked(nowMs uint64) int64 {
	if !e.valid {
		return 0
	}
	if !e.hasLast || nowMs <= e.lastRawMs {
		return e.offset
	}
	elapsed := nowMs - e.lastRawMs
	if elapsed > e.p.MaxExtrapolationMs {
		elapsed = e.p.MaxExtrapolationMs
	}
	return e.offset + int64(e.drift*float64(elapsed))
}

// Reset сбрасывает состояние синхронизации (разрыв соединения). Если смещение
// было валидным, его снимок сохраняется в кэш тёплого старта; кэш переживает Reset.
func (e *Estimator) Reset() {
	e.mu.Lock()
	if e.valid {
		e.saveWarmLocked()
	}
	e.resetLocked()
	cache := e.warm
	e.mu.Unlock()

	e.persist(cache)
}

func (e *Estimator) resetLocked() {
	clear(e.ring)
	e.idx = 0
	e.count = 0
	e.valid = false
	e.offset = 0
	e.drift = 0
	e.hasLast = false
	e.lastRaw = 0
	e.lastRawMs = 0
	e.probation = nil
}

// Status — снимок состояния для логов и status API.
type Status struct {
	Valid             bool    `json:"valid"`
	Probation         bool    `json:"probation"`
	OffsetUs          int64   `json:"offset_us"`
	CorrectedOffsetUs int64   `json:"corrected_offset_us"`
	DriftUsPerMs      float64 `json:"drift_us_per_ms"`
	Samples           int     `json:"samples"`
	WarmCached        bool    `json:"warm_cached"`
	LatencyUs         uint64  `json:"latency_us"`
	LatencyVarianceUs uint64  `json:"latency_variance_us"`
	LatencySamples    int     `json:"latency_samples"`
	LastRTTUs         uint64  `json:"last_rtt_us"`
	LeadTimeUs        uint64  `json:"lead_time_us"`
}

// Snapshot возвращает согласованный снимок состояния.
func (e *Estimator) Snapshot() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Status{
		Valid:             e.valid,
		Probation:         e.probation != nil,
		OffsetUs:          e.offset,
		CorrectedOffsetUs: e.correctedLocked(e.clk.Millis()),
		DriftUsPerMs:      e.drift,
		Samples:           e.count,
		WarmCached:        e.warm != nil,
		LatencyUs:         e.latency.smoothed,
		LatencyVarianceUs: e.latency.variance,
		LatencySamples:    e.latency.count,
		LastRTTUs:         e.latency.lastRTT,
		LeadTimeUs:        e.leadTimeLocked(),
	}
}
