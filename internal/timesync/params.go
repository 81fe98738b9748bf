// Package timesync — оценка смещения и дрейфа часов между двумя узлами
// по четырём временным меткам (PTP): холодный старт с медианой/MAD,
// сопровождение EMA, экстраполяция дрейфа, тёплый старт и адаптивное
// время упреждения для пакета событий.
//
// Формула смещения предполагает симметричную задержку канала;
// асимметрия не обнаруживается и не компенсируется.
package timesync

import "github.com/shiwa/lockstep/internal/stats"

// Params — настраиваемые константы оценщика. Значения по умолчанию — DefaultParams.
type Params struct {
	// Кольцо образцов смещения для холодного старта.
	SampleCapacity  int
	MinValidSamples int

	// Образец с RTT выше порога отбрасывается (ретрансляция, асимметрия).
	RTTQualityThresholdUs uint64
	// Время обработки на стороне SECONDARY выше этого — предупреждение в лог.
	MaxProcessingUs uint64

	// Отбраковка выбросов: порог = max(MADMultiplier×MAD, OutlierFloorUs).
	MADMultiplier  int64
	OutlierFloorUs int64

	// EMA смещения (целочисленная, α = Num/Den) и EMA дрейфа (α).
	OffsetEMA          stats.IntEMA
	DriftAlpha         float64
	MinDriftIntervalMs uint64
	// Огибающая дрейфа кварца, мкс/мс (0.1 = 100 ppm).
	MaxDriftUsPerMs float64
	// Предел экстраполяции дрейфа без новых образцов.
	MaxExtrapolationMs uint64

	// Тёплый старт.
	WarmStartWindowMs  uint64
	WarmConfirmSamples int
	WarmToleranceUs    int64

	// Время упреждения пакета.
	DefaultLeadTimeUs uint64
	MinLatencySamples int
	MinLeadTimeUs     uint64
	MaxLeadTimeUs     uint64
	LeadOverheadUs    uint64
	LatencyEMA        stats.IntEMA
}

// Значения по умолчанию, вынесенные в именованные константы.
const (
	DefaultMADMultiplier  = 3
	DefaultOutlierFloorUs = 1000
)

// DefaultParams возвращает параметры по умолчанию.
func DefaultParams() Params {
	return Params{
		SampleCapacity:        10,
		MinValidSamples:       5,
		RTTQualityThresholdUs: 30_000,
		MaxProcessingUs:       10_000,
		MADMultiplier:         DefaultMADMultiplier,
		OutlierFloorUs:        DefaultOutlierFloorUs,
		OffsetEMA:             stats.IntEMA{Num: 1, Den: 10},
		DriftAlpha:            0.3,
		MinDriftIntervalMs:    100,
		MaxDriftUsPerMs:       0.1,
		MaxExtrapolationMs:    10_000,
		WarmStartWindowMs:     30_000,
		WarmConfirmSamples:    3,
		WarmToleranceUs:       5_000,
		DefaultLeadTimeUs:     50_000,
		MinLatencySamples:     5,
		MinLeadTimeUs:         15_000,
		MaxLeadTimeUs:         100_000,
		LeadOverheadUs:        0,
		LatencyEMA:            stats.IntEMA{Num: 2, Den: 10},
	}
}

// withDefaults подставляет значения по умолчанию для нулевых полей.
func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.SampleCapacity <= 0 {
		p.SampleCapacity = d.SampleCapacity
	}
	if p.MinValidSamples <= 0 {
		p.MinValidSamples = d.MinValidSamples
	}
	if p.MinValidSamples > p.SampleCapacity {
		p.MinValidSamples = p.SampleCapacity
	}
	if p.RTTQualityThresholdUs == 0 {
		p.RTTQualityThresholdUs = d.RTTQualityThresholdUs
	}
	if p.MaxProcessingUs == 0 {
		p.MaxProcessingUs = d.MaxProcessingUs
	}
	if p.MADMultiplier <= 0 {
		p.MADMultiplier = d.MADMultiplier
	}
	if p.OutlierFloorUs <= 0 {
		p.OutlierFloorUs = d.OutlierFloorUs
	}
	if p.OffsetEMA.Den == 0 {
		p.OffsetEMA = d.OffsetEMA
	}
	if p.DriftAlpha <= 0 {
		p.DriftAlpha = d.DriftAlpha
	}
	if p.MinDriftIntervalMs == 0 {
		p.MinDriftIntervalMs = d.MinDriftIntervalMs
	}
	if p.MaxDriftUsPerMs <= 0 {
		p.MaxDriftUsPerMs = d.MaxDriftUsPerMs
	}
	if p.MaxExtrapolationMs == 0 {
		p.MaxExtrapolationMs = d.MaxExtrapolationMs
	}
	if p.WarmStartWindowMs == 0 {
		p.WarmStartWindowMs = d.WarmStartWindowMs
	}
	if p.WarmConfirmSamples <= 0 {
		p.WarmConfirmSamples = d.WarmConfirmSamples
	}
	if p.WarmToleranceUs <= 0 {
		p.WarmToleranceUs = d.WarmToleranceUs
	}
	if p.DefaultLeadTimeUs == 0 {
		p.DefaultLeadTimeUs = d.DefaultLeadTimeUs
	}
	if p.MinLatencySamples <= 0 {
		p.MinLatencySamples = d.MinLatencySamples
	}
	if p.MinLeadTimeUs == 0 {
		p.MinLeadTimeUs = d.MinLeadTimeUs
	}
	if p.MaxLeadTimeUs == 0 {
		p.MaxLeadTimeUs = d.MaxLeadTimeUs
	}
	if p.LatencyEMA.Den == 0 {
		p.LatencyEMA = d.LatencyEMA
	}
	return p
}

func (p Params) outlierFilter() stats.Filter {
	return stats.Filter{Multiplier: p.MADMultiplier, Floor: p.OutlierFloorUs}
}
