// Package stats — робастная статистика и фильтры для оценки смещения часов:
// медиана, MAD (median absolute deviation), отбраковка выбросов и EMA.
package stats

import (
	"math"
	"slices"
)

// Median возвращает медиану выборки (среднее двух центральных при чётном размере).
// Исходный срез не изменяется. Для пустой выборки возвращает 0, false.
func Median(xs []int64) (int64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	return medianSorted(sorted), true
}

func medianSorted(sorted []int64) int64 {
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// MAD возвращает медиану абсолютных отклонений от center.
func MAD(xs []int64, center int64) int64 {
	if len(xs) == 0 {
		return 0
	}
	dev := make([]int64, len(xs))
	for i, x := range xs {
		dev[i] = absInt64(x - center)
	}
	slices.Sort(dev)
	return medianSorted(dev)
}

// Filter — параметры отбраковки выбросов: порог = max(Multiplier×MAD, Floor).
type Filter struct {
	Multiplier int64
	Floor      int64
}

// Threshold возвращает порог отклонения для данного MAD.
func (f Filter) Threshold(mad int64) int64 {
	t := f.Multiplier * mad
	if t < f.Floor {
		t = f.Floor
	}
	return t
}

// RobustMedian — медиана после отбраковки выбросов:
// предварительная медиана → MAD → отбрасываем |x−median| > порог → медиана выживших.
// Возвращает итоговую медиану и число выживших образцов.
func (f Filter) RobustMedian(xs []int64) (median int64, kept int, ok bool) {
	pre, ok := Median(xs)
	if !ok {
		return 0, 0, false
	}
	threshold := f.Threshold(MAD(xs, pre))
	survivors := make([]int64, 0, len(xs))
	for _, x := range xs {
		if absInt64(x-pre) <= threshold {
			survivors = append(survivors, x)
		}
	}
	// Выжившие есть всегда: хотя бы один образец не дальше MAD от медианы.
	m, _ := Median(survivors)
	return m, len(survivors), true
}

// IntEMA — целочисленная EMA: next = (Num·x + (Den−Num)·prev) / Den.
type IntEMA struct {
	Num, Den int64
}

// Next возвращает новое значение фильтра.
func (e IntEMA) Next(prev, x int64) int64 {
	return (e.Num*x + (e.Den-e.Num)*prev) / e.Den
}

// EMA — вещественная экспоненциальная скользящая средняя.
type EMA struct {
	Alpha float64
}

// Next возвращает alpha·x + (1−alpha)·prev.
func (e EMA) Next(prev, x float64) float64 {
	return e.Alpha*x + (1-e.Alpha)*prev
}

// Clamp ограничивает v диапазоном [-limit, limit].
func Clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
