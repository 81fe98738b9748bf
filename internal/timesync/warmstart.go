package timesync

import (
	"time"

	"github.com/shiwa/lockstep/internal/stats"
)

// WarmCache — снимок смещения и дрейфа на момент разрыва соединения.
type WarmCache struct {
	OffsetUs     int64
	DriftUsPerMs float64
	// CachedAtMs — монотонное время снимка (Clock.Millis).
	CachedAtMs uint64
}

// WarmStore — долговременное хранилище кэша тёплого старта (переживает перезапуск).
// Age — сколько времени прошло с сохранения по настенным часам.
type WarmStore interface {
	SaveWarm(c WarmCache) error
	LoadWarm() (c WarmCache, age time.Duration, ok bool, err error)
}

type probation struct {
	seedOffset int64
	seedMs     uint64
	drift      float64
	confirmed  []int64
}

func (p *probation) projection(nowMs uint64) int64 {
	if nowMs <= p.seedMs {
		return p.seedOffset
	}
	return p.seedOffset + int64(p.drift*float64(nowMs-p.seedMs))
}

// SaveWarmCache явно сохраняет снимок текущего валидного смещения.
func (e *Estimator) SaveWarmCache() bool {
	e.mu.Lock()
	if !e.valid {
		e.mu.Unlock()
		return false
	}
	e.saveWarmLocked()
	cache := e.warm
	e.mu.Unlock()

	e.persist(cache)
	return true
}

func (e *Estimator) saveWarmLocked() {
	now := e.clk.Millis()
	e.warm = &WarmCache{
		OffsetUs:     e.correctedLocked(now),
		DriftUsPerMs: e.drift,
		CachedAtMs:   now,
	}
}

// InvalidateWarmCache удаляет кэш тёплого старта.
func (e *Estimator) InvalidateWarmCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.warm = nil
}

// WarmCacheSnapshot возвращает копию кэша, если он есть.
func (e *Estimator) WarmCacheSnapshot() (WarmCache, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.warm == nil {
		return WarmCache{}, false
	}
	return *e.warm, true
}

// RestoreWarmCache устанавливает кэш (например, прочитанный из хранилища).
func (e *Estimator) RestoreWarmCache(c WarmCache) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cc := c
	e.warm = &cc
}

// LoadWarmCache читает кэш из хранилища и переводит его возраст в монотонное время.
func (e *Estimator) LoadWarmCache() (bool, error) {
	if e.store == nil {
		return false, nil
	}
	c, age, ok, err := e.store.LoadWarm()
	if err != nil || !ok {
		return false, err
	}
	now := e.clk.Millis()
	ageMs := uint64(age / time.Millisecond)
	if ageMs > e.p.WarmStartWindowMs || ageMs > now {
		return false, nil
	}
	c.CachedAtMs = now - ageMs
	e.RestoreWarmCache(c)
	return true, nil
}

func (e *Estimator) persist(c *WarmCache) {
	if e.store == nil || c == nil {
		return
	}
	if err := e.store.SaveWarm(*c); err != nil {
		e.log.Warn("warm cache save: %v", err)
	}
}

// TryWarmStart запускает тёплый старт, если кэш не старше окна валидности:
// смещение проецируется вперёд на drift×elapsed, и оценщик переходит в режим
// проверки, где нужны WarmConfirmSamples образцов в пределах WarmToleranceUs.
func (e *Estimator) TryWarmStart() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.warm == nil {
		return false
	}
	now := e.clk.Millis()
	if now < e.warm.CachedAtMs || now-e.warm.CachedAtMs > e.p.WarmStartWindowMs {
		e.log.Info("warm cache expired, cold start")
		e.warm = nil
		return false
	}
	e.resetLocked()
	p := &probation{
		seedOffset: e.warm.OffsetUs,
		seedMs:     e.warm.CachedAtMs,
		drift:      e.warm.DriftUsPerMs,
	}
	e.probation = p
	e.drift = p.drift
	e.log.Info("warm start: projected offset=%d us, need %d confirmatory samples",
		p.projection(now), e.p.WarmConfirmSamples)
	return true
}

// InProbation сообщает, идёт ли проверка тёплого старта.
func (e *Estimator) InProbation() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.probation != nil
}

func (e *Estimator) confirmWarmLocked(offset int64) {
	p := e.probation
	now := e.clk.Millis()
	expected := p.projection(now)
	diff := offset - expected
	if diff < 0 {
		diff = -diff
	}
	if diff > e.p.WarmToleranceUs {
		e.log.Warn("warm start aborted: sample %d us diverges from projection %d us by %d us",
			offset, expected, diff)
		e.probation = nil
		e.drift = 0
		e.addSampleLocked(offset)
		return
	}
	p.confirmed = append(p.confirmed, offset)
	if len(p.confirmed) < e.p.WarmConfirmSamples {
		return
	}
	median, _ := stats.Median(p.confirmed)
	e.probation = nil
	e.valid = true
	e.offset = median
	e.drift = p.drift
	e.hasLast = true
	e.lastRaw = offset
	e.lastRawMs = now
	e.log.Info("warm start confirmed: offset=%d us after %d samples", median, len(p.confirmed))
}
