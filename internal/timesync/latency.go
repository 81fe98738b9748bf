package timesync

type latencyState struct {
	smoothed uint64 // односторонняя задержка, мкс
	variance uint64
	count    int
	lastRTT  uint64
}

// UpdateLatency учитывает RTT обмена в оценке односторонней задержки.
func (e *Estimator) UpdateLatency(rttUs uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updateLatencyLocked(rttUs)
}

func (e *Estimator) updateLatencyLocked(rttUs uint64) {
	l := &e.latency
	l.lastRTT = rttUs
	oneWay := int64(rttUs / 2)
	if l.count == 0 {
		l.smoothed = uint64(oneWay)
		l.variance = 0
		l.count = 1
		return
	}
	dev := oneWay - int64(l.smoothed)
	if dev < 0 {
		dev = -dev
	}
	ema := e.p.LatencyEMA
	l.smoothed = uint64(ema.Next(int64(l.smoothed), oneWay))
	l.variance = uint64(ema.Next(int64(l.variance), dev))
	l.count++
}

// ResetLatency очищает оценку задержки.
func (e *Estimator) ResetLatency() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latency = latencyState{}
}

// AdaptiveLeadTime — на сколько вперёд ставить базу пакета:
// RTT + 3σ(RTT) + накладные, в пределах [MinLeadTimeUs, MaxLeadTimeUs].
// Пока образцов задержки мало, возвращает DefaultLeadTimeUs.
func (e *Estimator) AdaptiveLeadTime() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.leadTimeLocked()
}

func (e *Estimator) leadTimeLocked() uint64 {
	l := e.latency
	if l.count < e.p.MinLatencySamples {
		return e.p.DefaultLeadTimeUs
	}
	lead := 2*l.smoothed + 6*l.variance + e.p.LeadOverheadUs
	if lead < e.p.MinLeadTimeUs {
		return e.p.MinLeadTimeUs
	}
	if lead > e.p.MaxLeadTimeUs {
		return e.p.MaxLeadTimeUs
	}
	return lead
}
