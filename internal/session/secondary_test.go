package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiwa/lockstep/internal/clock"
	"github.com/shiwa/lockstep/internal/link"
	"github.com/shiwa/lockstep/internal/metrics"
	"github.com/shiwa/lockstep/internal/schedule"
	"github.com/shiwa/lockstep/internal/staging"
	"github.com/shiwa/lockstep/internal/wire"
)

type secondaryRig struct {
	s    *Secondary
	peer link.Link
	q    *schedule.Queue
	act  *countingActuator
	clk  *clock.Fake
}

func newSecondaryRig(t *testing.T, cfg Config) *secondaryRig {
	t.Helper()
	clk := clock.NewFake(5_000_000)
	peer, own := link.Pipe(clock.NewFake(0), clk)
	q := schedule.New(schedule.DefaultCapacity, nil)
	act := newCountingActuator()
	s, err := NewSecondary(Deps{
		Link:     own,
		Clock:    clk,
		Queue:    q,
		Actuator: act,
		Metrics:  metrics.New(),
	}, staging.New(staging.DefaultCapacity), cfg)
	require.NoError(t, err)
	return &secondaryRig{s: s, peer: peer, q: q, act: act, clk: clk}
}

func (r *secondaryRig) start(t *testing.T) {
	t.Helper()
	runInBackground(t, r.s.Run, r.peer)
	recvKind(t, r.peer, wire.KindIdentify)
}

func TestNewSecondary_RequiresDeps(t *testing.T) {
	_, err := NewSecondary(Deps{}, staging.New(4), Config{})
	assert.Error(t, err)

	clk := clock.NewFake(0)
	_, own := link.Pipe(clk, clk)
	defer own.Close()
	_, err = NewSecondary(Deps{Link: own, Clock: clk, Queue: schedule.New(0, nil),
		Actuator: newCountingActuator(), Metrics: metrics.New()}, nil, Config{})
	assert.Error(t, err)
}

func TestSecondary_IdentifiesOnStart(t *testing.T) {
	r := newSecondaryRig(t, Config{})
	runInBackground(t, r.s.Run, r.peer)
	_, m := recvKind(t, r.peer, wire.KindIdentify)
	assert.Equal(t, wire.RoleSecondary, m.Role)
}

func TestSecondary_PingReturnsPongWithReceiveTimestamp(t *testing.T) {
	r := newSecondaryRig(t, Config{})
	r.start(t)

	send(t, r.peer, "PING:7|123")
	_, m := recvKind(t, r.peer, wire.KindPong)
	assert.Equal(t, uint32(7), m.Seq)
	assert.Equal(t, uint64(5_000_000), m.T2)
	assert.Equal(t, uint64(5_000_000), m.T3)

	require.Eventually(t, r.s.Connected, waitFor, pollEvery)
	assert.NotEmpty(t, r.s.SessionID())
}

func TestSecondary_BatchDueTime(t *testing.T) {
	r := newSecondaryRig(t, Config{})
	r.start(t)

	msg, err := wire.EncodeBatch(wire.Batch{
		Seq:        1,
		BaseUs:     5_000_000,
		OffsetUs:   2000,
		DurationMs: 100,
		Events:     []wire.BatchEvent{{DeltaMs: 10, Finger: 0, Amplitude: 80}},
	})
	require.NoError(t, err)
	send(t, r.peer, msg)

	_, ack := recvKind(t, r.peer, wire.KindBatchAck)
	assert.Equal(t, uint32(1), ack.Seq)

	require.Eventually(t, func() bool { return r.q.Len() == 2 }, waitFor, pollEvery)
	ev, ok := r.q.Peek()
	require.True(t, ok)
	assert.Equal(t, schedule.Event{
		DueUs:       5_012_000,
		Finger:      0,
		Amplitude:   80,
		FrequencyHz: DefaultFrequencyHz,
		Kind:        schedule.Activate,
	}, ev)
}

func TestSecondary_NewBatchReplacesStaleEvents(t *testing.T) {
	r := newSecondaryRig(t, Config{})
	require.NoError(t, r.q.Enqueue(9_000_000, 3, 50, 10, 250))
	r.start(t)

	send(t, r.peer, "MC:2|0|5000000|0|0|50|2|0,1,60|100,2,70,30")
	recvKind(t, r.peer, wire.KindBatchAck)

	require.Eventually(t, func() bool { return r.q.Len() == 4 }, waitFor, pollEvery)
	var fingers []uint8
	for {
		ev, ok := r.q.Dequeue()
		if !ok {
			break
		}
		assert.NotEqual(t, uint64(9_000_000), ev.DueUs, "старое событие должно быть удалено")
		if ev.Kind == schedule.Activate {
			fingers = append(fingers, ev.Finger)
			if ev.Finger == 2 {
				assert.Equal(t, uint16(180), ev.FrequencyHz)
			}
		}
	}
	assert.Equal(t, []uint8{1, 2}, fingers)
}

func TestSecondary_RejectedBatchIsStillAcked(t *testing.T) {
	r := newSecondaryRig(t, Config{})
	r.start(t)

	// смещение 40 с
	send(t, r.peer, "MC:3|0|5000000|0|40000000|50|1|0,0,60")
	_, ack := recvKind(t, r.peer, wire.KindBatchAck)
	assert.Equal(t, uint32(3), ack.Seq)
	assert.Equal(t, uint64(1), r.s.Rejected())
	assert.Zero(t, r.q.Len())
}

func TestSecondary_Translate(t *testing.T) {
	r := newSecondaryRig(t, Config{})
	const now = 5_000_000
	ev := []wire.BatchEvent{{DeltaMs: 0, Finger: 0, Amplitude: 50}}

	tests := []struct {
		name   string
		batch  wire.Batch
		reject bool
		want   int
	}{
		{"ok", wire.Batch{BaseUs: now, Events: ev}, false, 1},
		{"negative offset ok", wire.Batch{BaseUs: now + 3_000_000, OffsetUs: -3_000_000, Events: ev}, false, 1},
		{"offset too large", wire.Batch{BaseUs: now, OffsetUs: 35_000_001, Events: ev}, true, 0},
		{"offset too negative", wire.Batch{BaseUs: now, OffsetUs: -35_000_001, Events: ev}, true, 0},
		{"base far ahead", wire.Batch{BaseUs: now + 31_000_000, Events: ev}, true, 0},
		{"base far behind", wire.Batch{BaseUs: 0, OffsetUs: -1, Events: ev}, true, 0},
		{"skips silent and unknown fingers", wire.Batch{BaseUs: now, Events: []wire.BatchEvent{
			{Finger: 0, Amplitude: 0},
			{Finger: 4, Amplitude: 50},
			{Finger: 3, Amplitude: 50, DeltaMs: 5},
		}}, false, 1},
		{"nothing playable", wire.Batch{BaseUs: now, Events: []wire.BatchEvent{{Finger: 1}}}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.s.translate(tt.batch, now)
			if tt.reject {
				assert.ErrorIs(t, err, ErrBatchRejected)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, tt.want)
			assert.True(t, got[len(got)-1].LastInBatch)
		})
	}
}

func TestSecondary_StopSessionShutsDown(t *testing.T) {
	r := newSecondaryRig(t, Config{})
	require.NoError(t, r.q.Enqueue(6_000_000, 0, 50, 10, 250))
	r.start(t)

	send(t, r.peer, "STOP_SESSION:4")
	require.Eventually(t, func() bool { return r.act.stops.Load() >= 1 }, waitFor, pollEvery)
	assert.Equal(t, StateStopped, r.s.State())
	assert.Zero(t, r.q.Len())
}

func TestSecondary_PauseDropsBatches(t *testing.T) {
	r := newSecondaryRig(t, Config{})
	r.start(t)

	send(t, r.peer, "PAUSE_SESSION:5")
	require.Eventually(t, func() bool { return r.s.State() == StatePaused }, waitFor, pollEvery)

	send(t, r.peer, "MC:6|0|5000000|0|0|50|1|0,0,60")
	recvKind(t, r.peer, wire.KindBatchAck)
	assert.Equal(t, uint64(1), r.s.Rejected())

	send(t, r.peer, "RESUME_SESSION:7")
	require.Eventually(t, func() bool { return r.s.State() == StateRunning }, waitFor, pollEvery)
}

func TestSecondary_KeepaliveTimeout(t *testing.T) {
	r := newSecondaryRig(t, Config{Tick: 5 * time.Millisecond})
	r.start(t)

	send(t, r.peer, "PING:1|1")
	recvKind(t, r.peer, wire.KindPong)
	require.Eventually(t, r.s.Connected, waitFor, pollEvery)

	r.clk.Advance(7 * time.Second)
	require.Eventually(t, func() bool { return !r.s.Connected() }, waitFor, pollEvery)
	require.Eventually(t, func() bool { return r.act.stops.Load() >= 1 }, waitFor, pollEvery)
}

func TestSecondary_ConnectPulse(t *testing.T) {
	r := newSecondaryRig(t, Config{ConnectPulse: true})
	r.start(t)

	send(t, r.peer, "PING:1|1")
	require.Eventually(t, func() bool { return r.q.Len() == 2 }, waitFor, pollEvery)
	ev, _ := r.q.Peek()
	assert.Equal(t, uint8(ConnectPulseFinger), ev.Finger)
	assert.Equal(t, uint8(ConnectPulseAmplitude), ev.Amplitude)
	assert.Equal(t, uint64(5_000_000), ev.DueUs)
}

func TestSecondary_MalformedFramesAreCounted(t *testing.T) {
	r := newSecondaryRig(t, Config{})
	r.start(t)

	send(t, r.peer, "garbage")
	send(t, r.peer, "PING:1|1")
	recvKind(t, r.peer, wire.KindPong)
	assert.Equal(t, uint64(1), r.s.Status().Malformed)
}

func TestSecondary_EmptyBatchIsAckedAndRejected(t *testing.T) {
	r := newSecondaryRig(t, Config{})
	r.start(t)

	// все кортежи испорчены
	send(t, r.peer, "MC:7|0|5000000|0|2000|100|1|x,y,z")
	_, ack := recvKind(t, r.peer, wire.KindBatchAck)
	assert.Equal(t, uint32(7), ack.Seq)

	// нулевое число событий
	send(t, r.peer, "MC:8|0|5000000|0|0|50|0")
	_, ack = recvKind(t, r.peer, wire.KindBatchAck)
	assert.Equal(t, uint32(8), ack.Seq)

	assert.Equal(t, uint64(2), r.s.Rejected())
	assert.Equal(t, uint64(2), r.s.Status().Malformed)
	assert.Zero(t, r.q.Len())
}

func TestSecondary_DrainKeepsOnlyLatestStagedBatch(t *testing.T) {
	r := newSecondaryRig(t, Config{})
	require.NoError(t, r.q.Enqueue(9_000_000, 3, 50, 10, 250))

	first := wire.Batch{Seq: 1, BaseUs: 5_000_000, DurationMs: 50,
		Events: []wire.BatchEvent{{DeltaMs: 100, Finger: 0, Amplitude: 60}}}
	second := wire.Batch{Seq: 2, BaseUs: 5_000_000, DurationMs: 50,
		Events: []wire.BatchEvent{{DeltaMs: 600, Finger: 1, Amplitude: 70}}}
	require.NoError(t, r.s.acceptBatch(first))
	require.NoError(t, r.s.acceptBatch(second))

	r.s.drain()
	require.Equal(t, 2, r.q.Len())
	ev, ok := r.q.Peek()
	require.True(t, ok)
	assert.Equal(t, uint8(1), ev.Finger)
	assert.Equal(t, uint64(5_600_000), ev.DueUs)
	assert.False(t, r.s.buf.BatchPending())
}

func TestSecondary_DrainCountsDroppedEvents(t *testing.T) {
	r := newSecondaryRig(t, Config{})

	// 9 пар не помещаются в очередь на 16 слотов
	events := make([]wire.BatchEvent, 9)
	for i := range events {
		events[i] = wire.BatchEvent{DeltaMs: uint16(i * 10), Finger: uint8(i % MaxActuators), Amplitude: 40}
	}
	require.NoError(t, r.s.acceptBatch(wire.Batch{Seq: 1, BaseUs: 5_000_000, DurationMs: 5, Events: events}))

	r.s.drain()
	assert.Equal(t, schedule.DefaultCapacity, r.q.Len())
	assert.Equal(t, uint64(1), r.s.Status().Dropped)
}
