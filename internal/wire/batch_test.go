package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_DecodeDueTime(t *testing.T) {
	msg, err := Decode("MC:1|0|5000000|0|2000|100|1|10,2,80")
	require.NoError(t, err)
	require.Equal(t, KindBatch, msg.Kind)
	b := msg.Batch
	require.Len(t, b.Events, 1)

	ev := b.Events[0]
	assert.Equal(t, uint8(2), ev.Finger)
	assert.Equal(t, uint8(80), ev.Amplitude)
	due := uint64(b.LocalBaseUs()) + uint64(ev.DeltaMs)*1000
	assert.Equal(t, uint64(5_012_000), due)
}

func TestBatch_EncodeFormat(t *testing.T) {
	line, err := EncodeBatch(Batch{
		Seq:        5,
		BaseUs:     uint64(2)<<32 | 7,
		OffsetUs:   -2000,
		DurationMs: 100,
		Events: []BatchEvent{
			{DeltaMs: 0, Finger: 0, Amplitude: 80},
			{DeltaMs: 167, Finger: 3, Amplitude: 60, FreqOffset: 50},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "MC:5|2|7|-1|4294965296|100|2|0,0,80|167,3,60,50", line)

	msg, err := Decode(line)
	require.NoError(t, err)
	assert.Equal(t, int64(-2000), msg.Batch.OffsetUs)
	assert.Equal(t, uint64(2)<<32|7, msg.Batch.BaseUs)
	assert.Equal(t, uint8(50), msg.Batch.Events[1].FreqOffset)
	assert.Equal(t, uint8(0), msg.Batch.Events[0].FreqOffset)
}

func TestBatch_EncodeLimits(t *testing.T) {
	_, err := EncodeBatch(Batch{Seq: 1})
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, err = EncodeBatch(Batch{Seq: 1, Events: make([]BatchEvent, MaxBatchEvents+1)})
	assert.ErrorIs(t, err, ErrTooManyEvents)
}

func TestBatch_CountTruncatedToParsedEvents(t *testing.T) {
	msg, err := Decode("MC:2|0|1000|0|0|50|4|0,0,80|10,1,80")
	require.NoError(t, err)
	assert.Len(t, msg.Batch.Events, 2)
}

func TestBatch_StopsAtCorruptTuple(t *testing.T) {
	msg, err := Decode("MC:2|0|1000|0|0|50|3|0,0,80|zz|20,2,80")
	require.NoError(t, err)
	assert.Len(t, msg.Batch.Events, 1)
}

func TestBatch_CountCappedAtMax(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("MC:3|0|1000|0|0|50|20")
	for i := 0; i < 20; i++ {
		sb.WriteString("|0,0,10")
	}
	msg, err := Decode(sb.String())
	require.NoError(t, err)
	assert.Len(t, msg.Batch.Events, MaxBatchEvents)
}

func TestBatch_ZeroEventsIsError(t *testing.T) {
	for _, line := range []string{
		"MC:4|0|1000|0|0|50|0",
		"MC:4|0|1000|0|0|50|2|bad",
	} {
		msg, err := Decode(line)
		assert.ErrorIs(t, err, ErrEmptyBatch, line)
		// заголовок сохраняется, чтобы получатель мог подтвердить пакет
		assert.Equal(t, KindBatch, msg.Kind, line)
		assert.Equal(t, uint32(4), msg.Seq, line)
		assert.Equal(t, uint64(1000), msg.Batch.BaseUs, line)
		assert.Empty(t, msg.Batch.Events, line)
	}
}

func TestBatch_BadHeaderDropsMessage(t *testing.T) {
	msg, err := Decode("MC:x|0|1000|0|0|50|1|0,0,80")
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Zero(t, msg.Kind)
}
