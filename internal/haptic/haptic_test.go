package haptic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

var (
	_ Actuator = (*DRV2605)(nil)
	_ Actuator = (*LogSink)(nil)
)

func TestAmplitudeToRTP(t *testing.T) {
	assert.Equal(t, uint8(0), AmplitudeToRTP(0))
	assert.Equal(t, uint8(63), AmplitudeToRTP(50))
	assert.Equal(t, uint8(127), AmplitudeToRTP(100))
	assert.Equal(t, uint8(127), AmplitudeToRTP(200))
}

func TestLRAPeriod(t *testing.T) {
	assert.Equal(t, uint8(40), LRAPeriod(250))
	assert.Equal(t, uint8(67), LRAPeriod(150))
	assert.Equal(t, LRAPeriod(150), LRAPeriod(10), "ниже диапазона")
	assert.Equal(t, LRAPeriod(250), LRAPeriod(1000), "выше диапазона")
}

func newRecorded(t *testing.T, fingers int) (*DRV2605, *i2ctest.Record) {
	t.Helper()
	rec := &i2ctest.Record{}
	d, err := NewDRV2605(rec, DRV2605Config{Fingers: fingers})
	require.NoError(t, err)
	rec.Ops = nil
	return d, rec
}

func TestDRV2605_ConfiguresEveryFinger(t *testing.T) {
	rec := &i2ctest.Record{}
	_, err := NewDRV2605(rec, DRV2605Config{Fingers: 4})
	require.NoError(t, err)

	var muxWrites [][]byte
	for _, op := range rec.Ops {
		if op.Addr == DefaultMuxAddr {
			muxWrites = append(muxWrites, op.W)
		}
	}
	assert.Equal(t, [][]byte{{0x01}, {0x02}, {0x04}, {0x08}}, muxWrites)
	last := rec.Ops[len(rec.Ops)-1]
	assert.Equal(t, uint16(DefaultDriverAddr), last.Addr)
	assert.Equal(t, []byte{regRTP, 0}, last.W)
}

func TestDRV2605_ActivateSelectsChannelOnce(t *testing.T) {
	d, rec := newRecorded(t, 4)

	require.NoError(t, d.Activate(2, 100))
	require.NoError(t, d.Deactivate(2))

	want := []i2ctest.IO{
		{Addr: DefaultMuxAddr, W: []byte{0x04}},
		{Addr: DefaultDriverAddr, W: []byte{regRTP, 127}},
		{Addr: DefaultDriverAddr, W: []byte{regRTP, 0}},
	}
	assert.Equal(t, want, rec.Ops)
	assert.False(t, d.Active(2))
}

func TestDRV2605_PreSelectedFastPath(t *testing.T) {
	d, rec := newRecorded(t, 4)

	require.NoError(t, d.PreSelect(1, 150))
	assert.Equal(t, 1, d.PreSelected())
	rec.Ops = nil

	require.NoError(t, d.ActivatePreSelected(1, 50))
	assert.Equal(t, []i2ctest.IO{{Addr: DefaultDriverAddr, W: []byte{regRTP, 63}}}, rec.Ops)
	assert.Equal(t, -1, d.PreSelected())
	assert.True(t, d.Active(1))
}

func TestDRV2605_ChannelChangeDropsPreselection(t *testing.T) {
	d, _ := newRecorded(t, 4)
	require.NoError(t, d.PreSelect(1, 200))
	require.NoError(t, d.Activate(3, 40))
	assert.Equal(t, -1, d.PreSelected())
}

func TestDRV2605_StopAll(t *testing.T) {
	d, rec := newRecorded(t, 2)
	require.NoError(t, d.Activate(0, 80))
	require.NoError(t, d.Activate(1, 80))
	rec.Ops = nil

	require.NoError(t, d.StopAll())
	assert.False(t, d.Active(0))
	assert.False(t, d.Active(1))
	assert.Equal(t, []byte{0}, rec.Ops[len(rec.Ops)-1].W, "каналы мультиплексора закрыты")
}

func TestDRV2605_RejectsBadFinger(t *testing.T) {
	d, _ := newRecorded(t, 4)
	assert.Error(t, d.Activate(4, 50))
	assert.Error(t, d.SetFrequency(7, 200))
}

type failingBus struct{ i2ctest.Record }

func (f *failingBus) Tx(addr uint16, w, r []byte) error { return errors.New("nack") }

func TestDRV2605_NoDrivers(t *testing.T) {
	_, err := NewDRV2605(&failingBus{}, DRV2605Config{Fingers: 4})
	assert.ErrorIs(t, err, ErrNoDrivers)

	_, err = NewDRV2605(&i2ctest.Record{}, DRV2605Config{Fingers: 0})
	assert.Error(t, err)
}

func TestLogSink(t *testing.T) {
	s := NewLogSink(4)
	require.NoError(t, s.SetFrequency(0, 200))
	require.NoError(t, s.Activate(0, 60))
	assert.True(t, s.Active(0))

	require.NoError(t, s.PreSelect(2, 180))
	assert.Equal(t, 2, s.PreSelected())
	require.NoError(t, s.ActivatePreSelected(2, 60))
	assert.Equal(t, -1, s.PreSelected())

	require.NoError(t, s.StopAll())
	assert.False(t, s.Active(0))
	assert.False(t, s.Active(2))
	assert.Equal(t, uint64(2), s.Activations())
	assert.Error(t, s.Deactivate(9))
}
