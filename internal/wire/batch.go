package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxBatchEvents — предел событий в одном пакете (кадр должен уложиться в один пакет линка).
const MaxBatchEvents = 12

var (
	ErrEmptyBatch    = errors.New("batch has no events")
	ErrTooManyEvents = fmt.Errorf("batch exceeds %d events", MaxBatchEvents)
)

// BatchEvent — событие пакета относительно его базы.
type BatchEvent struct {
	DeltaMs   uint16
	Finger    uint8
	Amplitude uint8
	// FreqOffset — добавка к 150 Гц; 0 означает частоту по умолчанию.
	FreqOffset uint8
}

// Batch — пакет событий (макроцикл): общая база и смещение часов отправителя.
type Batch struct {
	Seq uint32
	// BaseUs — база во времени PRIMARY, мкс.
	BaseUs uint64
	// OffsetUs — смещение часов SECONDARY относительно PRIMARY, мкс.
	OffsetUs   int64
	DurationMs uint16
	Events     []BatchEvent
}

// LocalBaseUs — база во времени получателя: BaseUs + OffsetUs (знаковое сложение).
func (b Batch) LocalBaseUs() int64 {
	return int64(b.BaseUs) + b.OffsetUs
}

// EncodeBatch — "MC:seq|baseHigh|baseLow|offHigh|offLow|dur|count|d,f,a[,fo]...".
// offHigh передаётся со знаком, FreqOffset опускается, если равен 0.
func EncodeBatch(b Batch) (string, error) {
	if len(b.Events) == 0 {
		return "", ErrEmptyBatch
	}
	if len(b.Events) > MaxBatchEvents {
		return "", ErrTooManyEvents
	}
	baseHi, baseLo := split64(b.BaseUs)
	offHi := int32(b.OffsetUs >> 32)
	offLo := uint32(b.OffsetUs)

	var sb strings.Builder
	sb.Grow(64 + 16*len(b.Events))
	fmt.Fprintf(&sb, "MC:%d|%d|%d|%d|%d|%d|%d",
		b.Seq, baseHi, baseLo, offHi, offLo, b.DurationMs, len(b.Events))
	for _, e := range b.Events {
		if e.FreqOffset != 0 {
			fmt.Fprintf(&sb, "|%d,%d,%d,%d", e.DeltaMs, e.Finger, e.Amplitude, e.FreqOffset)
		} else {
			fmt.Fprintf(&sb, "|%d,%d,%d", e.DeltaMs, e.Finger, e.Amplitude)
		}
	}
	return sb.String(), nil
}

// decodeBatch разбирает параметры после "MC:". Заголовок обязан быть целым;
// count ограничивается MaxBatchEvents, а затем числом реально разобранных
// событий: разбор останавливается на первом испорченном кортеже.
func decodeBatch(params string) (Batch, error) {
	fields := strings.Split(params, "|")
	const header = 7
	if len(fields) < header {
		return Batch{}, fmt.Errorf("MC: %d header fields: %w", len(fields), ErrMalformed)
	}
	u := func(i, bits int) (uint64, error) {
		v, err := strconv.ParseUint(fields[i], 10, bits)
		if err != nil {
			return 0, fmt.Errorf("MC field %d %q: %w", i, fields[i], ErrMalformed)
		}
		return v, nil
	}
	var b Batch
	seq, err := u(0, 32)
	if err != nil {
		return Batch{}, err
	}
	baseHi, err := u(1, 32)
	if err != nil {
		return Batch{}, err
	}
	baseLo, err := u(2, 32)
	if err != nil {
		return Batch{}, err
	}
	offHi, err := strconv.ParseInt(fields[3], 10, 32)
	if err != nil {
		return Batch{}, fmt.Errorf("MC field 3 %q: %w", fields[3], ErrMalformed)
	}
	offLo, err := u(4, 32)
	if err != nil {
		return Batch{}, err
	}
	dur, err := u(5, 16)
	if err != nil {
		return Batch{}, err
	}
	count, err := u(6, 32)
	if err != nil {
		return Batch{}, err
	}
	b.Seq = uint32(seq)
	b.BaseUs = join64(uint32(baseHi), uint32(baseLo))
	b.OffsetUs = offHi<<32 | int64(offLo)
	b.DurationMs = uint16(dur)

	if count > MaxBatchEvents {
		count = MaxBatchEvents
	}
	tuples := fields[header:]
	b.Events = make([]BatchEvent, 0, count)
	for i := 0; i < int(count) && i < len(tuples); i++ {
		e, ok := parseEvent(tuples[i])
		if !ok {
			break
		}
		b.Events = append(b.Events, e)
	}
	if len(b.Events) == 0 {
		// заголовок разобран: Seq нужен получателю для MC_ACK
		return b, fmt.Errorf("MC seq %d: %w", b.Seq, ErrEmptyBatch)
	}
	return b, nil
}

func parseEvent(s string) (BatchEvent, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 && len(parts) != 4 {
		return BatchEvent{}, false
	}
	d, err1 := strconv.ParseUint(parts[0], 10, 16)
	f, err2 := strconv.ParseUint(parts[1], 10, 8)
	a, err3 := strconv.ParseUint(parts[2], 10, 8)
	if err1 != nil || err2 != nil || err3 != nil {
		return BatchEvent{}, false
	}
	e := BatchEvent{DeltaMs: uint16(d), Finger: uint8(f), Amplitude: uint8(a)}
	if len(parts) == 4 {
		fo, err := strconv.ParseUint(parts[3], 10, 8)
		if err != nil {
			return BatchEvent{}, false
		}
		e.FreqOffset = uint8(fo)
	}
	return e, true
}
