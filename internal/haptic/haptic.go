// Package haptic — исполнители вибромоторов: DRV2605 за мультиплексором
// TCA9548A на шине I2C (periph) и журналирующая заглушка без железа.
package haptic

import (
	"fmt"

	"github.com/shiwa/lockstep/internal/motor"
)

// Actuator — исполнитель задачи мотора плюс аварийная остановка.
type Actuator interface {
	motor.Sink
	// StopAll гасит все пальцы. Вызывается из пути аварийной остановки.
	StopAll() error
	Fingers() int
}

const (
	// MaxChannels — число каналов TCA9548A.
	MaxChannels = 8
	// MinFrequencyHz и MaxFrequencyHz — рабочий диапазон LRA.
	MinFrequencyHz = 150
	MaxFrequencyHz = 250
)

// AmplitudeToRTP переводит амплитуду в процентах (0..100) в значение RTP (0..127).
func AmplitudeToRTP(amplitude uint8) uint8 {
	if amplitude > 100 {
		amplitude = 100
	}
	return uint8(uint16(amplitude) * 127 / 100)
}

// LRAPeriod — значение регистра OL_LRA_PERIOD для частоты hz
// (шаг периода 98.46 мкс). Частота приводится к [MinFrequencyHz, MaxFrequencyHz].
func LRAPeriod(hz uint16) uint8 {
	if hz < MinFrequencyHz {
		hz = MinFrequencyHz
	}
	if hz > MaxFrequencyHz {
		hz = MaxFrequencyHz
	}
	return uint8(1e6 / (float64(hz) * 98.46))
}

func checkFinger(finger uint8, fingers int) error {
	if int(finger) >= fingers {
		return fmt.Errorf("finger %d out of range (have %d)", finger, fingers)
	}
	return nil
}
