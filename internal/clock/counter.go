package clock

import (
	"fmt"

	"github.com/aristanetworks/goarista/monotime"
)

// SystemCounter — 32-битный счётчик микросекунд на monotime (CLOCK_MONOTONIC через runtime).
type SystemCounter struct{}

// Read возвращает младшие 32 бита монотонного времени в микросекундах.
func (SystemCounter) Read() uint32 {
	return uint32(monotime.Now() / 1000)
}

// NewCounter создаёт счётчик по имени из конфига: "monotime" (по умолчанию) или "raw".
// raw — CLOCK_MONOTONIC_RAW без подстройки NTP; доступен только на Linux.
func NewCounter(kind string) (Counter, error) {
	switch kind {
	case "", "monotime":
		return SystemCounter{}, nil
	case "raw":
		return newRawCounter()
	default:
		return nil, fmt.Errorf("unknown clock source: %s", kind)
	}
}

// System возвращает часы на системном счётчике.
func System() *Monotonic {
	return NewMonotonic(SystemCounter{})
}
