package rt

import (
	"testing"
)

func TestEnterWithoutRealtime(t *testing.T) {
	leave := Enter(Options{})
	leave()
}

func TestGranularityNs(t *testing.T) {
	g := GranularityNs()
	if g < 0 {
		t.Errorf("гранулярность не может быть отрицательной: %d", g)
	}
}
