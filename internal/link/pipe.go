package link

import (
	"net"
	"strings"

	"github.com/shiwa/lockstep/internal/clock"
)

// Pipe возвращает пару связанных Link в памяти (net.Pipe). Каждая сторона
// метит кадры своими часами.
func Pipe(clkA, clkB clock.Clock) (Link, Link) {
	a, b := net.Pipe()
	return newStreamLink("pipe:a", a, clkA), newStreamLink("pipe:b", b, clkB)
}

func trimFrame(b []byte) string {
	return strings.TrimSpace(string(b))
}
