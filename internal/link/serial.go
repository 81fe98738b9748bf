package link

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"

	"github.com/shiwa/lockstep/internal/clock"
)

// DefaultBaud — скорость радиомоста по умолчанию.
const DefaultBaud = 115200

// serialPoll — таймаут чтения порта: с ним Read возвращается и замечает Close.
const serialPoll = 100 * time.Millisecond

// OpenSerial открывает последовательный порт device как Link.
func OpenSerial(device string, baud int, clk clock.Clock) (Link, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	c := &serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: serialPoll,
	}
	p, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("serial open %s: %w", device, err)
	}
	// сбросить мусор, накопленный до открытия
	_ = p.Flush()
	return newStreamLink(fmt.Sprintf("serial:%s@%d", device, baud), &pollingPort{rwc: p}, clk), nil
}

// pollingPort превращает пустые чтения по таймауту (0, io.EOF) в повтор,
// пока порт не закрыт.
type pollingPort struct {
	rwc    io.ReadWriteCloser
	closed atomic.Bool
}

func (p *pollingPort) Read(b []byte) (int, error) {
	for {
		n, err := p.rwc.Read(b)
		if n > 0 || (err != nil && err != io.EOF) {
			return n, err
		}
		if p.closed.Load() {
			return 0, io.EOF
		}
	}
}

func (p *pollingPort) Write(b []byte) (int, error) { return p.rwc.Write(b) }

func (p *pollingPort) Close() error {
	p.closed.Store(true)
	return p.rwc.Close()
}
