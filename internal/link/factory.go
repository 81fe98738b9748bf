package link

import (
	"fmt"

	"github.com/shiwa/lockstep/internal/clock"
)

// Config — параметры транспорта.
type Config struct {
	Type   string // serial | udp
	Port   string
	Baud   int
	Listen string
	Peer   string
}

// Open создаёт Link по конфигу.
func Open(c Config, clk clock.Clock) (Link, error) {
	switch c.Type {
	case "", "serial":
		dev := c.Port
		if dev == "" {
			dev = "/dev/ttyUSB0"
		}
		return OpenSerial(dev, c.Baud, clk)
	case "udp":
		listen := c.Listen
		if listen == "" {
			listen = ":9750"
		}
		u, err := OpenUDP(listen, c.Peer, clk)
		if err != nil {
			return nil, err
		}
		return u, nil
	default:
		return nil, fmt.Errorf("unknown link type %q (serial, udp)", c.Type)
	}
}
