package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/shiwa/lockstep/internal/clock"
	"github.com/shiwa/lockstep/internal/logger"
)

// UDP — Link поверх датаграмм: один кадр на датаграмму. Если peer не задан,
// ответы уходят на адрес последнего отправителя.
type UDP struct {
	conn *net.UDPConn
	clk  clock.Clock

	mu   sync.Mutex
	peer *net.UDPAddr

	frames chan Frame
	done   chan struct{}
	once   sync.Once
	log    logger.Component
}

// OpenUDP слушает listen ("host:port") и шлёт на peer ("" — на последнего отправителя).
func OpenUDP(listen, peer string, clk clock.Clock) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("udp listen addr %q: %w", listen, err)
	}
	var raddr *net.UDPAddr
	if peer != "" {
		if raddr, err = net.ResolveUDPAddr("udp", peer); err != nil {
			return nil, fmt.Errorf("udp peer addr %q: %w", peer, err)
		}
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("udp listen %s: %w", listen, err)
	}
	u := &UDP{
		conn:   conn,
		clk:    clk,
		peer:   raddr,
		frames: make(chan Frame, rxQueue),
		done:   make(chan struct{}),
		log:    logger.With("link"),
	}
	go u.readLoop()
	return u, nil
}

// LocalAddr возвращает адрес, на котором слушает сокет.
func (u *UDP) LocalAddr() net.Addr { return u.conn.LocalAddr() }

func (u *UDP) Name() string { return "udp:" + u.conn.LocalAddr().String() }

func (u *UDP) readLoop() {
	defer close(u.frames)
	buf := make([]byte, MaxFrame)
	for {
		n, from, err := u.conn.ReadFromUDP(buf)
		rx := u.clk.Micros()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			u.log.Error("udp read: %v", err)
			continue
		}
		u.mu.Lock()
		if u.peer == nil {
			u.peer = from
		}
		u.mu.Unlock()
		msg := trimFrame(buf[:n])
		if msg == "" {
			continue
		}
		select {
		case u.frames <- Frame{Msg: msg, RxUs: rx}:
		case <-u.done:
			return
		default:
			u.log.Warn("udp: rx queue full, dropped %q", msg)
		}
	}
}

func (u *UDP) Send(ctx context.Context, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u.mu.Lock()
	peer := u.peer
	u.mu.Unlock()
	if peer == nil {
		return fmt.Errorf("udp: peer unknown")
	}
	if d, ok := ctx.Deadline(); ok {
		_ = u.conn.SetWriteDeadline(d)
	} else {
		_ = u.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := u.conn.WriteToUDP([]byte(msg+"\n"), peer); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("udp write: %w", err)
	}
	return nil
}

func (u *UDP) Recv(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case f, ok := <-u.frames:
		if !ok {
			return Frame{}, ErrClosed
		}
		return f, nil
	}
}

func (u *UDP) Close() error {
	var err error
	u.once.Do(func() {
		close(u.done)
		err = u.conn.Close()
	})
	return err
}
