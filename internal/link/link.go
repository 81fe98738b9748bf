// Package link — транспорт кадров между PRIMARY и SECONDARY: последовательный
// порт (радиомост), UDP и пара в памяти для тестов и самопроверки.
//
// Один кадр — одна строка протокола wire. Каждый принятый кадр помечается
// локальным временем прихода (T2 на SECONDARY, T4 на PRIMARY).
package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/shiwa/lockstep/internal/clock"
	"github.com/shiwa/lockstep/internal/logger"
)

// Frame — принятый кадр.
type Frame struct {
	Msg  string
	RxUs uint64
}

// Link — двусторонний канал кадров.
type Link interface {
	Name() string
	Send(ctx context.Context, msg string) error
	// Recv ждёт следующий кадр. После Close возвращает ErrClosed.
	Recv(ctx context.Context) (Frame, error)
	Close() error
}

var ErrClosed = errors.New("link closed")

// MaxFrame — предел длины кадра; MC на 12 событий заметно короче.
const MaxFrame = 512

const rxQueue = 32

// streamLink — Link поверх потока байт с разделителем '\n'.
type streamLink struct {
	name string
	rw   io.ReadWriteCloser
	clk  clock.Clock

	wmu    sync.Mutex
	frames chan Frame
	done   chan struct{}
	once   sync.Once
	err    error
	log    logger.Component
}

func newStreamLink(name string, rw io.ReadWriteCloser, clk clock.Clock) *streamLink {
	l := &streamLink{
		name:   name,
		rw:     rw,
		clk:    clk,
		frames: make(chan Frame, rxQueue),
		done:   make(chan struct{}),
		log:    logger.With("link"),
	}
	go l.readLoop()
	return l
}

func (l *streamLink) Name() string { return l.name }

func (l *streamLink) readLoop() {
	defer close(l.frames)
	sc := bufio.NewScanner(l.rw)
	sc.Buffer(make([]byte, MaxFrame), MaxFrame)
	for sc.Scan() {
		rx := l.clk.Micros()
		msg := strings.TrimSpace(sc.Text())
		if msg == "" {
			continue
		}
		select {
		case l.frames <- Frame{Msg: msg, RxUs: rx}:
		case <-l.done:
			return
		default:
			l.log.Warn("%s: rx queue full, dropped %q", l.name, msg)
		}
	}
	if err := sc.Err(); err != nil {
		select {
		case <-l.done:
		default:
			l.log.Error("%s: read: %v", l.name, err)
		}
	}
}

func (l *streamLink) Send(ctx context.Context, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	l.wmu.Lock()
	defer l.wmu.Unlock()
	if _, err := io.WriteString(l.rw, msg+"\n"); err != nil {
		return fmt.Errorf("%s: write: %w", l.name, err)
	}
	return nil
}

func (l *streamLink) Recv(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case f, ok := <-l.frames:
		if !ok {
			return Frame{}, ErrClosed
		}
		return f, nil
	}
}

func (l *streamLink) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.err = l.rw.Close()
	})
	return l.err
}
