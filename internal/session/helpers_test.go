package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shiwa/lockstep/internal/haptic"
	"github.com/shiwa/lockstep/internal/link"
	"github.com/shiwa/lockstep/internal/wire"
)

const waitFor = 2 * time.Second
const pollEvery = 2 * time.Millisecond

// countingActuator считает аварийные остановки.
type countingActuator struct {
	*haptic.LogSink
	stops atomic.Int32
}

func newCountingActuator() *countingActuator {
	return &countingActuator{LogSink: haptic.NewLogSink(4)}
}

func (c *countingActuator) StopAll() error {
	c.stops.Add(1)
	return c.LogSink.StopAll()
}

// recvKind читает кадры, пока не придёт сообщение нужного вида.
func recvKind(t *testing.T, l link.Link, k wire.Kind) (link.Frame, wire.Message) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	for {
		f, err := l.Recv(ctx)
		require.NoError(t, err, "waiting for %s", k)
		m, err := wire.Decode(f.Msg)
		if err == nil && m.Kind == k {
			return f, m
		}
	}
}

func send(t *testing.T, l link.Link, msg string) {
	t.Helper()
	require.NoError(t, l.Send(context.Background(), msg))
}

// runInBackground запускает run и останавливает его при завершении теста.
func runInBackground(t *testing.T, run func(context.Context) error, links ...link.Link) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(waitFor):
			t.Error("run did not stop")
		}
		for _, l := range links {
			_ = l.Close()
		}
	})
}
