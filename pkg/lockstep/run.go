package lockstep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shiwa/lockstep/internal/haptic"
	"github.com/shiwa/lockstep/internal/logger"
	"github.com/shiwa/lockstep/internal/session"
	"github.com/shiwa/lockstep/internal/wire"
	"github.com/shiwa/lockstep/pkg/config"
)

// Run запускает задачу моторов, сессию, демонстрационный цикл (PRIMARY) и
// API состояния до отмены ctx или первой ошибки. Перед возвратом выполняет
// SafetyShutdown. Ресурсы не закрывает: это делает Close.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg    sync.WaitGroup
		once  sync.Once
		first error
	)
	start := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				once.Do(func() { first = fmt.Errorf("%s: %w", name, err) })
			}
			// любая остановка компонента останавливает узел
			cancel()
		}()
	}

	start("motor", n.Motor.Run)
	if n.Primary != nil {
		start("session", n.Primary.Run)
		if n.cfg.Cycle.Autostart {
			if err := n.Primary.SendCommand(ctx, wire.KindStartSession); err != nil {
				n.log.Warn("autostart: %v", err)
			}
		}
		start("cycle", func(ctx context.Context) error {
			return n.sequence().Run(ctx, n.Primary)
		})
	} else {
		start("session", n.Secondary.Run)
	}
	if n.cfg.Status.Listen != "" {
		start("status", func(ctx context.Context) error {
			return n.Status.Run(ctx, n.cfg.Status.Listen)
		})
	}
	n.log.Info("%s on %s", n.role, n.Link.Name())

	<-ctx.Done()
	wg.Wait()
	n.SafetyShutdown()
	if n.Metrics.Enabled() {
		logger.Info("%s", n.Metrics.Report())
	}
	return first
}

func (n *Node) sequence() session.Sequence {
	return session.Sequence{
		OnMs:      n.cfg.Cycle.OnMs,
		OffMs:     n.cfg.Cycle.OffMs,
		Amplitude: n.cfg.Cycle.Amplitude,
		Fingers:   n.cfg.Haptic.Fingers,
		Period:    n.cfg.Cycle.Period,
	}
}

// RunDaemon собирает узел по cfg и работает до отмены ctx.
func RunDaemon(ctx context.Context, cfg *config.Config, quiet bool) error {
	logger.SetQuiet(quiet)
	n, err := Build(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			logger.Warn("close: %v", err)
		}
	}()
	return n.Run(ctx)
}

// SelfTest по очереди включает каждый палец на pulse с паузой gap.
// Задача моторов в это время не должна работать с act.
func SelfTest(ctx context.Context, act haptic.Actuator, hz uint16, amplitude uint8, pulse, gap time.Duration) error {
	for f := 0; f < act.Fingers(); f++ {
		finger := uint8(f)
		if err := act.SetFrequency(finger, hz); err != nil {
			return fmt.Errorf("finger %d: %w", f, err)
		}
		if err := act.Activate(finger, amplitude); err != nil {
			return fmt.Errorf("finger %d: %w", f, err)
		}
		logger.Info("selftest: finger %d on", f)
		err := sleep(ctx, pulse)
		if derr := act.Deactivate(finger); derr != nil {
			return fmt.Errorf("finger %d: %w", f, derr)
		}
		if err != nil {
			return err
		}
		if err := sleep(ctx, gap); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
