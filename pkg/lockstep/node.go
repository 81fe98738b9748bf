// Package lockstep собирает узел (PRIMARY или SECONDARY) из конфигурации и
// запускает его до отмены контекста.
package lockstep

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shiwa/lockstep/internal/clock"
	"github.com/shiwa/lockstep/internal/haptic"
	"github.com/shiwa/lockstep/internal/link"
	"github.com/shiwa/lockstep/internal/logger"
	"github.com/shiwa/lockstep/internal/metrics"
	"github.com/shiwa/lockstep/internal/motor"
	"github.com/shiwa/lockstep/internal/rt"
	"github.com/shiwa/lockstep/internal/schedule"
	"github.com/shiwa/lockstep/internal/session"
	"github.com/shiwa/lockstep/internal/staging"
	"github.com/shiwa/lockstep/internal/statusapi"
	"github.com/shiwa/lockstep/internal/store"
	"github.com/shiwa/lockstep/internal/timesync"
	"github.com/shiwa/lockstep/pkg/config"
)

// Node — собранный узел.
type Node struct {
	cfg  *config.Config
	role session.Role

	Clock     clock.Clock
	Queue     *schedule.Queue
	Motor     *motor.Task
	Actuator  haptic.Actuator
	Metrics   *metrics.Metrics
	Link      link.Link
	Primary   *session.Primary
	Secondary *session.Secondary
	Status    *statusapi.Server

	store   *store.Bolt
	closers []io.Closer
	log     logger.Component
}

// Option подменяет части узла (тесты, встраивание).
type Option func(*buildOpts)

type buildOpts struct {
	clk  clock.Clock
	lnk  link.Link
	act  haptic.Actuator
	tick time.Duration
}

// WithClock задаёт часы вместо системных.
func WithClock(c clock.Clock) Option { return func(o *buildOpts) { o.clk = c } }

// WithLink задаёт готовый канал вместо открытия по link.*.
func WithLink(l link.Link) Option { return func(o *buildOpts) { o.lnk = l } }

// WithActuator задаёт исполнителя вместо haptic.*.
func WithActuator(a haptic.Actuator) Option { return func(o *buildOpts) { o.act = a } }

// WithTick меняет период обычной задачи сессии.
func WithTick(d time.Duration) Option { return func(o *buildOpts) { o.tick = d } }

// Build собирает узел. При ошибке уже открытые ресурсы закрываются.
func Build(cfg *config.Config, opts ...Option) (n *Node, err error) {
	if cfg == nil {
		return nil, errors.New("lockstep: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	role, err := session.ParseRole(cfg.Role)
	if err != nil {
		return nil, err
	}
	var o buildOpts
	for _, opt := range opts {
		opt(&o)
	}

	n = &Node{cfg: cfg, role: role, log: logger.With("node")}
	defer func() {
		if err != nil {
			n.closeAll()
			n = nil
		}
	}()

	n.Clock = o.clk
	if n.Clock == nil {
		n.Clock = clock.System()
	}

	n.Actuator = o.act
	if n.Actuator == nil {
		act, closer, err := OpenActuator(cfg.Haptic)
		if err != nil {
			return n, err
		}
		n.Actuator = act
		n.addCloser(closer)
	}

	n.Metrics = metrics.New()
	if cfg.Metrics.Enabled {
		n.Metrics.Enable(cfg.Metrics.Verbose)
	}

	n.Queue = schedule.New(cfg.Motor.QueueCapacity, nil)
	n.Motor = motor.New(n.Queue, n.Actuator, n.Clock, motorOptions(cfg.Motor, n.Metrics)...)
	n.Queue.SetNotifier(n.Motor)

	n.Link = o.lnk
	if n.Link == nil {
		l, err := link.Open(link.Config{
			Type:   cfg.Link.Type,
			Port:   cfg.Link.Port,
			Baud:   cfg.Link.Baud,
			Listen: cfg.Link.Listen,
			Peer:   cfg.Link.Peer,
		}, n.Clock)
		if err != nil {
			return n, fmt.Errorf("open link: %w", err)
		}
		n.Link = l
	}
	n.addCloser(n.Link)

	deps := session.Deps{
		Link:     n.Link,
		Clock:    n.Clock,
		Queue:    n.Queue,
		Actuator: n.Actuator,
		Metrics:  n.Metrics,
	}
	scfg := session.Config{
		PingInterval:       cfg.Sync.PingInterval,
		KeepaliveTimeout:   cfg.Sync.KeepaliveTimeout,
		Tick:               o.tick,
		DefaultFrequencyHz: cfg.Haptic.DefaultFrequencyHz,
		ConnectPulse:       cfg.Haptic.ConnectPulse,
	}

	var node statusapi.Node
	switch role {
	case session.RolePrimary:
		est, err := n.estimator(cfg)
		if err != nil {
			return n, err
		}
		n.Primary, err = session.NewPrimary(deps, est, scfg)
		if err != nil {
			return n, err
		}
		node = n.Primary
	default:
		n.Secondary, err = session.NewSecondary(deps, staging.New(cfg.Motor.StagingCapacity), scfg)
		if err != nil {
			return n, err
		}
		node = n.Secondary
	}

	n.Status, err = statusapi.New(node, n.Metrics, statusapi.WithMotor(n.Motor))
	if err != nil {
		return n, err
	}
	return n, nil
}

// estimator создаёт оценщик и подключает файл кэша тёплого старта.
func (n *Node) estimator(cfg *config.Config) (*timesync.Estimator, error) {
	var opts []timesync.Option
	if cfg.Store.Path != "" {
		b, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		n.store = b
		n.addCloser(b)
		opts = append(opts, timesync.WithStore(b))
	}
	est := timesync.NewEstimator(n.Clock, SyncParams(cfg.Sync), opts...)
	ok, err := est.LoadWarmCache()
	switch {
	case err != nil:
		n.log.Warn("warm cache: %v", err)
	case ok:
		n.log.Info("warm cache loaded from %s", cfg.Store.Path)
	}
	return est, nil
}

// SyncParams переводит раздел sync конфига в параметры оценщика.
// Нулевые поля остаются значениями по умолчанию.
func SyncParams(c config.SyncConfig) timesync.Params {
	return timesync.Params{
		MinValidSamples:       c.MinSamples,
		RTTQualityThresholdUs: c.RTTThresholdUs,
		MADMultiplier:         c.MADMultiplier,
		OutlierFloorUs:        c.OutlierFloorUs,
		WarmStartWindowMs:     uint64(c.WarmWindow / time.Millisecond),
		WarmConfirmSamples:    c.WarmConfirm,
		WarmToleranceUs:       c.WarmToleranceUs,
	}
}

func motorOptions(c config.MotorConfig, rec motor.Recorder) []motor.Option {
	opts := []motor.Option{
		motor.WithRecorder(rec),
		motor.WithThresholds(
			time.Duration(c.CoarseThresholdUs)*time.Microsecond,
			time.Duration(c.FineWindowUs)*time.Microsecond,
		),
	}
	if c.Realtime {
		opts = append(opts, motor.WithRealtime(rt.Options{
			Realtime:   true,
			Priority:   c.Priority,
			LockMemory: c.LockMemory,
		}))
	}
	return opts
}

// OpenActuator открывает исполнителя по разделу haptic.
// Возвращённый Closer может быть nil.
func OpenActuator(c config.HapticConfig) (haptic.Actuator, io.Closer, error) {
	switch c.Driver {
	case "drv2605":
		d, bus, err := haptic.Open(c.I2CBus, haptic.DRV2605Config{
			MuxAddr:            c.MuxAddr,
			DriverAddr:         c.DriverAddr,
			Fingers:            c.Fingers,
			DefaultFrequencyHz: c.DefaultFrequencyHz,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("haptic: %w", err)
		}
		return d, bus, nil
	case "", "log":
		return haptic.NewLogSink(c.Fingers), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown haptic driver %q", c.Driver)
	}
}

// Role — роль узла.
func (n *Node) Role() session.Role { return n.role }

// SafetyShutdown гасит очередь и исполнителей. Безопасна из любой горутины
// и при повторном вызове.
func (n *Node) SafetyShutdown() {
	switch {
	case n.Primary != nil:
		n.Primary.Shutdown()
	case n.Secondary != nil:
		n.Secondary.Shutdown()
	default:
		if n.Actuator != nil {
			_ = n.Actuator.StopAll()
		}
	}
}

// Close сохраняет кэш тёплого старта и освобождает ресурсы.
func (n *Node) Close() error {
	if n.Primary != nil {
		// валидное смещение уходит в кэш
		n.Primary.Estimator().Reset()
	}
	return n.closeAll()
}

func (n *Node) addCloser(c io.Closer) {
	if c != nil {
		n.closers = append(n.closers, c)
	}
}

func (n *Node) closeAll() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	n.closers = nil
	return errors.Join(errs...)
}
