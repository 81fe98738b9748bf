package haptic

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/shiwa/lockstep/internal/logger"
)

// Адреса по умолчанию: все DRV2605 на одном адресе, различаются каналом мультиплексора.
const (
	DefaultMuxAddr    = 0x70
	DefaultDriverAddr = 0x5A
)

// Регистры DRV2605.
const (
	regMode      = 0x01
	regRTP       = 0x02
	regLibrary   = 0x03
	regFeedback  = 0x1A
	regControl3  = 0x1D
	regOLLRAPer  = 0x20
	modeRTP      = 0x05
	modeStandby  = 0x40
	libraryLRA   = 0x06
	feedbackLRA  = 0x80
	ctl3Unsigned = 0x08
	ctl3OpenLoop = 0x01
)

// DRV2605Config — параметры контроллера.
type DRV2605Config struct {
	MuxAddr            uint16
	DriverAddr         uint16
	Fingers            int
	DefaultFrequencyHz uint16
}

// DRV2605 — контроллер пальцев: по одному DRV2605 на канал TCA9548A.
type DRV2605 struct {
	mu          sync.Mutex
	mux         i2c.Dev
	drv         i2c.Dev
	fingers     int
	enabled     []bool
	active      []bool
	channel     int
	preselected int
	log         logger.Component
}

var ErrNoDrivers = errors.New("no haptic drivers initialized")

// NewDRV2605 настраивает все пальцы на шине bus в режим LRA/RTP.
// Пальцы, не ответившие при настройке, отключаются; если не ответил ни один,
// возвращается ErrNoDrivers.
func NewDRV2605(bus i2c.Bus, cfg DRV2605Config) (*DRV2605, error) {
	if cfg.MuxAddr == 0 {
		cfg.MuxAddr = DefaultMuxAddr
	}
	if cfg.DriverAddr == 0 {
		cfg.DriverAddr = DefaultDriverAddr
	}
	if cfg.Fingers <= 0 || cfg.Fingers > MaxChannels {
		return nil, fmt.Errorf("fingers %d out of range 1..%d", cfg.Fingers, MaxChannels)
	}
	if cfg.DefaultFrequencyHz == 0 {
		cfg.DefaultFrequencyHz = MaxFrequencyHz
	}
	d := &DRV2605{
		mux:         i2c.Dev{Addr: cfg.MuxAddr, Bus: bus},
		drv:         i2c.Dev{Addr: cfg.DriverAddr, Bus: bus},
		fingers:     cfg.Fingers,
		enabled:     make([]bool, cfg.Fingers),
		active:      make([]bool, cfg.Fingers),
		channel:     -1,
		preselected: -1,
		log:         logger.With("haptic"),
	}
	count := 0
	for f := 0; f < cfg.Fingers; f++ {
		if err := d.configure(uint8(f), cfg.DefaultFrequencyHz); err != nil {
			d.log.Warn("finger %d disabled: %v", f, err)
			continue
		}
		d.enabled[f] = true
		count++
	}
	if count == 0 {
		return nil, ErrNoDrivers
	}
	d.log.Info("%d/%d drivers ready (mux 0x%02x, drv 0x%02x)", count, cfg.Fingers, cfg.MuxAddr, cfg.DriverAddr)
	return d, nil
}

// Open инициализирует драйверы хоста periph, открывает шину busName
// ("" — первая доступная) и настраивает контроллер.
func Open(busName string, cfg DRV2605Config) (*DRV2605, i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}
	d, err := NewDRV2605(bus, cfg)
	if err != nil {
		_ = bus.Close()
		return nil, nil, err
	}
	return d, bus, nil
}

func (d *DRV2605) configure(finger uint8, hz uint16) error {
	if err := d.selectLocked(finger); err != nil {
		return err
	}
	steps := [][2]byte{
		{regMode, 0x00},
		{regFeedback, feedbackLRA},
		{regLibrary, libraryLRA},
		{regControl3, ctl3Unsigned | ctl3OpenLoop},
		{regOLLRAPer, LRAPeriod(hz)},
		{regMode, modeRTP},
		{regRTP, 0},
	}
	for _, s := range steps {
		if err := d.write(s[0], s[1]); err != nil {
			return err
		}
	}
	return nil
}

func (d *DRV2605) write(reg, val byte) error {
	if err := d.drv.Tx([]byte{reg, val}, nil); err != nil {
		return fmt.Errorf("drv2605 reg 0x%02x: %w", reg, err)
	}
	return nil
}

func (d *DRV2605) selectLocked(finger uint8) error {
	if d.channel == int(finger) {
		return nil
	}
	if err := d.mux.Tx([]byte{1 << finger}, nil); err != nil {
		d.channel = -1
		return fmt.Errorf("tca9548a channel %d: %w", finger, err)
	}
	d.channel = int(finger)
	if d.preselected != int(finger) {
		d.preselected = -1
	}
	return nil
}

func (d *DRV2605) usable(finger uint8) error {
	if err := checkFinger(finger, d.fingers); err != nil {
		return err
	}
	if !d.enabled[finger] {
		return fmt.Errorf("finger %d disabled", finger)
	}
	return nil
}

// Fingers возвращает число пальцев.
func (d *DRV2605) Fingers() int { return d.fingers }

// Activate включает палец с амплитудой в процентах.
func (d *DRV2605) Activate(finger, amplitude uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activateLocked(finger, amplitude)
}

func (d *DRV2605) activateLocked(finger, amplitude uint8) error {
	if err := d.usable(finger); err != nil {
		return err
	}
	if err := d.selectLocked(finger); err != nil {
		return err
	}
	return d.rtpLocked(finger, amplitude)
}

func (d *DRV2605) rtpLocked(finger, amplitude uint8) error {
	if err := d.write(regRTP, AmplitudeToRTP(amplitude)); err != nil {
		return err
	}
	d.active[finger] = amplitude > 0
	return nil
}

// Deactivate выключает палец.
func (d *DRV2605) Deactivate(finger uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(finger); err != nil {
		return err
	}
	if err := d.selectLocked(finger); err != nil {
		return err
	}
	d.preselected = -1
	return d.rtpLocked(finger, 0)
}

// SetFrequency задаёт резонансную частоту LRA пальца.
func (d *DRV2605) SetFrequency(finger uint8, hz uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(finger); err != nil {
		return err
	}
	if err := d.selectLocked(finger); err != nil {
		return err
	}
	return d.write(regOLLRAPer, LRAPeriod(hz))
}

// PreSelect заранее открывает канал пальца и пишет частоту, чтобы
// ActivatePreSelected свелась к одной записи RTP.
func (d *DRV2605) PreSelect(finger uint8, hz uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(finger); err != nil {
		return err
	}
	if err := d.selectLocked(finger); err != nil {
		return err
	}
	if err := d.write(regOLLRAPer, LRAPeriod(hz)); err != nil {
		return err
	}
	d.preselected = int(finger)
	return nil
}

// PreSelected возвращает подготовленный палец или −1.
func (d *DRV2605) PreSelected() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.preselected
}

// ActivatePreSelected — быстрый путь: канал и частота уже выставлены.
func (d *DRV2605) ActivatePreSelected(finger, amplitude uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.preselected != int(finger) || d.channel != int(finger) {
		return d.activateLocked(finger, amplitude)
	}
	d.preselected = -1
	return d.rtpLocked(finger, amplitude)
}

// StopAll выключает все включённые пальцы и закрывает каналы мультиплексора.
// Ошибки отдельных пальцев не прерывают остановку остальных.
func (d *DRV2605) StopAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for f := 0; f < d.fingers; f++ {
		if !d.enabled[f] {
			continue
		}
		if err := d.selectLocked(uint8(f)); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := d.rtpLocked(uint8(f), 0); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.mux.Tx([]byte{0}, nil); err != nil {
		errs = append(errs, fmt.Errorf("tca9548a close: %w", err))
	}
	d.channel = -1
	d.preselected = -1
	return errors.Join(errs...)
}

// Active сообщает, включён ли палец.
func (d *DRV2605) Active(finger uint8) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(finger) < d.fingers && d.active[finger]
}
