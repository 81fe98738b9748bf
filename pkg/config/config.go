// Package config — конфигурация lockstep: YAML-файл, переопределения из
// окружения (.env и LOCKSTEP_*), значения по умолчанию.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath — конфиг, который ищется, если путь не задан.
const DefaultPath = "lockstep.yml"

// Config — конфигурация узла.
type Config struct {
	// primary | secondary
	Role    string        `yaml:"role"`
	Link    LinkConfig    `yaml:"link"`
	Sync    SyncConfig    `yaml:"sync"`
	Motor   MotorConfig   `yaml:"motor"`
	Haptic  HapticConfig  `yaml:"haptic"`
	Cycle   CycleConfig   `yaml:"cycle"`
	Store   StoreConfig   `yaml:"store"`
	Status  StatusConfig  `yaml:"status"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LinkConfig — канал до второго узла.
type LinkConfig struct {
	Type   string `yaml:"type"` // serial | udp
	Port   string `yaml:"port"`
	Baud   int    `yaml:"baud"`
	Listen string `yaml:"listen"`
	Peer   string `yaml:"peer"`
}

// SyncConfig — оценщик смещения и keepalive. Нули означают значения по умолчанию.
type SyncConfig struct {
	PingInterval     time.Duration `yaml:"ping_interval"`
	RTTThresholdUs   uint64        `yaml:"rtt_threshold_us"`
	MinSamples       int           `yaml:"min_samples"`
	OutlierFloorUs   int64         `yaml:"outlier_floor_us"`
	MADMultiplier    int64         `yaml:"mad_multiplier"`
	WarmWindow       time.Duration `yaml:"warm_window"`
	WarmConfirm      int           `yaml:"warm_confirm"`
	WarmToleranceUs  int64         `yaml:"warm_tolerance_us"`
	KeepaliveTimeout time.Duration `yaml:"keepalive_timeout"`
}

// MotorConfig — очередь событий и задача моторов.
type MotorConfig struct {
	QueueCapacity     int    `yaml:"queue_capacity"`
	StagingCapacity   int    `yaml:"staging_capacity"`
	CoarseThresholdUs uint64 `yaml:"coarse_threshold_us"`
	FineWindowUs      uint64 `yaml:"fine_window_us"`
	Realtime          bool   `yaml:"realtime"`
	Priority          int    `yaml:"priority"`
	LockMemory        bool   `yaml:"lock_memory"`
}

// HapticConfig — исполнительные устройства.
type HapticConfig struct {
	Driver             string `yaml:"driver"` // log | drv2605
	I2CBus             string `yaml:"i2c_bus"`
	MuxAddr            uint16 `yaml:"mux_addr"`
	DriverAddr         uint16 `yaml:"driver_addr"`
	Fingers            int    `yaml:"fingers"`
	DefaultFrequencyHz uint16 `yaml:"default_frequency_hz"`
	ConnectPulse       bool   `yaml:"connect_pulse"`
}

// CycleConfig — демонстрационный цикл PRIMARY.
type CycleConfig struct {
	OnMs      uint16        `yaml:"on_ms"`
	OffMs     uint16        `yaml:"off_ms"`
	Amplitude uint8         `yaml:"amplitude"`
	Period    time.Duration `yaml:"period"`
	// Autostart — начать сессию сразу, без внешней команды START.
	Autostart bool `yaml:"autostart"`
}

// StoreConfig — файл кэша тёплого старта; пустой путь отключает сохранение.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// StatusConfig — HTTP API состояния; пустой listen отключает его.
type StatusConfig struct {
	Listen string `yaml:"listen"`
}

// MetricsConfig — сбор метрик задержки с запуска.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Verbose bool `yaml:"verbose"`
}

// Default возвращает конфиг по умолчанию.
func Default() *Config {
	return &Config{
		Role: "primary",
		Link: LinkConfig{
			Type:   "serial",
			Port:   "/dev/ttyUSB0",
			Baud:   115200,
			Listen: ":9750",
		},
		Sync: SyncConfig{
			PingInterval:     time.Second,
			KeepaliveTimeout: 6 * time.Second,
		},
		Motor: MotorConfig{
			QueueCapacity:   16,
			StagingCapacity: 16,
			Priority:        80,
		},
		Haptic: HapticConfig{
			Driver:             "log",
			MuxAddr:            0x70,
			DriverAddr:         0x5A,
			Fingers:            4,
			DefaultFrequencyHz: 250,
			ConnectPulse:       true,
		},
		Cycle: CycleConfig{
			OnMs:      100,
			OffMs:     67,
			Amplitude: 100,
			Autostart: true,
		},
		Store: StoreConfig{Path: "lockstep.db"},
	}
}

// Load читает конфиг из YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	// ключи, отсутствующие в файле, остаются по умолчанию
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(c)
	return c, nil
}

// LoadOrDefault читает path (или DefaultPath). Отсутствующий файл — не
// ошибка, если путь не был задан явно: возвращаются значения по умолчанию.
func LoadOrDefault(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	c, err := Load(path)
	if err != nil && !explicit && errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return c, err
}

// Validate проверяет значения, у которых нет разумной подстановки.
func (c *Config) Validate() error {
	switch c.Role {
	case "primary", "secondary":
	default:
		return fmt.Errorf("role %q: want primary or secondary", c.Role)
	}
	switch c.Link.Type {
	case "serial", "udp":
	default:
		return fmt.Errorf("link.type %q: want serial or udp", c.Link.Type)
	}
	if c.Link.Type == "udp" && c.Link.Peer == "" && c.Role == "primary" {
		return errors.New("link.peer is required for udp primary")
	}
	switch c.Haptic.Driver {
	case "log", "drv2605":
	default:
		return fmt.Errorf("haptic.driver %q: want log or drv2605", c.Haptic.Driver)
	}
	if c.Haptic.Fingers < 1 || c.Haptic.Fingers > 4 {
		return fmt.Errorf("haptic.fingers %d: want 1..4", c.Haptic.Fingers)
	}
	return nil
}

func applyDefaults(c *Config) {
	d := Default()
	if c.Role == "" {
		c.Role = d.Role
	}
	if c.Link.Type == "" {
		c.Link.Type = d.Link.Type
	}
	if c.Link.Port == "" {
		c.Link.Port = d.Link.Port
	}
	if c.Link.Baud == 0 {
		c.Link.Baud = d.Link.Baud
	}
	if c.Link.Listen == "" {
		c.Link.Listen = d.Link.Listen
	}
	if c.Sync.PingInterval == 0 {
		c.Sync.PingInterval = d.Sync.PingInterval
	}
	if c.Sync.KeepaliveTimeout == 0 {
		c.Sync.KeepaliveTimeout = d.Sync.KeepaliveTimeout
	}
	if c.Motor.QueueCapacity == 0 {
		c.Motor.QueueCapacity = d.Motor.QueueCapacity
	}
	if c.Motor.StagingCapacity == 0 {
		c.Motor.StagingCapacity = d.Motor.StagingCapacity
	}
	if c.Motor.Priority == 0 {
		c.Motor.Priority = d.Motor.Priority
	}
	if c.Haptic.Driver == "" {
		c.Haptic.Driver = d.Haptic.Driver
	}
	if c.Haptic.MuxAddr == 0 {
		c.Haptic.MuxAddr = d.Haptic.MuxAddr
	}
	if c.Haptic.DriverAddr == 0 {
		c.Haptic.DriverAddr = d.Haptic.DriverAddr
	}
	if c.Haptic.Fingers == 0 {
		c.Haptic.Fingers = d.Haptic.Fingers
	}
	if c.Haptic.DefaultFrequencyHz == 0 {
		c.Haptic.DefaultFrequencyHz = d.Haptic.DefaultFrequencyHz
	}
	if c.Cycle.OnMs == 0 {
		c.Cycle.OnMs = d.Cycle.OnMs
	}
	if c.Cycle.OffMs == 0 {
		c.Cycle.OffMs = d.Cycle.OffMs
	}
	if c.Cycle.Amplitude == 0 {
		c.Cycle.Amplitude = d.Cycle.Amplitude
	}
}
