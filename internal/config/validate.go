package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
)

const (
	defaultBaudrate      = 115200
	defaultTimeoutMs     = 200
	defaultPollMs        = 1000
	defaultProbeMs       = 5000
	defaultMissThreshold = 3
	defaultSilenceMs     = 3000
	defaultBackoffInitMs = 500
	defaultBackoffMaxMs  = 30000
	defaultResyncLimit   = 4096
	defaultParseBuffer   = 2048
	defaultFlushMs       = 2000
	defaultBacklogLimit  = 10000
	defaultTenHzWindow   = 10
	defaultTenHzRate     = 10
	defaultTenHzTol      = 5
	defaultTopicPrefix   = "airmodus"
	defaultClientID      = "device-airmodus"
)

func applyDefaults(c *Config) {
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.PortType == "" {
			d.PortType = "uart"
		}
		if d.Baudrate == 0 {
			d.Baudrate = defaultBaudrate
		}
		if d.TimeoutMs == 0 {
			d.TimeoutMs = defaultTimeoutMs
		}
		if d.PollIntervalMs == 0 {
			d.PollIntervalMs = defaultPollMs
		}
		if d.ProbeIntervalMs == 0 {
			d.ProbeIntervalMs = defaultProbeMs
		}
	}

	s := &c.Session
	if s.MissThreshold == 0 {
		s.MissThreshold = defaultMissThreshold
	}
	if s.SilenceMs == 0 {
		s.SilenceMs = defaultSilenceMs
	}
	if s.BackoffInitialMs == 0 {
		s.BackoffInitialMs = defaultBackoffInitMs
	}
	if s.BackoffMaxMs == 0 {
		s.BackoffMaxMs = defaultBackoffMaxMs
	}
	if s.ResyncLimit == 0 {
		s.ResyncLimit = defaultResyncLimit
	}
	if s.ParseBufferBytes == 0 {
		s.ParseBufferBytes = defaultParseBuffer
	}

	dg := &c.Diagnostics
	if dg.TenHzWindowSec == 0 {
		dg.TenHzWindowSec = defaultTenHzWindow
	}
	if dg.TenHzRate == 0 {
		dg.TenHzRate = defaultTenHzRate
	}
	if dg.TenHzTolerance == nil {
		tol := defaultTenHzTol
		dg.TenHzTolerance = &tol
	}

	if c.Log.Dir == "" {
		c.Log.Dir = "./data"
	}
	if c.Log.FlushMs == 0 {
		c.Log.FlushMs = defaultFlushMs
	}
	if c.Log.BacklogLimit == 0 {
		c.Log.BacklogLimit = defaultBacklogLimit
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = defaultTopicPrefix
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = defaultClientID
	}
	if c.MQTT.KeepAliveSec == 0 {
		c.MQTT.KeepAliveSec = 30
	}
	if c.MQTT.ConnectTimeoutSec == 0 {
		c.MQTT.ConnectTimeoutSec = 5
	}
}

func validate(c *Config) error {
	seen := make(map[string]struct{}, len(c.Devices))
	descs := make([]model.Descriptor, 0, len(c.Devices))
	for _, d := range c.Devices {
		if err := ValidateDevice(d); err != nil {
			return err
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("device %s: duplicate name", d.Name)
		}
		seen[d.Name] = struct{}{}
		desc, err := d.Descriptor()
		if err != nil {
			return err
		}
		for _, other := range descs {
			if err := model.CheckLine(desc, other); err != nil {
				return err
			}
		}
		descs = append(descs, desc)
	}
	if c.Session.SilenceMs < 0 || c.Session.MissThreshold < 1 {
		return errors.New("session: missThreshold must be >= 1 and silenceMs >= 0")
	}
	if c.Session.BackoffMaxMs < c.Session.BackoffInitialMs {
		return errors.New("session: backoffMaxMs must be >= backoffInitialMs")
	}
	if c.Session.ParseBufferBytes > c.Session.ResyncLimit {
		return errors.New("session: parseBufferBytes must be <= resyncLimit")
	}
	for typ, b := range c.Diagnostics.PulseRatio {
		if _, err := model.ParseDeviceType(typ); err != nil {
			return fmt.Errorf("diagnostics: pulseRatio: %w", err)
		}
		if b.Min > b.Max {
			return fmt.Errorf("diagnostics: pulseRatio %s: min %v > max %v", typ, b.Min, b.Max)
		}
	}
	if c.Diagnostics.TenHzWindowSec < 1 || c.Diagnostics.TenHzRate < 1 || c.Diagnostics.Tolerance() < 0 {
		return errors.New("diagnostics: tenHz window, rate must be > 0 and tolerance >= 0")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt: broker is required when enabled")
	}
	if c.MQTT.Qos < 0 || c.MQTT.Qos > 2 {
		return fmt.Errorf("mqtt: qos %d out of range", c.MQTT.Qos)
	}
	return nil
}

// ValidateDevice 校验单台设备，运行时添加设备也走这里
func ValidateDevice(d Device) error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("device: name is required")
	}
	t, err := model.ParseDeviceType(d.Type)
	if err != nil {
		return fmt.Errorf("device %s: %w", d.Name, err)
	}
	switch d.PortType {
	case "uart", "rs232", "rs485", "loopback":
	default:
		return fmt.Errorf("device %s: unknown port type %q", d.Name, d.PortType)
	}
	if d.Device == "" && d.PortType != "loopback" && t != model.TypeExample {
		return fmt.Errorf("device %s: serial device path is required", d.Name)
	}
	if d.PollIntervalMs <= 0 || d.ProbeIntervalMs <= 0 || d.TimeoutMs <= 0 {
		return fmt.Errorf("device %s: intervals and timeout must be > 0", d.Name)
	}
	if d.TimeoutMs >= d.PollIntervalMs {
		return fmt.Errorf("device %s: timeoutMs %d must be < pollIntervalMs %d", d.Name, d.TimeoutMs, d.PollIntervalMs)
	}
	if d.Baudrate <= 0 {
		return fmt.Errorf("device %s: baudrate must be > 0", d.Name)
	}
	return nil
}

// WithDefaults 为运行时添加的设备补默认值
func WithDefaults(d Device) Device {
	c := Config{Devices: []Device{d}}
	applyDefaults(&c)
	return c.Devices[0]
}
