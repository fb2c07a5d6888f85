package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
)

// Load 从指定 YAML 文件加载配置，补默认值并校验
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse 解析 Acquisition 段
func Parse(data []byte) (*Config, error) {
	doc := struct {
		Acquisition Config `yaml:"Acquisition"`
	}{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	cfg := &doc.Acquisition
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	cfg.reindex()
	return cfg, nil
}

func (c *Config) reindex() {
	c.index = make(map[string]int, len(c.Devices))
	for i, d := range c.Devices {
		c.index[d.Name] = i
	}
}

// Device 根据名称返回设备配置
func (c *Config) Device(name string) (Device, bool) {
	i, ok := c.index[name]
	if !ok {
		return Device{}, false
	}
	return c.Devices[i], true
}

// Descriptors 把全部设备转换为描述符
func (c *Config) Descriptors() ([]model.Descriptor, error) {
	out := make([]model.Descriptor, 0, len(c.Devices))
	for _, d := range c.Devices {
		desc, err := d.Descriptor()
		if err != nil {
			return nil, err
		}
		out = append(out, desc)
	}
	return out, nil
}

// Descriptor 转换为会话使用的不可变描述符
func (d Device) Descriptor() (model.Descriptor, error) {
	t, err := model.ParseDeviceType(d.Type)
	if err != nil {
		return model.Descriptor{}, fmt.Errorf("device %s: %w", d.Name, err)
	}
	desc := model.Descriptor{
		Name:          d.Name,
		Type:          t,
		Port:          d.Device,
		PortType:      d.PortType,
		Baudrate:      d.Baudrate,
		DEPin:         d.DEPin,
		Timeout:       ms(d.TimeoutMs),
		PollInterval:  ms(d.PollIntervalMs),
		ProbeInterval: ms(d.ProbeIntervalMs),
		Bus:           d.Bus,
		SerialNumber:  d.SerialNumber,
		TenHz:         d.TenHz,
		Params:        d.Params,
	}
	return desc.Clone(), nil
}

// Silence 断线判定的静默时长
func (s Session) Silence() time.Duration { return ms(s.SilenceMs) }

// BackoffInitial 首次重连等待
func (s Session) BackoffInitial() time.Duration { return ms(s.BackoffInitialMs) }

// BackoffMax 重连等待上限
func (s Session) BackoffMax() time.Duration { return ms(s.BackoffMaxMs) }

// TenHzWindow 10 Hz 检查窗口
func (d Diagnostics) TenHzWindow() time.Duration {
	return time.Duration(d.TenHzWindowSec) * time.Second
}

// Tolerance 10 Hz 样本数允许偏差，未配置时为默认值
func (d Diagnostics) Tolerance() int {
	if d.TenHzTolerance == nil {
		return defaultTenHzTol
	}
	return *d.TenHzTolerance
}

// FlushInterval 刷盘周期
func (l Log) FlushInterval() time.Duration { return ms(l.FlushMs) }

// Daily 是否按日切分文件，默认开启
func (l Log) Daily() bool { return l.DailyFiles == nil || *l.DailyFiles }

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
