package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"xdp-dns-redirect/pkg/targets"
)

// Config 应用配置
type Config struct {
	Interface  string          `yaml:"interface"`
	QueueID    uint32          `yaml:"queue_id" validate:"lt=64"`
	QueueCount int             `yaml:"queue_count" validate:"min=1,max=64"`
	Redirect   []RedirectEntry `yaml:"redirect" validate:"dive"`
	Mirror     MirrorConfig    `yaml:"mirror"`
	BPF        BPFConfig       `yaml:"bpf"`
	Capture    CaptureConfig   `yaml:"capture"`
	Workers    WorkerConfig    `yaml:"workers"`
	Metrics    MetricsConfig   `yaml:"metrics"`
	Logging    LoggingConfig   `yaml:"logging"`
}

// RedirectEntry 重定向表条目: 队列 → 消费者 socket
type RedirectEntry struct {
	Queue  uint32 `yaml:"queue" validate:"lt=64"`
	Socket uint32 `yaml:"socket" validate:"required"`
}

// MirrorConfig 镜像配置, interface 与 ifindex 二选一, 都为空表示不镜像
type MirrorConfig struct {
	Interface string `yaml:"interface" validate:"excluded_with=Ifindex"`
	Ifindex   uint32 `yaml:"ifindex"`
}

// BPFConfig 内核 map 配置
type BPFConfig struct {
	PinPath     string `yaml:"pin_path"`
	RedirectMap string `yaml:"redirect_map" validate:"required"`
	MirrorMap   string `yaml:"mirror_map" validate:"required"`
}

// CaptureConfig AF_PACKET 抓包配置
type CaptureConfig struct {
	SnapLen    int `yaml:"snaplen" validate:"min=64"`
	BufferSize int `yaml:"buffer_size" validate:"min=65536"`
	TimeoutMS  int `yaml:"timeout_ms" validate:"min=1"`
}

// WorkerConfig Worker 配置
type WorkerConfig struct {
	NumWorkers int `yaml:"num_workers" validate:"min=1"`
	QueueDepth int `yaml:"queue_depth" validate:"min=1"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen" validate:"required_if=Enabled true"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level      string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format     string `yaml:"format" validate:"oneof=text json"`
	Output     string `yaml:"output"` // stdout, stderr 或文件路径
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"min=0"`
	MaxBackups int    `yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"min=0"`
	Compress   bool   `yaml:"compress"`
}

// Default 默认配置
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load 加载配置文件
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// 设置默认值
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.QueueCount == 0 {
		c.QueueCount = 1
	}
	if c.BPF.RedirectMap == "" {
		c.BPF.RedirectMap = "xsk_map"
	}
	if c.BPF.MirrorMap == "" {
		c.BPF.MirrorMap = "mirror_ifindex"
	}
	if c.Capture.SnapLen == 0 {
		c.Capture.SnapLen = 2048
	}
	if c.Capture.BufferSize == 0 {
		c.Capture.BufferSize = 8 << 20
	}
	if c.Capture.TimeoutMS == 0 {
		c.Capture.TimeoutMS = 100
	}
	if c.Workers.NumWorkers == 0 {
		c.Workers.NumWorkers = 4
	}
	if c.Workers.QueueDepth == 0 {
		c.Workers.QueueDepth = 256
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9100"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// RedirectTable 由配置构造重定向表
func (c *Config) RedirectTable() (targets.RedirectTable, error) {
	var table targets.RedirectTable
	for _, e := range c.Redirect {
		next, err := table.With(e.Queue, targets.SocketID(e.Socket))
		if err != nil {
			return targets.RedirectTable{}, err
		}
		table = next
	}
	return table, nil
}

// MirrorTarget 解析镜像目标, lookup 负责把接口名转换为 ifindex
func (c *Config) MirrorTarget(lookup func(name string) (int, error)) (targets.MirrorTarget, error) {
	switch {
	case c.Mirror.Ifindex != 0:
		return targets.MirrorTo(c.Mirror.Ifindex), nil
	case c.Mirror.Interface != "":
		idx, err := lookup(c.Mirror.Interface)
		if err != nil {
			return targets.NoMirror, fmt.Errorf("resolve mirror interface %s: %w", c.Mirror.Interface, err)
		}
		return targets.MirrorTo(uint32(idx)), nil
	default:
		return targets.NoMirror, nil
	}
}
