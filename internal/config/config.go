// Package config 加载 sharedstream 命令行工具的 YAML 配置
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	coreerrors "sharedstream/internal/core/errors"
	corelog "sharedstream/internal/core/log"
)

// Config 根配置
type Config struct {
	Log       corelog.Config  `yaml:"log"`
	Transport TransportConfig `yaml:"transport"`
	Ping      PingConfig      `yaml:"ping"`
	Server    ServerConfig    `yaml:"server"`
}

// TransportConfig 客户端连接参数
type TransportConfig struct {
	Protocol string `yaml:"protocol"` // tcp / websocket / quic / kcp
	Address  string `yaml:"address"`
}

// PingConfig ping 客户端参数
type PingConfig struct {
	Count    int           `yaml:"count"`    // 0 表示一直发送直到中断
	Window   int           `yaml:"window"`   // 最多未应答的请求数
	Rate     float64       `yaml:"rate"`     // 每秒请求数，0 表示不限速
	Interval time.Duration `yaml:"interval"` // 进度日志间隔
	Timeout  time.Duration `yaml:"timeout"`  // 单个请求等待应答的超时
}

// ServerConfig 应答服务端参数
type ServerConfig struct {
	Protocol      string        `yaml:"protocol"`
	Listen        string        `yaml:"listen"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`   // 会话无请求超过该时长即断开，0 表示不限
	MetricsListen string        `yaml:"metrics_listen"` // Prometheus /metrics 监听地址，为空时不启动
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Log: corelog.Config{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Transport: TransportConfig{
			Protocol: "tcp",
			Address:  "127.0.0.1:7300",
		},
		Ping: PingConfig{
			Count:    10,
			Window:   1,
			Rate:     10,
			Interval: 5 * time.Second,
			Timeout:  5 * time.Second,
		},
		Server: ServerConfig{
			Protocol:    "tcp",
			Listen:      "127.0.0.1:7300",
			IdleTimeout: 60 * time.Second,
		},
	}
}

// Load 从 YAML 文件加载配置，文件不存在时返回默认配置
// 文件中未出现的字段保留默认值
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	expanded, err := expandPath(path)
	if err != nil {
		return nil, coreerrors.Wrapf(err, coreerrors.CodeConfigError, "failed to expand path %q", path)
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			corelog.Debugf("config file %s not found, using defaults", expanded)
			return cfg, nil
		}
		return nil, coreerrors.Wrapf(err, coreerrors.CodeConfigError, "failed to read config file %q", expanded)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, coreerrors.Wrapf(err, coreerrors.CodeConfigError, "failed to parse YAML file %q", expanded)
	}
	return cfg, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Abs(path)
}
