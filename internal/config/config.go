package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aegis-sign/keystone-bridge/internal/bridge"
	"github.com/aegis-sign/keystone-bridge/internal/infra/deviceclient"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 是所有环境变量覆盖项的前缀。
const EnvPrefix = "KEYSTONE_"

const (
	ModeWebSocket = "websocket"
	ModeNative    = "native"

	DeviceModeMock = "mock"
	DeviceModeGRPC = "grpc"
)

// Config 是进程级配置：默认值 < YAML 文件 < 环境变量。
type Config struct {
	Mode     string       `yaml:"mode" env:"MODE"`
	LogLevel string       `yaml:"log_level" env:"LOG_LEVEL"`
	Bridge   BridgeConfig `yaml:"bridge" envPrefix:"BRIDGE_"`
	HTTP     HTTPConfig   `yaml:"http" envPrefix:"HTTP_"`
	Device   DeviceConfig `yaml:"device" envPrefix:"DEVICE_"`
}

// BridgeConfig 控制协议层行为。
type BridgeConfig struct {
	Target         string        `yaml:"target" env:"TARGET"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	RateLimit      float64       `yaml:"rate_limit" env:"RATE_LIMIT"`
	RateBurst      int           `yaml:"rate_burst" env:"RATE_BURST"`
}

// HTTPConfig 控制 WebSocket 端口与运维端点。
type HTTPConfig struct {
	Addr           string        `yaml:"addr" env:"ADDR"`
	WSPath         string        `yaml:"ws_path" env:"WS_PATH"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	Heartbeat      time.Duration `yaml:"heartbeat" env:"HEARTBEAT"`
	ReadLimit      int64         `yaml:"read_limit" env:"READ_LIMIT"`
}

// DeviceConfig 选择设备实现；grpc 模式下其余字段传给 deviceclient。
type DeviceConfig struct {
	Mode                string `yaml:"mode" env:"MODE"`
	deviceclient.Config `yaml:",inline"`
}

// Default 返回默认配置。
func Default() Config {
	return Config{
		Mode:     ModeWebSocket,
		LogLevel: "info",
		Bridge: BridgeConfig{
			Target:    bridge.DefaultTarget,
			RateBurst: 1,
		},
		HTTP: HTTPConfig{
			Addr:         "127.0.0.1:8765",
			WSPath:       "/bridge",
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			Heartbeat:    30 * time.Second,
			ReadLimit:    64 << 20,
		},
		Device: DeviceConfig{
			Mode:   DeviceModeGRPC,
			Config: deviceclient.DefaultConfig(),
		},
	}
}

// Load 读取可选的 YAML 文件并应用环境变量覆盖。path 为空时跳过文件。
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg = cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c Config) normalize() Config {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	c.Device.Mode = strings.ToLower(strings.TrimSpace(c.Device.Mode))
	if c.Bridge.Target == "" {
		c.Bridge.Target = bridge.DefaultTarget
	}
	if c.Bridge.RequestTimeout < 0 {
		c.Bridge.RequestTimeout = 0
	}
	if c.Bridge.RateBurst <= 0 {
		c.Bridge.RateBurst = 1
	}
	if c.HTTP.WSPath == "" {
		c.HTTP.WSPath = "/bridge"
	}
	if !strings.HasPrefix(c.HTTP.WSPath, "/") {
		c.HTTP.WSPath = "/" + c.HTTP.WSPath
	}
	c.Device.Config = c.Device.Config.Normalize()
	return c
}

// Validate 检查枚举字段。
func (c Config) Validate() error {
	switch c.Mode {
	case ModeWebSocket, ModeNative:
	default:
		return fmt.Errorf("invalid mode %q: want %s or %s", c.Mode, ModeWebSocket, ModeNative)
	}
	switch c.Device.Mode {
	case DeviceModeMock, DeviceModeGRPC:
	default:
		return fmt.Errorf("invalid device mode %q: want %s or %s", c.Device.Mode, DeviceModeMock, DeviceModeGRPC)
	}
	if c.Mode == ModeWebSocket && c.HTTP.Addr == "" {
		return errors.New("http.addr is required in websocket mode")
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// Level 返回解析后的日志级别，非法值回落到 info。
func (c Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
