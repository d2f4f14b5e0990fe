package deviceclient

import (
	"time"

	"github.com/aegis-sign/keystone-bridge/internal/infra/devicerpc"
)

// Config 描述到硬件守护进程的连接参数。
// yaml/env 标签由 internal/config 统一解析。
type Config struct {
	Endpoint            string        `yaml:"endpoint" env:"ENDPOINT"`
	DialTimeout         time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	CallTimeout         time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
	KeepaliveTime       time.Duration `yaml:"keepalive_time" env:"KEEPALIVE_TIME"`
	KeepaliveTimeout    time.Duration `yaml:"keepalive_timeout" env:"KEEPALIVE_TIMEOUT"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_INTERVAL"`
	HealthService       string        `yaml:"health_service" env:"HEALTH_SERVICE"`
	BreakerThreshold    int           `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	BreakerCooldown     time.Duration `yaml:"breaker_cooldown" env:"BREAKER_COOLDOWN"`
	Backoff             BackoffConfig `yaml:"backoff" envPrefix:"RETRY_"`
}

// BackoffConfig 决定断线重连指数退避参数。
type BackoffConfig struct {
	Initial time.Duration `yaml:"initial" env:"INITIAL"`
	Max     time.Duration `yaml:"max" env:"MAX"`
	Jitter  float64       `yaml:"jitter" env:"JITTER"`
}

// DefaultConfig 返回本机 unix socket 守护进程的默认值。
// 签名需要用户在设备上确认，CallTimeout 默认不限制。
func DefaultConfig() Config {
	return Config{
		Endpoint:            "unix:///run/keystone/device.sock",
		DialTimeout:         2 * time.Second,
		KeepaliveTime:       30 * time.Second,
		KeepaliveTimeout:    10 * time.Second,
		HealthCheckInterval: 5 * time.Second,
		HealthService:       devicerpc.ServiceName,
		BreakerThreshold:    3,
		BreakerCooldown:     time.Second,
		Backoff: BackoffConfig{
			Initial: 50 * time.Millisecond,
			Max:     2 * time.Second,
			Jitter:  0.2,
		},
	}
}

// Normalize 用默认值补齐未设置或非法的字段。
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.Endpoint == "" {
		c.Endpoint = def.Endpoint
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.CallTimeout < 0 {
		c.CallTimeout = 0
	}
	if c.KeepaliveTime <= 0 {
		c.KeepaliveTime = def.KeepaliveTime
	}
	if c.KeepaliveTimeout <= 0 {
		c.KeepaliveTimeout = def.KeepaliveTimeout
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = def.HealthCheckInterval
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = def.BreakerThreshold
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = def.BreakerCooldown
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff.Initial = def.Backoff.Initial
	}
	if c.Backoff.Max < c.Backoff.Initial {
		c.Backoff.Max = c.Backoff.Initial
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter >= 1 {
		c.Backoff.Jitter = def.Backoff.Jitter
	}
	return c
}
