package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// ErrNotInitialized 表示在 EnsureInitialized 成功前调用了设备操作。
var ErrNotInitialized = errors.New("transport handle not initialized")

const initFlightKey = "init"

// Adapter 持有惰性创建的设备句柄，并对初始化做 singleflight 合并。
type Adapter struct {
	factory Factory
	logger  *slog.Logger

	group singleflight.Group

	mu     sync.RWMutex
	device Device

	constructed atomic.Int64
}

// Option 自定义 Adapter 行为。
type Option func(*Adapter)

// WithLogger 注入 slog Logger。
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAdapter 基于 factory 构造 Adapter，此时不会创建设备句柄。
func NewAdapter(factory Factory, opts ...Option) (*Adapter, error) {
	if factory == nil {
		return nil, errors.New("device factory is required")
	}
	a := &Adapter{factory: factory, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// EnsureInitialized 首次调用时创建并初始化设备句柄，之后的调用直接返回。
// 并发调用者共享同一次在飞初始化及其结果。失败时丢弃句柄，下次重新构造。
func (a *Adapter) EnsureInitialized(ctx context.Context) error {
	if a.current() != nil {
		return nil
	}
	ch := a.group.DoChan(initFlightKey, func() (interface{}, error) {
		if a.current() != nil {
			return nil, nil
		}
		return nil, a.initialize(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (a *Adapter) initialize(ctx context.Context) error {
	device, err := a.factory()
	if err != nil {
		return fmt.Errorf("construct device handle: %w", err)
	}
	a.constructed.Add(1)
	if err := device.Init(ctx); err != nil {
		a.logger.Warn("device init failed", slog.Any("err", err))
		closeDevice(device)
		return err
	}
	a.mu.Lock()
	a.device = device
	a.mu.Unlock()
	a.logger.Info("device handle initialized")
	return nil
}

// Close 释放已就绪的句柄（若其实现 io.Closer），之后需要重新初始化。
func (a *Adapter) Close() error {
	a.mu.Lock()
	device := a.device
	a.device = nil
	a.mu.Unlock()
	if c, ok := device.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func closeDevice(device Device) {
	if c, ok := device.(io.Closer); ok {
		_ = c.Close()
	}
}

// Initialized 报告设备句柄是否已就绪。
func (a *Adapter) Initialized() bool {
	return a.current() != nil
}

// Constructed 返回 factory 成功构造句柄的次数。
func (a *Adapter) Constructed() int64 {
	return a.constructed.Load()
}

func (a *Adapter) current() Device {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.device
}

func (a *Adapter) ready() (Device, error) {
	device := a.current()
	if device == nil {
		return nil, ErrNotInitialized
	}
	return device, nil
}

// GetKeys 透传至设备，按 paths 顺序返回公钥记录。
func (a *Adapter) GetKeys(ctx context.Context, paths []string) ([]Key, error) {
	device, err := a.ready()
	if err != nil {
		return nil, err
	}
	return device.GetKeys(ctx, paths)
}

// SignTransaction 透传至设备。
func (a *Adapter) SignTransaction(ctx context.Context, path, rawTx string, isLegacyTx bool) (Signature, error) {
	device, err := a.ready()
	if err != nil {
		return nil, err
	}
	return device.SignTransaction(ctx, path, rawTx, isLegacyTx)
}

// SignPersonalMessage 透传至设备。
func (a *Adapter) SignPersonalMessage(ctx context.Context, path, message string) (Signature, error) {
	device, err := a.ready()
	if err != nil {
		return nil, err
	}
	return device.SignPersonalMessage(ctx, path, message)
}

// SignEIP712Message 透传至设备。
func (a *Adapter) SignEIP712Message(ctx context.Context, path string, jsonMessage json.RawMessage) (Signature, error) {
	device, err := a.ready()
	if err != nil {
		return nil, err
	}
	return device.SignEIP712Message(ctx, path, jsonMessage)
}
