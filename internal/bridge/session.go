package bridge

import (
	"context"
	"sync/atomic"

	"github.com/aegis-sign/keystone-bridge/internal/app/transport"
)

// Session 是 frame 生命周期内唯一的 bridge 会话状态，由 Dispatcher 独占。
// initialized 只会从 false 变为 true，不会复位。
type Session struct {
	transport   *transport.Adapter
	initialized atomic.Bool
}

// NewSession 基于 Transport Adapter 创建会话。
func NewSession(adapter *transport.Adapter) *Session {
	return &Session{transport: adapter}
}

// Initialized 报告会话是否已成功完成 init。
func (s *Session) Initialized() bool {
	return s.initialized.Load()
}

func (s *Session) init(ctx context.Context) error {
	if s.initialized.Load() {
		return nil
	}
	if err := s.transport.EnsureInitialized(ctx); err != nil {
		return err
	}
	s.initialized.Store(true)
	return nil
}

func (s *Session) ready() (*transport.Adapter, error) {
	if !s.initialized.Load() {
		return nil, ErrUninitialized
	}
	return s.transport, nil
}
