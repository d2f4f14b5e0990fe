package deviceclient

import (
	"math/rand"
	"sync"
	"time"
)

// maxShift 限制左移次数，避免 Initial<<attempts 溢出。
const maxShift = 16

// Backoff 在设备链路中断时计算指数退避等待时间，带抖动。
type Backoff struct {
	cfg BackoffConfig

	mu       sync.Mutex
	attempts int
}

// NewBackoff 创建 Backoff。
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg}
}

// Next 返回下一次等待时长，结果始终落在 [Initial, Max]。
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	shift := b.attempts
	if b.attempts < maxShift {
		b.attempts++
	}
	b.mu.Unlock()

	delay := b.cfg.Initial << shift
	if delay <= 0 || delay > b.cfg.Max {
		delay = b.cfg.Max
	}
	if j := b.cfg.Jitter; j > 0 {
		delay = time.Duration(float64(delay) * (1 - j + 2*j*rand.Float64()))
	}
	return min(max(delay, b.cfg.Initial), b.cfg.Max)
}

// Reset 在链路恢复后清零。
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}
