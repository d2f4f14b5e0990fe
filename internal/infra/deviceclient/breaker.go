package deviceclient

import (
	"sync"
	"time"
)

// LinkState 表示设备链路的健康分级。
type LinkState string

const (
	StateHealthy  LinkState = "healthy"
	StateDegraded LinkState = "degraded"
	StateDraining LinkState = "draining"
)

var linkStates = []LinkState{StateHealthy, StateDegraded, StateDraining}

// breaker 按连续失败次数把链路标记为 degraded，冷却后自动恢复。
// degraded 只用于观测，仍然放行调用；draining 之后拒绝一切调用。
type breaker struct {
	threshold int
	cooldown  time.Duration
	onChange  func(LinkState)

	mu       sync.Mutex
	state    LinkState
	failures int
	since    time.Time
}

func newBreaker(threshold int, cooldown time.Duration, onChange func(LinkState)) *breaker {
	b := &breaker{
		threshold: threshold,
		cooldown:  cooldown,
		onChange:  onChange,
		state:     StateHealthy,
		since:     time.Now(),
	}
	b.notify(StateHealthy)
	return b
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateDraining:
		return false
	case StateDegraded:
		if time.Since(b.since) > b.cooldown {
			b.transition(StateHealthy)
		}
	}
	return true
}

// record 根据调用结果更新状态，返回本次是否触发降级。
func (b *breaker) record(err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateDraining {
		return false
	}
	if err == nil {
		b.failures = 0
		if b.state != StateHealthy {
			b.transition(StateHealthy)
		}
		return false
	}
	b.failures++
	if b.state == StateHealthy && b.failures >= b.threshold {
		b.transition(StateDegraded)
		return true
	}
	return false
}

func (b *breaker) drain() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateDraining)
}

func (b *breaker) current() LinkState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition 需持有 mu。
func (b *breaker) transition(next LinkState) {
	b.state = next
	b.failures = 0
	b.since = time.Now()
	b.notify(next)
}

func (b *breaker) notify(state LinkState) {
	if b.onChange != nil {
		b.onChange(state)
	}
}
