package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aegis-sign/keystone-bridge/pkg/apierrors"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Listener 是 bridge 唯一的入站入口：按 target 过滤消息、提取字段并交给 Dispatcher。
type Listener struct {
	target     string
	dispatcher *Dispatcher
	logger     *slog.Logger

	limiter   atomic.Pointer[rate.Limiter]
	rateBurst int
}

// ListenerOption 自定义 Listener 行为。
type ListenerOption func(*Listener)

// WithTarget 覆盖默认的 target 标识。
func WithTarget(target string) ListenerOption {
	return func(l *Listener) {
		if target != "" {
			l.target = target
		}
	}
}

// WithListenerLogger 注入 slog Logger。
func WithListenerLogger(logger *slog.Logger) ListenerOption {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithRateLimit 限制每秒受理的请求数，limit<=0 表示不限速。
func WithRateLimit(limit float64, burst int) ListenerOption {
	return func(l *Listener) {
		if burst <= 0 {
			burst = 1
		}
		l.rateBurst = burst
		if limit > 0 {
			l.limiter.Store(rate.NewLimiter(rate.Limit(limit), burst))
		}
	}
}

// NewListener 构造 Listener。
func NewListener(dispatcher *Dispatcher, opts ...ListenerOption) (*Listener, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	l := &Listener{
		target:     DefaultTarget,
		dispatcher: dispatcher,
		logger:     slog.Default(),
		rateBurst:  1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// Target 返回当前过滤使用的 target 标识。
func (l *Listener) Target() string {
	return l.target
}

// UpdateRateLimit 热更新速率限制。
func (l *Listener) UpdateRateLimit(limit float64) {
	if limit <= 0 {
		l.limiter.Store(nil)
		return
	}
	l.limiter.Store(rate.NewLimiter(rate.Limit(limit), l.rateBurst))
}

// Serve 持续从 port 读取消息直到端口关闭或 ctx 取消，每条消息在独立 goroutine 中处理。
// 返回前等待该端口上的在飞请求完成。
func (l *Listener) Serve(ctx context.Context, port Port) error {
	if port == nil {
		return errors.New("port is required")
	}
	emitter := NewEmitter(port, l.logger, l.dispatcher.metrics)
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		data, err := port.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrPortClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		env, ok := l.accept(data)
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Handle(ctx, emitter, env)
		}()
	}
}

// accept 校验 target 并解析信封，不匹配的消息静默丢弃。
func (l *Listener) accept(data []byte) (Envelope, bool) {
	var env Envelope
	if !gjson.ValidBytes(data) {
		l.discard("invalid_json")
		return env, false
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		l.discard("not_object")
		return env, false
	}
	target := root.Get("target")
	if target.Type != gjson.String || target.Str != l.target {
		l.discard("target_mismatch")
		return env, false
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Target != l.target {
		l.discard("malformed_envelope")
		return env, false
	}
	return env, true
}

// Handle 分发单个已通过过滤的请求，并保证每个已识别 action 恰好一条回复。
func (l *Listener) Handle(ctx context.Context, emitter *Emitter, env Envelope) {
	replyAction := ReplyAction(env.Action)
	if !l.dispatcher.Known(env.Action) {
		l.discard("unknown_action")
		l.logger.Debug("ignoring unknown bridge action", slog.String("action", env.Action))
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			err := apierrors.New(apierrors.CodeInternal, fmt.Sprintf("bridge panic: %v", rec))
			_ = emitter.Send(ctx, ErrorReply(replyAction, env.MessageID, err))
		}
	}()
	if limiter := l.limiter.Load(); limiter != nil && !limiter.Allow() {
		_ = emitter.Send(ctx, ErrorReply(replyAction, env.MessageID, ErrRateLimited))
		return
	}
	payload, err := l.dispatcher.Dispatch(ctx, env.Action, env.Params)
	if errors.Is(err, ErrUnknownAction) {
		return
	}
	if err != nil {
		l.logger.Warn("bridge request failed",
			slog.String("action", env.Action),
			slog.String("message_id", string(env.MessageID)),
			slog.String("code", string(apierrors.CodeOf(err))),
			slog.Any("err", err))
		_ = emitter.Send(ctx, ErrorReply(replyAction, env.MessageID, err))
		return
	}
	_ = emitter.Send(ctx, SuccessReply(replyAction, env.MessageID, payload))
}

func (l *Listener) discard(reason string) {
	l.dispatcher.metrics.incDiscarded(reason)
}
