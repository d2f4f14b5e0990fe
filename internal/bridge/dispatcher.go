package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aegis-sign/keystone-bridge/internal/app/transport"
	"github.com/aegis-sign/keystone-bridge/pkg/apierrors"
)

// ErrUnknownAction 表示 action 不在路由表中，调用方不应回复。
var ErrUnknownAction = errUnknownAction

// handlerFunc 处理单个 action，返回 nil payload 表示回复不带 payload。
type handlerFunc func(ctx context.Context, params []byte) (any, error)

type route struct {
	requiresInit bool
	handle       handlerFunc
}

// Dispatcher 维护 action 到 handler 的路由表，并持有会话状态。
type Dispatcher struct {
	session *Session
	routes  map[Action]route
	logger  *slog.Logger
	metrics *Metrics
	timeout time.Duration

	inflight atomic.Int64
}

// DispatcherOption 自定义 Dispatcher 行为。
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger 注入 slog Logger。
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics 注入 Metrics。
func WithMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithRequestTimeout 为单次请求设置超时，0 表示不限时。
func WithRequestTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher 基于 Transport Adapter 构造 Dispatcher。
func NewDispatcher(adapter *transport.Adapter, opts ...DispatcherOption) (*Dispatcher, error) {
	if adapter == nil {
		return nil, errors.New("transport adapter is required")
	}
	d := &Dispatcher{
		session: NewSession(adapter),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.routes = map[Action]route{
		ActionIframeReady:         {handle: d.handleIframeReady},
		ActionInit:                {handle: d.handleInit},
		ActionGetKeys:             {requiresInit: true, handle: d.handleGetKeys},
		ActionSignTransaction:     {requiresInit: true, handle: d.handleSignTransaction},
		ActionSignPersonalMessage: {requiresInit: true, handle: d.handleSignPersonalMessage},
		ActionSignEIP712Message:   {requiresInit: true, handle: d.handleSignEIP712Message},
	}
	return d, nil
}

// Session 返回 Dispatcher 持有的会话。
func (d *Dispatcher) Session() *Session {
	return d.session
}

// Inflight 返回正在执行的请求数。
func (d *Dispatcher) Inflight() int64 {
	return d.inflight.Load()
}

// Known 报告 action 是否在路由表中。
func (d *Dispatcher) Known(action string) bool {
	_, ok := d.routes[Action(action)]
	return ok
}

// Dispatch 查表并执行 handler。未知 action 返回 ErrUnknownAction。
// handler 中的 panic 会被转换为 INTERNAL 错误。
func (d *Dispatcher) Dispatch(ctx context.Context, action string, params []byte) (any, error) {
	r, ok := d.routes[Action(action)]
	if !ok {
		return nil, ErrUnknownAction
	}
	d.inflight.Add(1)
	defer d.inflight.Add(-1)
	done := d.metrics.trackInflight()
	defer done()

	start := time.Now()
	payload, err := d.run(ctx, r, params)
	outcome := "success"
	if err != nil {
		outcome = string(apierrors.CodeOf(err))
	}
	d.metrics.observeRequest(action, outcome, time.Since(start))
	return payload, err
}

func (d *Dispatcher) run(ctx context.Context, r route, params []byte) (any, error) {
	if r.requiresInit {
		if _, err := d.session.ready(); err != nil {
			return nil, err
		}
	}
	if d.timeout <= 0 {
		return safeCall(ctx, r.handle, params)
	}
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	type result struct {
		payload any
		err     error
	}
	resultCh := make(chan result, 1)
	go func() {
		payload, err := safeCall(callCtx, r.handle, params)
		resultCh <- result{payload: payload, err: err}
	}()
	select {
	case res := <-resultCh:
		return res.payload, res.err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, apierrors.New(apierrors.CodeTimeout, fmt.Sprintf("request timed out after %s", d.timeout))
		}
		return nil, callCtx.Err()
	}
}

func safeCall(ctx context.Context, fn handlerFunc, params []byte) (payload any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			payload = nil
			err = apierrors.New(apierrors.CodeInternal, fmt.Sprintf("handler panic: %v", rec))
		}
	}()
	return fn(ctx, params)
}

func (d *Dispatcher) handleIframeReady(context.Context, []byte) (any, error) {
	return nil, nil
}

func (d *Dispatcher) handleInit(ctx context.Context, _ []byte) (any, error) {
	if d.session.Initialized() {
		d.metrics.incDeviceInit("noop")
		return nil, nil
	}
	if err := d.session.init(ctx); err != nil {
		d.metrics.incDeviceInit("failure")
		d.logger.Error("failed to initialize keystone bridge", slog.Any("err", err))
		return nil, err
	}
	d.metrics.incDeviceInit("success")
	d.logger.Info("keystone bridge initialized")
	return nil, nil
}

func (d *Dispatcher) handleGetKeys(ctx context.Context, raw []byte) (any, error) {
	params, err := decodeParams[GetKeysParams](ActionGetKeys, raw)
	if err != nil {
		return nil, err
	}
	keys, err := d.session.transport.GetKeys(ctx, params.Paths)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []transport.Key{}
	}
	return keys, nil
}

func (d *Dispatcher) handleSignTransaction(ctx context.Context, raw []byte) (any, error) {
	params, err := decodeParams[SignTransactionParams](ActionSignTransaction, raw)
	if err != nil {
		return nil, err
	}
	sig, err := d.session.transport.SignTransaction(ctx, params.Path, params.RawTx, params.IsLegacyTx)
	if err != nil {
		return nil, err
	}
	return sig, nil
}

func (d *Dispatcher) handleSignPersonalMessage(ctx context.Context, raw []byte) (any, error) {
	params, err := decodeParams[SignPersonalMessageParams](ActionSignPersonalMessage, raw)
	if err != nil {
		return nil, err
	}
	sig, err := d.session.transport.SignPersonalMessage(ctx, params.Path, *params.Message)
	if err != nil {
		return nil, err
	}
	return sig, nil
}

func (d *Dispatcher) handleSignEIP712Message(ctx context.Context, raw []byte) (any, error) {
	params, err := decodeParams[SignEIP712MessageParams](ActionSignEIP712Message, raw)
	if err != nil {
		return nil, err
	}
	sig, err := d.session.transport.SignEIP712Message(ctx, params.Path, params.JSONMessage)
	if err != nil {
		return nil, err
	}
	return sig, nil
}
