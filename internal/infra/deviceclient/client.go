package deviceclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aegis-sign/keystone-bridge/internal/app/transport"
	"github.com/aegis-sign/keystone-bridge/internal/infra/devicerpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ErrDraining 表示客户端已关闭，不再接受调用。
var ErrDraining = errors.New("device link is draining")

// ErrNotConnected 表示尚未完成 Init。
var ErrNotConnected = errors.New("device not connected")

// RemoteError 是守护进程返回的错误，Error() 只保留设备给出的文本。
type RemoteError struct {
	Code    codes.Code
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// Client 通过 gRPC 与硬件守护进程通信，实现 transport.Device。
type Client struct {
	cfg     Config
	dialer  Dialer
	metrics *Metrics
	logger  *slog.Logger
	breaker *breaker

	mu     sync.Mutex
	conn   *grpc.ClientConn
	rpc    devicerpc.DeviceServiceClient
	cancel context.CancelFunc
	closed bool
}

var _ transport.Device = (*Client)(nil)

// Option 允许自定义 Client 行为。
type Option func(*Client)

// WithDialer 自定义拨号器。
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger 注入 slog Logger。
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics 共享已注册的指标。
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New 仅构造客户端，不做任何 I/O；连接在 Init 中建立。
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg.Normalize(),
		dialer: defaultDialer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = defaultDialer
	}
	c.breaker = newBreaker(c.cfg.BreakerThreshold, c.cfg.BreakerCooldown, c.metrics.setState)
	return c
}

// Factory 返回每次构造新 Client 的 transport.Factory。
func Factory(cfg Config, opts ...Option) transport.Factory {
	return func() (transport.Device, error) {
		return New(cfg, opts...), nil
	}
}

// State 返回当前链路状态。
func (c *Client) State() LinkState { return c.breaker.current() }

// Init 拨号、确认守护进程健康后调用远端 Init。失败时释放连接。
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrDraining
	}
	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return err
		}
	}
	start := time.Now()
	_, err := c.rpc.Init(ctx, &devicerpc.InitRequest{})
	c.metrics.observeCall("Init", err, time.Since(start))
	if err != nil {
		c.disconnectLocked()
		return remoteError(err)
	}
	return nil
}

func (c *Client) connectLocked(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	conn, err := c.dialer(dialCtx, c.cfg)
	if err != nil {
		c.breaker.record(err)
		return fmt.Errorf("dial device %s: %w", c.cfg.Endpoint, err)
	}
	if err := c.checkHealth(ctx, conn); err != nil {
		_ = conn.Close()
		c.breaker.record(err)
		return err
	}
	watchCtx, stop := context.WithCancel(context.Background())
	c.conn = conn
	c.rpc = devicerpc.NewDeviceServiceClient(conn)
	c.cancel = stop
	go c.watchConnectivity(watchCtx, conn)
	go c.healthProbe(watchCtx, conn)
	c.logger.Info("device connected", slog.String("endpoint", c.cfg.Endpoint))
	return nil
}

func (c *Client) disconnectLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.rpc = nil
	}
}

func (c *Client) checkHealth(ctx context.Context, conn *grpc.ClientConn) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(probeCtx, &healthpb.HealthCheckRequest{Service: c.cfg.HealthService})
	if err != nil {
		return fmt.Errorf("device health check: %w", remoteError(err))
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("device not serving: %s", resp.GetStatus())
	}
	return nil
}

// Close 停止后台协程并关闭连接，之后所有调用返回 ErrDraining。
func (c *Client) Close() error {
	c.breaker.drain()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.disconnectLocked()
	return nil
}

// GetKeys 调用远端 GetKeys。
func (c *Client) GetKeys(ctx context.Context, paths []string) ([]transport.Key, error) {
	var keys []transport.Key
	err := c.call(ctx, "GetKeys", func(rpc devicerpc.DeviceServiceClient) error {
		resp, err := rpc.GetKeys(ctx, &devicerpc.GetKeysRequest{Paths: paths})
		if err == nil {
			keys = resp.Keys
		}
		return err
	})
	return keys, err
}

// SignTransaction 调用远端 SignTransaction。
func (c *Client) SignTransaction(ctx context.Context, path, rawTx string, isLegacyTx bool) (transport.Signature, error) {
	return c.sign(ctx, "SignTransaction", func(rpc devicerpc.DeviceServiceClient) (*devicerpc.SignResponse, error) {
		return rpc.SignTransaction(ctx, &devicerpc.SignTransactionRequest{Path: path, RawTx: rawTx, IsLegacyTx: isLegacyTx})
	})
}

// SignPersonalMessage 调用远端 SignPersonalMessage。
func (c *Client) SignPersonalMessage(ctx context.Context, path, message string) (transport.Signature, error) {
	return c.sign(ctx, "SignPersonalMessage", func(rpc devicerpc.DeviceServiceClient) (*devicerpc.SignResponse, error) {
		return rpc.SignPersonalMessage(ctx, &devicerpc.SignPersonalMessageRequest{Path: path, Message: message})
	})
}

// SignEIP712Message 调用远端 SignEIP712Message，jsonMessage 原样透传。
func (c *Client) SignEIP712Message(ctx context.Context, path string, jsonMessage json.RawMessage) (transport.Signature, error) {
	return c.sign(ctx, "SignEIP712Message", func(rpc devicerpc.DeviceServiceClient) (*devicerpc.SignResponse, error) {
		return rpc.SignEIP712Message(ctx, &devicerpc.SignEIP712MessageRequest{Path: path, JSONMessage: jsonMessage})
	})
}

func (c *Client) sign(ctx context.Context, method string, fn func(devicerpc.DeviceServiceClient) (*devicerpc.SignResponse, error)) (transport.Signature, error) {
	var sig transport.Signature
	err := c.call(ctx, method, func(rpc devicerpc.DeviceServiceClient) error {
		resp, err := fn(rpc)
		if err == nil {
			sig = resp.Signature
		}
		return err
	})
	return sig, err
}

func (c *Client) call(ctx context.Context, method string, fn func(devicerpc.DeviceServiceClient) error) error {
	if !c.breaker.allow() {
		return ErrDraining
	}
	c.mu.Lock()
	rpc := c.rpc
	c.mu.Unlock()
	if rpc == nil {
		return ErrNotConnected
	}
	start := time.Now()
	err := fn(rpc)
	c.metrics.observeCall(method, err, time.Since(start))
	if isLinkFailure(err) {
		c.breaker.record(err)
	} else {
		c.breaker.record(nil)
	}
	if err != nil {
		return remoteError(err)
	}
	return nil
}

func (c *Client) watchConnectivity(ctx context.Context, conn *grpc.ClientConn) {
	backoff := NewBackoff(c.cfg.Backoff)
	for {
		state := conn.GetState()
		if state == connectivity.Shutdown {
			return
		}
		if !conn.WaitForStateChange(ctx, state) {
			return
		}
		switch conn.GetState() {
		case connectivity.TransientFailure:
			c.metrics.incReset()
			c.breaker.record(errLinkReset)
			select {
			case <-time.After(backoff.Next()):
				conn.ResetConnectBackoff()
			case <-ctx.Done():
				return
			}
		case connectivity.Ready:
			backoff.Reset()
			c.breaker.record(nil)
		}
	}
}

func (c *Client) healthProbe(ctx context.Context, conn *grpc.ClientConn) {
	ticker := time.NewTicker(c.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.checkHealth(ctx, conn)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				c.logger.Warn("device health degraded", slog.String("endpoint", c.cfg.Endpoint), slog.Any("err", err))
			}
			c.breaker.record(err)
		}
	}
}

var errLinkReset = errors.New("device link reset")

// isLinkFailure 区分链路故障与设备业务错误，只有前者计入熔断。
func isLinkFailure(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

// remoteError 把 gRPC status 还原为设备原始文本。
func remoteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	return &RemoteError{Code: st.Code(), Message: st.Message()}
}
