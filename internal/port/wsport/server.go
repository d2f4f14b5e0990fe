package wsport

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/aegis-sign/keystone-bridge/internal/bridge"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 64 << 20
	defaultHeartbeat    = 30 * time.Second
)

type options struct {
	logger         *slog.Logger
	readTimeout    time.Duration
	writeTimeout   time.Duration
	readLimit      int64
	heartbeat      time.Duration
	allowedOrigins []string
}

// Option 定制 Server。
type Option func(*options)

// WithLogger 注入 slog Logger。
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTimeouts 设置读/写超时，读超时由 pong 续期。
func WithTimeouts(read, write time.Duration) Option {
	return func(o *options) {
		if read > 0 {
			o.readTimeout = read
		}
		if write > 0 {
			o.writeTimeout = write
		}
	}
}

// WithReadLimit 限制单帧入站大小。
func WithReadLimit(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.readLimit = n
		}
	}
}

// WithHeartbeat 设置 ping 间隔。
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.heartbeat = d
		}
	}
}

// WithAllowedOrigins 限制可连接的 Origin，空列表表示不限制。
func WithAllowedOrigins(origins []string) Option {
	return func(o *options) { o.allowedOrigins = slices.Clone(origins) }
}

// Server 接受宿主页面的 WebSocket 连接，同一时刻只保留一个父连接，新连接会顶替旧连接。
// 所有连接共享同一个 Listener，因此共享会话与初始化状态。
type Server struct {
	listener *bridge.Listener
	opts     options
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	current *conn
}

// NewServer 构造 Server。
func NewServer(listener *bridge.Listener, opts ...Option) *Server {
	o := options{
		logger:       slog.Default(),
		readTimeout:  defaultReadTimeout,
		writeTimeout: defaultWriteTimeout,
		readLimit:    defaultReadLimit,
		heartbeat:    defaultHeartbeat,
	}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{listener: listener, opts: o, ctx: ctx, cancel: cancel}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.allowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.opts.allowedOrigins, r.Header.Get("Origin"))
}

// ServeHTTP 升级连接并交给 Listener 处理。
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.opts.logger.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}
	// 停止检查与 wg.Add 同在锁内，Stop 取锁后不会再有新连接加入。
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopped")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}
	c := newConn(uuid.NewString(), ws, s.opts, s.handleClosed)
	replaced := s.current
	s.current = c
	s.wg.Add(1)
	s.mu.Unlock()
	if replaced != nil {
		replaced.shutdown("replaced by new connection")
	}
	s.opts.logger.Info("bridge parent connected", slog.String("conn", c.id), slog.String("origin", r.Header.Get("Origin")))

	go func() {
		defer s.wg.Done()
		if err := s.listener.Serve(s.ctx, c); err != nil {
			s.opts.logger.Warn("bridge connection ended", slog.String("conn", c.id), slog.Any("err", err))
		}
		c.close(bridge.ErrPortClosed)
	}()
}

func (s *Server) handleClosed(c *conn, cause error) {
	s.mu.Lock()
	if s.current == c {
		s.current = nil
	}
	s.mu.Unlock()
	s.opts.logger.Info("bridge parent disconnected", slog.String("conn", c.id), slog.Any("cause", cause))
}

// Connected 报告当前是否存在父连接。
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Stop 关闭当前连接并等待其在飞请求结束，或直到 ctx 到期。
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	if c != nil {
		c.shutdown("server stopped")
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
