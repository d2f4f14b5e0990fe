package wsport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aegis-sign/keystone-bridge/internal/bridge"
	"github.com/gorilla/websocket"
)

// conn 把一条 WebSocket 连接适配为 bridge.Port。
type conn struct {
	id           string
	ws           *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
	onClose   func(*conn, error)
}

var _ bridge.Port = (*conn)(nil)

func newConn(id string, ws *websocket.Conn, opts options, onClose func(*conn, error)) *conn {
	c := &conn{
		id:           id,
		ws:           ws,
		readTimeout:  opts.readTimeout,
		writeTimeout: opts.writeTimeout,
		closed:       make(chan struct{}),
		onClose:      onClose,
	}
	ws.SetReadLimit(opts.readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	})
	go c.heartbeat(opts.heartbeat)
	return c
}

// Receive 返回下一帧的原始内容，连接关闭后返回 bridge.ErrPortClosed。
func (c *conn) Receive(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			c.close(err)
			return nil, fmt.Errorf("%w: %v", bridge.ErrPortClosed, err)
		}
		// 入站消息按帧独立，任何数据帧都交给 listener 过滤。
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
			return data, nil
		}
	}
}

// Post 串行写出一帧文本消息。
func (c *conn) Post(_ context.Context, data []byte) error {
	select {
	case <-c.closed:
		return bridge.ErrPortClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *conn) heartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.close(err)
				return
			}
		}
	}
}

// shutdown 发送 close 帧后关闭连接。
func (c *conn) shutdown(reason string) {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	c.writeMu.Unlock()
	c.close(errors.New(reason))
}

func (c *conn) close(cause error) {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
		if c.onClose != nil {
			c.onClose(c, cause)
		}
	})
}
