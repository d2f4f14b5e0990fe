package nativemsg

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aegis-sign/keystone-bridge/internal/bridge"
)

const (
	// MaxOutbound 是浏览器接受的单条宿主消息上限。
	MaxOutbound = 1 << 20
	// MaxInbound 是浏览器发往宿主的单条消息上限。
	MaxInbound = 64 << 20

	headerSize = 4
)

var (
	// ErrFrameTooLarge 表示帧长度超过方向上限。
	ErrFrameTooLarge = errors.New("native message frame too large")
	// ErrTruncatedFrame 表示读到一半的帧。
	ErrTruncatedFrame = errors.New("native message frame truncated")
)

// Port 实现浏览器 native messaging 的成帧：4 字节本机字节序长度前缀加 UTF-8 JSON。
type Port struct {
	r *bufio.Reader
	w io.Writer

	readMu  sync.Mutex
	writeMu sync.Mutex
	header  [headerSize]byte
}

var _ bridge.Port = (*Port)(nil)

// New 基于 r/w 构造 Port，通常是 os.Stdin/os.Stdout。
func New(r io.Reader, w io.Writer) *Port {
	return &Port{r: bufio.NewReader(r), w: w}
}

// Receive 读取下一帧。对端关闭时返回 io.EOF。
// 读取本身不可取消，ctx 只在读取前检查。
func (p *Port) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.readMu.Lock()
	defer p.readMu.Unlock()
	if _, err := io.ReadFull(p.r, p.header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: header: %v", ErrTruncatedFrame, err)
	}
	size := binary.NativeEndian.Uint32(p.header[:])
	if size > MaxInbound {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(p.r, data); err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrTruncatedFrame, err)
	}
	return data, nil
}

// Post 写出一帧，超过 MaxOutbound 的回复直接拒绝。
func (p *Port) Post(_ context.Context, data []byte) error {
	if len(data) > MaxOutbound {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	frame := make([]byte, headerSize+len(data))
	binary.NativeEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[headerSize:], data)
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.w.Write(frame); err != nil {
		return fmt.Errorf("write native message: %w", err)
	}
	return nil
}
