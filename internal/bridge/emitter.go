package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aegis-sign/keystone-bridge/pkg/apierrors"
)

// ErrPortClosed 表示端口已关闭，无法继续收发。
var ErrPortClosed = errors.New("bridge port closed")

// Poster 把序列化后的回复投递给宿主。
type Poster interface {
	Post(ctx context.Context, data []byte) error
}

// Port 是 bridge 唯一的入站通道及其配对的出站通道。
// Receive 在端口关闭时返回 io.EOF 或 ErrPortClosed。
type Port interface {
	Poster
	Receive(ctx context.Context) ([]byte, error)
}

// Emitter 负责序列化并发送回复，发送失败只记录日志，不重试。
type Emitter struct {
	poster  Poster
	logger  *slog.Logger
	metrics *Metrics
}

// NewEmitter 构造绑定到 poster 的 Emitter。
func NewEmitter(poster Poster, logger *slog.Logger, metrics *Metrics) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{poster: poster, logger: logger, metrics: metrics}
}

// Send 序列化 reply 并投递，messageId 原样回显（不做 HTML 转义）。
// 成功回复无法编码时改发 INTERNAL 错误回复，保证请求仍有应答。
func (e *Emitter) Send(ctx context.Context, reply Reply) error {
	data, err := EncodeReply(reply)
	if err != nil && reply.Success {
		e.logger.Warn("encode reply failed, sending error reply", slog.String("action", reply.Action), slog.Any("err", err))
		reply = ErrorReply(reply.Action, reply.MessageID, apierrors.Wrap(apierrors.CodeInternal, err))
		data, err = EncodeReply(reply)
	}
	if err != nil {
		e.metrics.incPostFailure()
		e.logger.Warn("encode reply failed", slog.String("action", reply.Action), slog.Any("err", err))
		return err
	}
	if err := e.poster.Post(ctx, data); err != nil {
		e.metrics.incPostFailure()
		e.logger.Warn("post reply failed", slog.String("action", reply.Action), slog.String("message_id", string(reply.MessageID)), slog.Any("err", err))
		return err
	}
	return nil
}

// EncodeReply 将回复编码为单个 JSON 对象，不带结尾换行。
// 字段顺序固定为 action、success、messageId、payload、error；
// messageId 直接写入原始字节，不经过重新编码。
func EncodeReply(reply Reply) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"action":`)
	if err := writeValue(&buf, reply.Action); err != nil {
		return nil, err
	}
	buf.WriteString(`,"success":`)
	buf.WriteString(strconv.FormatBool(reply.Success))
	if len(reply.MessageID) > 0 {
		if !json.Valid(reply.MessageID) {
			return nil, fmt.Errorf("encode reply: invalid messageId %q", reply.MessageID)
		}
		buf.WriteString(`,"messageId":`)
		buf.Write(reply.MessageID)
	}
	if reply.Payload != nil {
		buf.WriteString(`,"payload":`)
		if err := writeValue(&buf, reply.Payload); err != nil {
			return nil, err
		}
	}
	if reply.Error != "" {
		buf.WriteString(`,"error":`)
		if err := writeValue(&buf, reply.Error); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}
