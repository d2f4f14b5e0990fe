package devicerpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(Codec{})
}

// CodecName 是设备服务使用的 gRPC content-subtype。
const CodecName = "json"

// Codec 使用 JSON 编解码设备服务消息，双方无需生成桩代码。
// 按 content-subtype 注册，同一连接上的 health 服务仍走 proto。
type Codec struct{}

// Marshal 实现 encoding.Codec。
func (Codec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("devicerpc marshal: %w", err)
	}
	return data, nil
}

// Unmarshal 实现 encoding.Codec。
func (Codec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("devicerpc unmarshal: %w", err)
	}
	return nil
}

// Name 实现 encoding.Codec。
func (Codec) Name() string { return CodecName }
