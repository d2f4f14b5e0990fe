package transport

import (
	"context"
	"encoding/json"
)

// Key 是设备针对单条派生路径导出的公钥记录。
type Key struct {
	Path      string `json:"path"`
	PublicKey string `json:"publicKey"`
	// ChainCode 仅在设备返回扩展公钥时存在。
	ChainCode string `json:"chainCode,omitempty"`
}

// Signature 是设备返回的签名结果，原样透传给调用方。
type Signature = json.RawMessage

// Device 抽象外部硬件钱包签名库的句柄。
// 所有方法都可能因硬件 I/O 而阻塞，失败时返回带可读消息的 error。
type Device interface {
	Init(ctx context.Context) error
	GetKeys(ctx context.Context, paths []string) ([]Key, error)
	SignTransaction(ctx context.Context, path, rawTx string, isLegacyTx bool) (Signature, error)
	SignPersonalMessage(ctx context.Context, path, message string) (Signature, error)
	SignEIP712Message(ctx context.Context, path string, jsonMessage json.RawMessage) (Signature, error)
}

// Factory 构造一个尚未初始化的设备句柄，构造过程不应触发硬件 I/O。
type Factory func() (Device, error)
