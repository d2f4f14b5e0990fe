package mockdevice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/aegis-sign/keystone-bridge/internal/app/transport"
)

// Device 是内存中的设备替身，用于演练/单测。
// 各 Fn 字段为空时使用确定性的占位结果，签名内容不具备密码学意义。
type Device struct {
	InitFn                func(ctx context.Context) error
	GetKeysFn             func(ctx context.Context, paths []string) ([]transport.Key, error)
	SignTransactionFn     func(ctx context.Context, path, rawTx string, isLegacyTx bool) (transport.Signature, error)
	SignPersonalMessageFn func(ctx context.Context, path, message string) (transport.Signature, error)
	SignEIP712MessageFn   func(ctx context.Context, path string, jsonMessage json.RawMessage) (transport.Signature, error)

	initCalls     atomic.Int64
	getKeysCalls  atomic.Int64
	signTxCalls   atomic.Int64
	personalCalls atomic.Int64
	eip712Calls   atomic.Int64
	initialized   atomic.Bool
}

var errNotInitialized = errors.New("mock device not initialized")

// New 返回默认行为的 mock 设备。
func New() *Device { return &Device{} }

// Factory 返回总是产出同一个 Device 的 transport.Factory，并统计构造次数。
func Factory(d *Device, constructed *atomic.Int64) transport.Factory {
	return func() (transport.Device, error) {
		if constructed != nil {
			constructed.Add(1)
		}
		return d, nil
	}
}

// Init 记录调用并标记就绪。
func (d *Device) Init(ctx context.Context) error {
	d.initCalls.Add(1)
	if d.InitFn != nil {
		if err := d.InitFn(ctx); err != nil {
			return err
		}
	}
	d.initialized.Store(true)
	return nil
}

// GetKeys 返回每条路径的占位公钥。
func (d *Device) GetKeys(ctx context.Context, paths []string) ([]transport.Key, error) {
	d.getKeysCalls.Add(1)
	if d.GetKeysFn != nil {
		return d.GetKeysFn(ctx, paths)
	}
	if !d.initialized.Load() {
		return nil, errNotInitialized
	}
	keys := make([]transport.Key, 0, len(paths))
	for _, p := range paths {
		keys = append(keys, transport.Key{Path: p, PublicKey: digestHex("pub", p)})
	}
	return keys, nil
}

// SignTransaction 返回 {r,s,v} 形式的占位签名。
func (d *Device) SignTransaction(ctx context.Context, path, rawTx string, isLegacyTx bool) (transport.Signature, error) {
	d.signTxCalls.Add(1)
	if d.SignTransactionFn != nil {
		return d.SignTransactionFn(ctx, path, rawTx, isLegacyTx)
	}
	if !d.initialized.Load() {
		return nil, errNotInitialized
	}
	v := "0x1"
	if isLegacyTx {
		v = "0x1b"
	}
	return json.Marshal(map[string]string{
		"r": digestHex("r", path, rawTx),
		"s": digestHex("s", path, rawTx),
		"v": v,
	})
}

// SignPersonalMessage 返回十六进制字符串形式的占位签名。
func (d *Device) SignPersonalMessage(ctx context.Context, path, message string) (transport.Signature, error) {
	d.personalCalls.Add(1)
	if d.SignPersonalMessageFn != nil {
		return d.SignPersonalMessageFn(ctx, path, message)
	}
	if !d.initialized.Load() {
		return nil, errNotInitialized
	}
	return json.Marshal(digestHex("personal", path, message))
}

// SignEIP712Message 返回十六进制字符串形式的占位签名。
func (d *Device) SignEIP712Message(ctx context.Context, path string, jsonMessage json.RawMessage) (transport.Signature, error) {
	d.eip712Calls.Add(1)
	if d.SignEIP712MessageFn != nil {
		return d.SignEIP712MessageFn(ctx, path, jsonMessage)
	}
	if !d.initialized.Load() {
		return nil, errNotInitialized
	}
	return json.Marshal(digestHex("eip712", path, string(jsonMessage)))
}

// Calls 返回各方法调用次数快照。
func (d *Device) Calls() Calls {
	return Calls{
		Init:                d.initCalls.Load(),
		GetKeys:             d.getKeysCalls.Load(),
		SignTransaction:     d.signTxCalls.Load(),
		SignPersonalMessage: d.personalCalls.Load(),
		SignEIP712Message:   d.eip712Calls.Load(),
	}
}

// Calls 汇总 mock 设备的调用计数。
type Calls struct {
	Init                int64
	GetKeys             int64
	SignTransaction     int64
	SignPersonalMessage int64
	SignEIP712Message   int64
}

func digestHex(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(strconv.Itoa(len(p))))
		_, _ = h.Write([]byte(p))
	}
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
