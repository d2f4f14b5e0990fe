package devicerpc

import (
	"context"
	"encoding/json"

	"github.com/aegis-sign/keystone-bridge/internal/app/transport"
	"google.golang.org/grpc"
)

// ServiceName 是硬件守护进程暴露的 gRPC 服务名。
const ServiceName = "keystone.device.v1.DeviceService"

const (
	methodInit                = "/" + ServiceName + "/Init"
	methodGetKeys             = "/" + ServiceName + "/GetKeys"
	methodSignTransaction     = "/" + ServiceName + "/SignTransaction"
	methodSignPersonalMessage = "/" + ServiceName + "/SignPersonalMessage"
	methodSignEIP712Message   = "/" + ServiceName + "/SignEIP712Message"
)

type InitRequest struct{}

type InitResponse struct{}

type GetKeysRequest struct {
	Paths []string `json:"paths"`
}

type GetKeysResponse struct {
	Keys []transport.Key `json:"keys"`
}

type SignTransactionRequest struct {
	Path       string `json:"path"`
	RawTx      string `json:"rawTx"`
	IsLegacyTx bool   `json:"isLegacyTx"`
}

type SignPersonalMessageRequest struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

type SignEIP712MessageRequest struct {
	Path        string          `json:"path"`
	JSONMessage json.RawMessage `json:"jsonMessage"`
}

// SignResponse 携带设备返回的原始签名。
type SignResponse struct {
	Signature json.RawMessage `json:"signature"`
}

// DeviceServiceClient 是设备服务的客户端。
type DeviceServiceClient interface {
	Init(ctx context.Context, in *InitRequest, opts ...grpc.CallOption) (*InitResponse, error)
	GetKeys(ctx context.Context, in *GetKeysRequest, opts ...grpc.CallOption) (*GetKeysResponse, error)
	SignTransaction(ctx context.Context, in *SignTransactionRequest, opts ...grpc.CallOption) (*SignResponse, error)
	SignPersonalMessage(ctx context.Context, in *SignPersonalMessageRequest, opts ...grpc.CallOption) (*SignResponse, error)
	SignEIP712Message(ctx context.Context, in *SignEIP712MessageRequest, opts ...grpc.CallOption) (*SignResponse, error)
}

type deviceServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewDeviceServiceClient 基于连接构造客户端，所有调用使用 JSON content-subtype。
func NewDeviceServiceClient(cc grpc.ClientConnInterface) DeviceServiceClient {
	return &deviceServiceClient{cc: cc}
}

func (c *deviceServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *deviceServiceClient) Init(ctx context.Context, in *InitRequest, opts ...grpc.CallOption) (*InitResponse, error) {
	out := new(InitResponse)
	if err := c.invoke(ctx, methodInit, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *deviceServiceClient) GetKeys(ctx context.Context, in *GetKeysRequest, opts ...grpc.CallOption) (*GetKeysResponse, error) {
	out := new(GetKeysResponse)
	if err := c.invoke(ctx, methodGetKeys, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *deviceServiceClient) SignTransaction(ctx context.Context, in *SignTransactionRequest, opts ...grpc.CallOption) (*SignResponse, error) {
	out := new(SignResponse)
	if err := c.invoke(ctx, methodSignTransaction, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *deviceServiceClient) SignPersonalMessage(ctx context.Context, in *SignPersonalMessageRequest, opts ...grpc.CallOption) (*SignResponse, error) {
	out := new(SignResponse)
	if err := c.invoke(ctx, methodSignPersonalMessage, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *deviceServiceClient) SignEIP712Message(ctx context.Context, in *SignEIP712MessageRequest, opts ...grpc.CallOption) (*SignResponse, error) {
	out := new(SignResponse)
	if err := c.invoke(ctx, methodSignEIP712Message, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
