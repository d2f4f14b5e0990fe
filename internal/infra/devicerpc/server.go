package devicerpc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aegis-sign/keystone-bridge/internal/app/transport"
	"github.com/aegis-sign/keystone-bridge/pkg/apierrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DeviceServiceServer 是设备服务的服务端接口。
type DeviceServiceServer interface {
	Init(ctx context.Context, req *InitRequest) (*InitResponse, error)
	GetKeys(ctx context.Context, req *GetKeysRequest) (*GetKeysResponse, error)
	SignTransaction(ctx context.Context, req *SignTransactionRequest) (*SignResponse, error)
	SignPersonalMessage(ctx context.Context, req *SignPersonalMessageRequest) (*SignResponse, error)
	SignEIP712Message(ctx context.Context, req *SignEIP712MessageRequest) (*SignResponse, error)
}

// RegisterDeviceServiceServer 将实现注册到 gRPC server。
func RegisterDeviceServiceServer(s grpc.ServiceRegistrar, srv DeviceServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DeviceServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Init", Handler: unaryHandler(methodInit, func(s DeviceServiceServer, ctx context.Context, req *InitRequest) (any, error) {
			return s.Init(ctx, req)
		})},
		{MethodName: "GetKeys", Handler: unaryHandler(methodGetKeys, func(s DeviceServiceServer, ctx context.Context, req *GetKeysRequest) (any, error) {
			return s.GetKeys(ctx, req)
		})},
		{MethodName: "SignTransaction", Handler: unaryHandler(methodSignTransaction, func(s DeviceServiceServer, ctx context.Context, req *SignTransactionRequest) (any, error) {
			return s.SignTransaction(ctx, req)
		})},
		{MethodName: "SignPersonalMessage", Handler: unaryHandler(methodSignPersonalMessage, func(s DeviceServiceServer, ctx context.Context, req *SignPersonalMessageRequest) (any, error) {
			return s.SignPersonalMessage(ctx, req)
		})},
		{MethodName: "SignEIP712Message", Handler: unaryHandler(methodSignEIP712Message, func(s DeviceServiceServer, ctx context.Context, req *SignEIP712MessageRequest) (any, error) {
			return s.SignEIP712Message(ctx, req)
		})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "keystone/device/v1/device.json",
}

func unaryHandler[Req any](fullMethod string, call func(DeviceServiceServer, context.Context, *Req) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		impl := srv.(DeviceServiceServer)
		if interceptor == nil {
			return call(impl, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(impl, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// DeviceServer 将 transport.Device 暴露为设备服务，供守护进程与集成测试使用。
type DeviceServer struct {
	device transport.Device
	logger *slog.Logger
}

// NewDeviceServer 构造 DeviceServer。
func NewDeviceServer(device transport.Device, logger *slog.Logger) *DeviceServer {
	if device == nil {
		panic("device is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceServer{device: device, logger: logger}
}

// Init 透传到设备。
func (s *DeviceServer) Init(ctx context.Context, _ *InitRequest) (*InitResponse, error) {
	if err := s.device.Init(ctx); err != nil {
		return nil, s.grpcError("Init", err)
	}
	return &InitResponse{}, nil
}

// GetKeys 校验请求并调用设备。
func (s *DeviceServer) GetKeys(ctx context.Context, req *GetKeysRequest) (*GetKeysResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	keys, err := s.device.GetKeys(ctx, req.Paths)
	if err != nil {
		return nil, s.grpcError("GetKeys", err)
	}
	return &GetKeysResponse{Keys: keys}, nil
}

// SignTransaction 透传到设备。
func (s *DeviceServer) SignTransaction(ctx context.Context, req *SignTransactionRequest) (*SignResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	sig, err := s.device.SignTransaction(ctx, req.Path, req.RawTx, req.IsLegacyTx)
	if err != nil {
		return nil, s.grpcError("SignTransaction", err)
	}
	return &SignResponse{Signature: sig}, nil
}

// SignPersonalMessage 透传到设备。
func (s *DeviceServer) SignPersonalMessage(ctx context.Context, req *SignPersonalMessageRequest) (*SignResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	sig, err := s.device.SignPersonalMessage(ctx, req.Path, req.Message)
	if err != nil {
		return nil, s.grpcError("SignPersonalMessage", err)
	}
	return &SignResponse{Signature: sig}, nil
}

// SignEIP712Message 透传到设备。
func (s *DeviceServer) SignEIP712Message(ctx context.Context, req *SignEIP712MessageRequest) (*SignResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	sig, err := s.device.SignEIP712Message(ctx, req.Path, req.JSONMessage)
	if err != nil {
		return nil, s.grpcError("SignEIP712Message", err)
	}
	return &SignResponse{Signature: sig}, nil
}

// grpcError 保留设备错误文本作为 status message。
// 设备业务错误（用户拒绝、设备断开等）一律用 Aborted，Unavailable 只留给链路本身。
func (s *DeviceServer) grpcError(method string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	s.logger.Warn("device call failed", slog.String("method", method), slog.Any("err", err))
	code := codes.Aborted
	if apiErr, ok := apierrors.FromError(err); ok && apiErr.Code != apierrors.CodeTransport {
		code = apierrors.GRPCStatus(apiErr.Code)
	}
	return status.Error(code, err.Error())
}
