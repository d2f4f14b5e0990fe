package apierrors

import (
	"errors"

	"google.golang.org/grpc/codes"
)

// Code 表示 bridge 统一错误码。
type Code string

const (
	CodeUninitialized    Code = "UNINITIALIZED"
	CodeMalformedRequest Code = "MALFORMED_REQUEST"
	CodeTransport        Code = "TRANSPORT"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeTimeout          Code = "TIMEOUT"
	CodeInternal         Code = "INTERNAL"
)

var grpcStatusMap = map[Code]codes.Code{
	CodeUninitialized:    codes.FailedPrecondition,
	CodeMalformedRequest: codes.InvalidArgument,
	CodeTransport:        codes.Unavailable,
	CodeRateLimited:      codes.ResourceExhausted,
	CodeTimeout:          codes.DeadlineExceeded,
}

// Error 表示带统一错误码的业务错误。
type Error struct {
	Code    Code
	Message string
	cause   error
}

// New 创建一个新的业务错误。
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap 以 cause 的文本作为消息创建错误，并保留 cause 供 errors.Is/As 使用。
func Wrap(code Code, cause error) *Error {
	if cause == nil {
		return New(code, string(code))
	}
	return &Error{Code: code, Message: cause.Error(), cause: cause}
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap 返回被包装的原始错误。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// FromError 尝试从通用 error 中解析业务错误。
func FromError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// CodeOf 返回 err 对应的错误码，非业务错误视为 TRANSPORT（由外部设备库抛出）。
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if apiErr, ok := FromError(err); ok {
		return apiErr.Code
	}
	return CodeTransport
}

// GRPCStatus 返回对应的 gRPC code，未知错误默认 Unknown。
func GRPCStatus(code Code) codes.Code {
	if status, ok := grpcStatusMap[code]; ok {
		return status
	}
	return codes.Unknown
}
