package errors

import "syscall"

// 预定义哨兵错误（用于 errors.Is 比较）
var (
	ErrInvalidParam  = New(CodeInvalidParam, "invalid parameter")
	ErrConfigError   = New(CodeConfigError, "invalid configuration")
	ErrNotConfigured = New(CodeNotConfigured, "not configured")

	ErrInternal = New(CodeInternal, "internal error")
	ErrTimeout  = New(CodeTimeout, "operation timeout")

	ErrStreamClosed    = New(CodeStreamClosed, "stream closed")
	ErrConnectionError = New(CodeConnectionError, "connection error")
	ErrNetworkError    = New(CodeNetworkError, "network error")
	ErrProtocolError   = New(CodeProtocolError, "protocol error")

	// ErrBrokenPipe 同时匹配 syscall.EPIPE
	ErrBrokenPipe = Wrap(syscall.EPIPE, CodeBrokenPipe, "broken pipe")
)

// NewBrokenPipe 创建带操作名的 broken pipe 错误
func NewBrokenPipe(op string) *Error {
	return Wrapf(syscall.EPIPE, CodeBrokenPipe, "shared stream %s: lock poisoned", op).
		WithDetailString("op", op)
}

// IsBrokenPipe 检查是否为 broken pipe（包括底层 EPIPE）
func IsBrokenPipe(err error) bool {
	return Is(err, ErrBrokenPipe) || Is(err, syscall.EPIPE)
}

// IsFatal 检查错误是否使连接不可恢复，调用方应拆除并重连
func IsFatal(err error) bool {
	return IsBrokenPipe(err) || IsCode(err, CodeStreamClosed)
}

// IsRetryable 检查错误是否可重试
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeNetworkError:
		return true
	default:
		return false
	}
}
