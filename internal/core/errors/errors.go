// Package errors 提供统一的错误处理机制
//
// 所有错误都可以通过 errors.Is() / errors.As() 检查，
// 相同错误码的 *Error 视为相等，Cause 参与错误链。
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

// 错误码定义
const (
	// 请求/配置错误
	CodeInvalidParam  ErrorCode = "INVALID_PARAM"
	CodeConfigError   ErrorCode = "CONFIG_ERROR"
	CodeNotConfigured ErrorCode = "NOT_CONFIGURED"

	// 系统错误
	CodeInternal ErrorCode = "INTERNAL_ERROR"
	CodeTimeout  ErrorCode = "TIMEOUT"

	// 流/连接错误
	CodeStreamClosed    ErrorCode = "STREAM_CLOSED"
	CodeBrokenPipe      ErrorCode = "BROKEN_PIPE" // 共享流锁已中毒，所有句柄不可再用
	CodeConnectionError ErrorCode = "CONNECTION_ERROR"
	CodeNetworkError    ErrorCode = "NETWORK_ERROR"
	CodeProtocolError   ErrorCode = "PROTOCOL_ERROR"
)

// DetailValue 详情值，支持字符串和整数，hasXxx 区分零值和未设置
type DetailValue struct {
	strVal string
	intVal int64
	hasStr bool
	hasInt bool
}

// NewStringDetail 创建字符串类型详情值
func NewStringDetail(s string) DetailValue {
	return DetailValue{strVal: s, hasStr: true}
}

// NewIntDetail 创建整数类型详情值
func NewIntDetail(i int64) DetailValue {
	return DetailValue{intVal: i, hasInt: true}
}

// String 获取字符串值（如果是整数则转换为字符串）
func (d DetailValue) String() string {
	if d.hasStr {
		return d.strVal
	}
	if d.hasInt {
		return fmt.Sprintf("%d", d.intVal)
	}
	return ""
}

// Int 获取整数值和是否存在的标记
func (d DetailValue) Int() (int64, bool) {
	return d.intVal, d.hasInt
}

// IsString 返回是否为字符串类型
func (d DetailValue) IsString() bool {
	return d.hasStr
}

// IsInt 返回是否为整数类型
func (d DetailValue) IsInt() bool {
	return d.hasInt
}

// Error 统一错误类型
type Error struct {
	Code    ErrorCode              // 错误码
	Message string                 // 错误消息
	Cause   error                  // 原始错误
	Details map[string]DetailValue // 额外详情（类型安全）
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 支持 errors.Is 进行错误码比较
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetailString 添加字符串类型详情
func (e *Error) WithDetailString(key string, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]DetailValue)
	}
	e.Details[key] = NewStringDetail(value)
	return e
}

// WithDetailInt 添加整数类型详情
func (e *Error) WithDetailInt(key string, value int64) *Error {
	if e.Details == nil {
		e.Details = make(map[string]DetailValue)
	}
	e.Details[key] = NewIntDetail(value)
	return e
}

// GetDetailString 获取字符串类型详情（任意类型都会转为字符串）
func (e *Error) GetDetailString(key string) string {
	if e.Details == nil {
		return ""
	}
	if v, ok := e.Details[key]; ok {
		return v.String()
	}
	return ""
}

// GetDetailInt 获取整数类型详情
func (e *Error) GetDetailInt(key string) (int64, bool) {
	if e.Details == nil {
		return 0, false
	}
	if v, ok := e.Details[key]; ok {
		return v.Int()
	}
	return 0, false
}

// New 创建新错误
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf 创建格式化错误
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf 格式化包装错误
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// GetCode 从错误中提取错误码
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode 检查错误是否为指定错误码
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Is 重导出 errors.Is
var Is = errors.Is

// As 重导出 errors.As
var As = errors.As

// NewStreamError 创建流错误
func NewStreamError(operation, message string, cause error) *Error {
	return &Error{
		Code:    CodeStreamClosed,
		Message: fmt.Sprintf("[%s] %s", operation, message),
		Cause:   cause,
	}
}
