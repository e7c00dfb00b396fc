package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode 是一个字符串类型，用于表示持久化缓存层中所有预定义的错误类别。
type ErrorCode string

// 标准错误代码常量定义了缓存层中可能出现的各种错误。
const (
	// ErrCacheMiss 表示在缓存中未找到请求的条目。
	ErrCacheMiss ErrorCode = "CACHE_MISS"

	// ErrStoreNotFound 表示后端存储中不存在该键。
	ErrStoreNotFound ErrorCode = "STORE_NOT_FOUND"
	// ErrStorageUnavailable 表示后端存储不可达或发生了I/O错误。
	ErrStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	// ErrStorageQuotaExceeded 表示后端存储因容量原因拒绝了写入。
	ErrStorageQuotaExceeded ErrorCode = "STORAGE_QUOTA_EXCEEDED"

	// ErrSerializeFailed 表示序列化操作失败。
	ErrSerializeFailed ErrorCode = "SERIALIZE_FAILED"
	// ErrDeserializeFailed 表示反序列化操作失败。
	ErrDeserializeFailed ErrorCode = "DESERIALIZE_FAILED"

	// ErrConfigInvalid 表示配置无效（如 TTL 或 MaxSize 非正数）。
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"
)

// Error 是缓存层的基础错误类型，携带分类代码和可选的上下文信息。
// 调用方通过 Code 或 errors.Is 进行错误分类匹配，而不是检查消息字符串。
type Error struct {
	Code      ErrorCode              `json:"code"`              // 错误的分类代码
	Message   string                 `json:"message"`           // 人类可读的错误信息
	Cause     error                  `json:"-"`                 // 导致此错误的原始错误
	Context   map[string]interface{} `json:"context,omitempty"` // 额外的上下文信息
	Timestamp time.Time              `json:"timestamp"`         // 错误发生的时间戳
}

// NewError 创建新的基础错误。
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError 包装现有错误。
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 支持错误包装。
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 支持按错误代码比较。
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext 为错误附加一个键值对形式的上下文信息。
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsCode 判断 err 链中是否存在指定代码的缓存层错误。
func IsCode(err error, code ErrorCode) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Code == code
	}
	return false
}
