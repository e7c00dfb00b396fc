// Package store 定义了持久化后端的抽象契约及其适配器实现。
// 缓存层对后端的全部要求就是一个异步的 key→string 读写删接口，
// 任何持久化介质（内存、Redis、文件等）实现此接口即可接入。
package store

import (
	"context"
)

// Backend 定义了持久化后端的行为。
// Get 在键不存在时返回代码为 STORE_NOT_FOUND 的错误；
// I/O 失败统一映射为 STORAGE_UNAVAILABLE，容量拒绝映射为 STORAGE_QUOTA_EXCEEDED。
type Backend interface {
	// Get 读取一个键的持久化值。
	Get(ctx context.Context, key string) (string, error)
	// Set 写入一个键的持久化值。
	Set(ctx context.Context, key string, value string) error
	// Delete 删除一个键。键不存在时为无操作。
	Delete(ctx context.Context, key string) error
	// Keys 枚举当前所有已持久化的键，供全量导出使用。
	Keys(ctx context.Context) ([]string, error)
	// Close 关闭后端连接并释放所有资源。
	Close() error
}
