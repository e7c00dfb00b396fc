// Package core 定义了持久化缓存层各组件共享的基础类型和错误分类。
package core

import (
	"time"
)

// CacheEntry 代表缓存中的一个条目。
// 条目由 cache.Manager 独占持有：在缓存填充时创建，每次访问时更新
// AccessCount，过期、显式失效或淘汰时销毁。
type CacheEntry struct {
	Value       interface{} // 缓存的值
	InsertedAt  time.Time   // 写入时间，TTL 和淘汰排序的依据
	Version     string      // 写入时声明的数据版本
	AccessCount int64       // 命中次数，淘汰排序的次要依据
}

// CacheStats 包含了缓存的统计信息。
type CacheStats struct {
	Size    int   `json:"size"`     // 当前缓存中的条目数
	Hits    int64 `json:"hits"`     // 命中次数
	Misses  int64 `json:"misses"`   // 未命中次数
	HitRate int   `json:"hit_rate"` // 命中率（四舍五入的百分比，无请求时为0）
}

// Op 表示一次待持久化的变更类型。
type Op int

const (
	// OpSet 表示写入或覆盖一个键。
	OpSet Op = iota
	// OpDelete 表示删除一个键。
	OpDelete
)

// String 返回操作类型的可读名称。
func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// PendingWrite 代表合并窗口内的一次待提交变更。
// 同一个键在任意时刻至多存在一条 PendingWrite（后写覆盖先写），
// 批次提交或被覆盖时销毁。
type PendingWrite struct {
	Key   string // 存储键
	Op    Op     // 变更类型
	Value string // Op 为 OpSet 时的序列化值
}
