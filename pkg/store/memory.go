package store

import (
	"context"
	"sort"
	"sync"

	"persistcache/pkg/core"
)

// MemoryBackend 是完全在内存中实现的 Backend。
// 它用于快速、无I/O的测试，所有数据在程序结束时会丢失。
// 通过 FailKey / SetUnavailable 可以注入故障，便于验证上层的降级行为。
type MemoryBackend struct {
	mu     sync.RWMutex
	data   map[string]string
	config MemoryBackendConfig

	unavailable bool
	failKeys    map[string]bool

	stats MemoryBackendStats
}

// MemoryBackendConfig 定义了 MemoryBackend 的配置选项。
type MemoryBackendConfig struct {
	MaxEntries int `yaml:"max_entries"` // 可持久化的最大键数，0表示不限制。超出时写入报配额错误。
}

// MemoryBackendStats 包含了 MemoryBackend 的调用统计信息。
type MemoryBackendStats struct {
	GetCalls    int64 `json:"get_calls"`    // Get 调用次数
	SetCalls    int64 `json:"set_calls"`    // Set 调用次数
	DeleteCalls int64 `json:"delete_calls"` // Delete 调用次数
}

// NewMemoryBackend 创建一个新的 MemoryBackend 实例。
func NewMemoryBackend(config MemoryBackendConfig) *MemoryBackend {
	return &MemoryBackend{
		data:     make(map[string]string),
		config:   config,
		failKeys: make(map[string]bool),
	}
}

// Get 读取内存中的值。
func (mb *MemoryBackend) Get(ctx context.Context, key string) (string, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.stats.GetCalls++

	if err := mb.injected(key); err != nil {
		return "", err
	}

	value, exists := mb.data[key]
	if !exists {
		return "", core.NewError(core.ErrStoreNotFound, "key not found").WithContext("key", key)
	}
	return value, nil
}

// Set 写入内存中的值。
func (mb *MemoryBackend) Set(ctx context.Context, key string, value string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.stats.SetCalls++

	if err := mb.injected(key); err != nil {
		return err
	}

	if _, exists := mb.data[key]; !exists {
		if mb.config.MaxEntries > 0 && len(mb.data) >= mb.config.MaxEntries {
			return core.NewError(core.ErrStorageQuotaExceeded, "memory backend is full").
				WithContext("max_entries", mb.config.MaxEntries)
		}
	}

	mb.data[key] = value
	return nil
}

// Delete 删除内存中的键。键不存在时为无操作。
func (mb *MemoryBackend) Delete(ctx context.Context, key string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.stats.DeleteCalls++

	if err := mb.injected(key); err != nil {
		return err
	}

	delete(mb.data, key)
	return nil
}

// Keys 枚举当前所有键，按字典序返回。
func (mb *MemoryBackend) Keys(ctx context.Context) ([]string, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	if mb.unavailable {
		return nil, core.NewError(core.ErrStorageUnavailable, "memory backend marked unavailable")
	}

	keys := make([]string, 0, len(mb.data))
	for key := range mb.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close 关闭后端。
func (mb *MemoryBackend) Close() error {
	return nil
}

// SetUnavailable 设置整个后端的可用性，模拟存储不可达。
func (mb *MemoryBackend) SetUnavailable(unavailable bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.unavailable = unavailable
}

// FailKey 控制对指定键的所有操作是否注入I/O错误。
func (mb *MemoryBackend) FailKey(key string, fail bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if fail {
		mb.failKeys[key] = true
	} else {
		delete(mb.failKeys, key)
	}
}

// Stats 返回当前的调用统计信息。
func (mb *MemoryBackend) Stats() MemoryBackendStats {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return mb.stats
}

// Value 直接读取一个键的当前值，供测试断言使用。
func (mb *MemoryBackend) Value(key string) (string, bool) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	value, exists := mb.data[key]
	return value, exists
}

// injected 检查是否需要注入故障（需要在锁内调用）。
func (mb *MemoryBackend) injected(key string) error {
	if mb.unavailable {
		return core.NewError(core.ErrStorageUnavailable, "memory backend marked unavailable")
	}
	if mb.failKeys[key] {
		return core.NewError(core.ErrStorageUnavailable, "injected failure").WithContext("key", key)
	}
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
