// Package cache 实现了带 TTL 过期和批量 LRU 淘汰的线程安全内存缓存。
package cache

import (
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"persistcache/pkg/core"
)

// DefaultVersion 是未显式声明版本时写入条目的版本号。
const DefaultVersion = "1.0"

// Config 缓存配置。应用后不可变；仅允许所属的 StorageService 在启动时配置。
type Config struct {
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`           // 条目的生存时间，必须为正
	MaxSize int           `yaml:"max_size" mapstructure:"max_size"` // 最大条目数量，必须为正
}

// Validate 验证缓存配置。
func (c Config) Validate() error {
	if c.TTL <= 0 {
		return core.NewError(core.ErrConfigInvalid, "cache ttl must be positive").WithContext("ttl", c.TTL.String())
	}
	if c.MaxSize <= 0 {
		return core.NewError(core.ErrConfigInvalid, "cache max_size must be positive").WithContext("max_size", c.MaxSize)
	}
	return nil
}

// Manager 线程安全的缓存管理器。
// 读路径是常见情况，使用读锁互不阻塞；写入与清理在同一把写锁下互斥，
// 保证 Set 之后的清理扫描不会与并发写交错。
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*core.CacheEntry
	config  Config

	hits   int64
	misses int64
}

// NewManager 创建缓存管理器。TTL 或 MaxSize 非正时返回 CONFIG_INVALID 错误。
func NewManager(config Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		entries: make(map[string]*core.CacheEntry),
		config:  config,
	}, nil
}

// Get 获取缓存值。条目存在且未过期时返回命中；
// 过期条目会被当场删除并按未命中处理。
func (m *Manager) Get(key string) (interface{}, bool) {
	m.mu.RLock()
	entry, exists := m.entries[key]
	m.mu.RUnlock()

	if !exists {
		atomic.AddInt64(&m.misses, 1)
		return nil, false
	}

	if time.Since(entry.InsertedAt) >= m.config.TTL {
		m.mu.Lock()
		// 重查：过期判定与上面的读取之间条目可能已被覆盖
		if current, ok := m.entries[key]; ok && time.Since(current.InsertedAt) >= m.config.TTL {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		atomic.AddInt64(&m.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&entry.AccessCount, 1)
	atomic.AddInt64(&m.hits, 1)
	return entry.Value, true
}

// Set 以默认版本插入或替换一个条目。
func (m *Manager) Set(key string, value interface{}) {
	m.SetVersion(key, value, DefaultVersion)
}

// SetVersion 插入或替换一个条目并刷新其写入时间，随后触发一次清理。
func (m *Manager) SetVersion(key string, value interface{}, version string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = &core.CacheEntry{
		Value:      value,
		InsertedAt: time.Now(),
		Version:    version,
	}
	m.cleanupLocked()
}

// Invalidate 无条件删除一个条目。条目不存在时为无操作。
func (m *Manager) Invalidate(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// InvalidatePattern 删除所有键包含 substring 的条目，返回删除数量。
// 先收集匹配的键再删除，避免在遍历中修改 map。
func (m *Manager) InvalidatePattern(substring string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]string, 0)
	for key := range m.entries {
		if strings.Contains(key, substring) {
			matched = append(matched, key)
		}
	}
	for _, key := range matched {
		delete(m.entries, key)
	}
	return len(matched)
}

// Clear 清空所有条目并重置命中统计。
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*core.CacheEntry)
	atomic.StoreInt64(&m.hits, 0)
	atomic.StoreInt64(&m.misses, 0)
}

// Stats 获取缓存统计信息。命中率是四舍五入的百分比，无请求时为0。
func (m *Manager) Stats() core.CacheStats {
	m.mu.RLock()
	size := len(m.entries)
	m.mu.RUnlock()

	hits := atomic.LoadInt64(&m.hits)
	misses := atomic.LoadInt64(&m.misses)

	hitRate := 0
	if total := hits + misses; total > 0 {
		hitRate = int(math.Round(float64(hits) / float64(total) * 100))
	}

	return core.CacheStats{
		Size:    size,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// Cleanup 手动触发一次过期清理与容量淘汰。
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupLocked()
}

// cleanupLocked 先做 TTL 扫描，超容量时再做批量淘汰（需要在写锁内调用）。
// 淘汰按 (InsertedAt, AccessCount) 升序一次删除 MaxSize 的20%（向下取整），
// 用批量删除换取更少的排序开销，而不是每次插入都淘汰单个条目。
func (m *Manager) cleanupLocked() {
	now := time.Now()
	for key, entry := range m.entries {
		if now.Sub(entry.InsertedAt) >= m.config.TTL {
			delete(m.entries, key)
		}
	}

	if len(m.entries) <= m.config.MaxSize {
		return
	}

	type victim struct {
		key   string
		entry *core.CacheEntry
	}
	candidates := make([]victim, 0, len(m.entries))
	for key, entry := range m.entries {
		candidates = append(candidates, victim{key: key, entry: entry})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].entry.InsertedAt.Equal(candidates[j].entry.InsertedAt) {
			return candidates[i].entry.InsertedAt.Before(candidates[j].entry.InsertedAt)
		}
		return atomic.LoadInt64(&candidates[i].entry.AccessCount) < atomic.LoadInt64(&candidates[j].entry.AccessCount)
	})

	evictCount := m.config.MaxSize / 5
	if evictCount < 1 {
		evictCount = 1
	}
	if evictCount > len(candidates) {
		evictCount = len(candidates)
	}
	for _, v := range candidates[:evictCount] {
		delete(m.entries, v.key)
	}
}
