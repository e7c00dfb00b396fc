// Package service 实现了持久化缓存层的编排器 StorageService。
// 它组合缓存管理器、批量写合并器、性能追踪器和持久化后端，
// 对上层暴露读穿透/写穿透的键值操作、模式失效、全量导入导出与健康检查。
package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"persistcache/pkg/cache"
	"persistcache/pkg/coalescer"
	"persistcache/pkg/core"
	"persistcache/pkg/logger"
	"persistcache/pkg/perf"
	"persistcache/pkg/store"
)

// DefaultVersion 是服务快照格式的默认版本。
const DefaultVersion = "1.0"

// Config 定义了 StorageService 的配置选项。
type Config struct {
	Cache           cache.Config     `yaml:"cache" mapstructure:"cache"`                       // 缓存配置
	Coalescer       coalescer.Config `yaml:"coalescer" mapstructure:"coalescer"`               // 写合并配置
	Version         string           `yaml:"version" mapstructure:"version"`                   // 快照格式版本
	MaintenanceSpec string           `yaml:"maintenance_spec" mapstructure:"maintenance_spec"` // 周期性维护的cron表达式，空则不启用
}

// DefaultConfig 返回默认的服务配置。
func DefaultConfig() Config {
	return Config{
		Cache: cache.Config{
			TTL:     5 * time.Minute,
			MaxSize: 1000,
		},
		Coalescer: coalescer.Config{
			Debounce: coalescer.DefaultDebounce,
		},
		Version:         DefaultVersion,
		MaintenanceSpec: "@every 1h",
	}
}

// Service 持久化缓存服务。
// 写入先更新缓存（调用方随后的读取立即可见），再交给合并器异步持久化；
// 读取未命中时经 singleflight 从后端加载并回填缓存，
// 避免同一个键的并发未命中重复打到后端。
type Service struct {
	config    Config
	backend   store.Backend
	cache     *cache.Manager
	coalescer *coalescer.Coalescer
	perf      *perf.Tracker
	loads     singleflight.Group
	cron      *cron.Cron
	log       *logger.Entry
}

// New 创建 StorageService。缓存配置非法时返回 CONFIG_INVALID 错误。
func New(backend store.Backend, config Config) (*Service, error) {
	if config.Version == "" {
		config.Version = DefaultVersion
	}

	manager, err := cache.NewManager(config.Cache)
	if err != nil {
		return nil, err
	}

	s := &Service{
		config:  config,
		backend: backend,
		cache:   manager,
		perf:    perf.NewTracker(),
		log:     logger.WithComponent("service"),
	}

	// 提交成功后把缓存同步到刚持久化的值，
	// 防止后续读取命中一个从未持久化的中间写
	s.coalescer = coalescer.New(backend, config.Coalescer, func(w core.PendingWrite) {
		if w.Op == core.OpSet {
			s.cache.SetVersion(w.Key, w.Value, config.Version)
		}
	})

	if config.MaintenanceSpec != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(config.MaintenanceSpec, s.maintenance); err != nil {
			// 合并器的后台协程已经启动，出错返回前必须停掉
			_ = s.coalescer.Close()
			return nil, core.WrapError(core.ErrConfigInvalid, "invalid maintenance spec", err).
				WithContext("spec", config.MaintenanceSpec)
		}
		s.cron.Start()
	}

	return s, nil
}

// Get 读取一个键的值。缓存命中立即返回；未命中时从后端加载并回填缓存。
// 后端没有该键返回 ("", false)；后端故障同样降级为未找到，
// 错误计入性能追踪器而不向调用方传播。
func (s *Service) Get(ctx context.Context, key string) (string, bool) {
	start := time.Now()

	if value, ok := s.cache.Get(key); ok {
		s.perf.Record(time.Since(start), true)
		return value.(string), true
	}

	result, err, _ := s.loads.Do(key, func() (interface{}, error) {
		return s.backend.Get(ctx, key)
	})
	if err != nil {
		if core.IsCode(err, core.ErrStoreNotFound) {
			s.perf.Record(time.Since(start), true)
			return "", false
		}
		s.log.WithError(err).Warnf("读取 %q 失败，降级为未找到", key)
		s.perf.Record(time.Since(start), false)
		return "", false
	}

	value := result.(string)
	s.cache.SetVersion(key, value, s.config.Version)
	s.perf.Record(time.Since(start), true)
	return value, true
}

// Set 写入一个键的值。缓存同步更新后立即返回，持久化由合并器异步完成；
// 需要确认落盘的调用方应随后调用 Flush。
func (s *Service) Set(ctx context.Context, key string, value string) {
	start := time.Now()

	// 先入队再写缓存：提交回调在合并器锁内检查待提交集合，
	// 这个顺序保证正在刷新的旧值不会在本次写入之后覆盖缓存。
	s.coalescer.Enqueue(core.PendingWrite{Key: key, Op: core.OpSet, Value: value})
	s.cache.SetVersion(key, value, s.config.Version)

	s.perf.Record(time.Since(start), true)
}

// Remove 删除一个键。缓存条目立即失效，后端删除由合并器异步完成。
func (s *Service) Remove(ctx context.Context, key string) {
	start := time.Now()

	// 与 Set 同序：先入队再失效，防止同键的在途提交回调复活已删除的条目
	s.coalescer.Enqueue(core.PendingWrite{Key: key, Op: core.OpDelete})
	s.cache.Invalidate(key)

	s.perf.Record(time.Since(start), true)
}

// InvalidatePattern 删除缓存中所有键包含 substring 的条目，返回删除数量。
// 用于一组逻辑相关的键需要一起失效的场景（如批量变更后按记录类型失效）。
func (s *Service) InvalidatePattern(substring string) int {
	count := s.cache.InvalidatePattern(substring)
	if count > 0 {
		s.log.Debugf("按模式 %q 失效了 %d 个缓存条目", substring, count)
	}
	return count
}

// Flush 触发一次立即刷新，等待本批全部提交完成。
// 这是调用方获得持久化确认的唯一途径；返回本批中的第一个提交错误。
func (s *Service) Flush(ctx context.Context) error {
	return s.coalescer.Flush(ctx)
}

// CacheStats 返回缓存统计信息。
func (s *Service) CacheStats() core.CacheStats {
	return s.cache.Stats()
}

// PerfSnapshot 返回性能计数器的只读视图。
func (s *Service) PerfSnapshot() perf.Snapshot {
	return s.perf.Snapshot()
}

// CoalescerStats 返回写合并器的运行统计信息。
func (s *Service) CoalescerStats() coalescer.Stats {
	return s.coalescer.Stats()
}

// ResetPerf 管理性操作：清零性能计数器。
func (s *Service) ResetPerf() {
	s.perf.Reset()
}

// Close 停止维护任务，刷掉剩余的待提交变更并关闭后端。
func (s *Service) Close() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	flushErr := s.coalescer.Close()
	closeErr := s.backend.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// maintenance 周期性维护：记录一轮统计日志后清零性能计数器，
// 限制陈旧数据对平均延迟的影响，并顺带做一次缓存清理。
func (s *Service) maintenance() {
	snapshot := s.perf.Snapshot()
	stats := s.cache.Stats()
	s.log.Infof("维护: ops=%d avg=%.2fms errors=%d cache_size=%d hit_rate=%d%%",
		snapshot.TotalOperations, snapshot.AverageLatencyMs, snapshot.ErrorCount,
		stats.Size, stats.HitRate)

	s.cache.Cleanup()
	s.perf.Reset()
}
