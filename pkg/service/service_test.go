package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"persistcache/pkg/cache"
	"persistcache/pkg/coalescer"
	"persistcache/pkg/core"
	"persistcache/pkg/store"
)

func newTestService(t *testing.T, mb *store.MemoryBackend) *Service {
	t.Helper()

	svc, err := New(mb, Config{
		Cache: cache.Config{
			TTL:     time.Minute,
			MaxSize: 100,
		},
		Coalescer: coalescer.Config{
			Debounce: 50 * time.Millisecond,
		},
		// 测试内不启用周期性维护
		MaintenanceSpec: "",
	})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

// TestService_ReadThrough 未命中时从后端加载并回填缓存
func TestService_ReadThrough(t *testing.T) {
	mb := store.NewMemoryBackend(store.MemoryBackendConfig{})
	require.NoError(t, mb.Set(context.Background(), "k", "stored"))

	svc := newTestService(t, mb)
	ctx := context.Background()

	value, ok := svc.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "stored", value)
	assert.Equal(t, int64(1), mb.Stats().GetCalls)

	// 第二次读取命中缓存，不再访问后端
	value, ok = svc.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "stored", value)
	assert.Equal(t, int64(1), mb.Stats().GetCalls)
}

// TestService_GetAbsent 后端没有该键时返回未找到而不是错误
func TestService_GetAbsent(t *testing.T) {
	mb := store.NewMemoryBackend(store.MemoryBackendConfig{})
	svc := newTestService(t, mb)

	value, ok := svc.Get(context.Background(), "missing")
	assert.False(t, ok)
	assert.Equal(t, "", value)

	// 未找到不计入错误
	assert.Equal(t, int64(0), svc.PerfSnapshot().ErrorCount)
}

// TestService_GetDegradesOnBackendFailure 后端故障时读取降级为未找到，
// 错误计入性能追踪器
func TestService_GetDegradesOnBackendFailure(t *testing.T) {
	mb := store.NewMemoryBackend(store.MemoryBackendConfig{})
	mb.SetUnavailable(true)

	svc := newTestService(t, mb)

	_, ok := svc.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.Equal(t, int64(1), svc.PerfSnapshot().ErrorCount)
}

// TestService_ReadYourWrite Set 之后立即 Get 必须看到新值，无需等待刷新
func TestService_ReadYourWrite(t *testing.T) {
	mb := store.NewMemoryBackend(store.MemoryBackendConfig{})
	svc := newTestService(t, mb)
	ctx := context.Background()

	svc.Set(ctx, "k", "1")

	value, ok := svc.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "1", value)

	// 此时持久化尚未发生，读取来自缓存
	assert.Equal(t, int64(0), mb.Stats().GetCalls)
}

// TestService_FlushDurability Flush 之后写入可在后端观测到
func TestService_FlushDurability(t *testing.T) {
	mb := store.NewMemoryBackend(store.MemoryBackendConfig{})
	svc := newTestService(t, mb)
	ctx := context.Background()

	svc.Set(ctx, "k", "1")
	svc.Set(ctx, "k", "2")
	require.NoError(t, svc.Flush(ctx))

	value, exists := mb.Value("k")
	assert.True(t, exists)
	assert.Equal(t, "2", value)
	assert.Equal(t, int64(1), mb.Stats().SetCalls, "窗口内的连续写必须合并")
}

// blockingBackend 包装内存后端，首次 Set 时阻塞直到被放行，
// 用于构造刷新进行中的窗口。
type blockingBackend struct {
	store.Backend
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingBackend(inner store.Backend) *blockingBackend {
	return &blockingBackend{
		Backend: inner,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *blockingBackend) Set(ctx context.Context, key string, value string) error {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.Backend.Set(ctx, key, value)
}

// TestService_SetDuringInFlightFlush 刷新进行中对同键的覆盖写：
// 旧值落盘后的缓存同步不得覆盖新值，之后的读取必须看到新值
func TestService_SetDuringInFlightFlush(t *testing.T) {
	mb := store.NewMemoryBackend(store.MemoryBackendConfig{})
	bb := newBlockingBackend(mb)

	svc, err := New(bb, Config{
		Cache:     cache.Config{TTL: time.Minute, MaxSize: 100},
		Coalescer: coalescer.Config{Debounce: time.Hour},
	})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	ctx := context.Background()

	svc.Set(ctx, "k", "1")

	flushDone := make(chan error, 1)
	go func() { flushDone <- svc.Flush(ctx) }()

	// 旧值 "1" 的后端写入已开始；此时覆盖写同一个键
	<-bb.entered
	svc.Set(ctx, "k", "2")
	close(bb.release)
	require.NoError(t, <-flushDone)

	// 读你所写：提交完成后的读取必须看到覆盖写的新值
	value, ok := svc.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "2", value)

	// 刷新期间入队的新值归入下一批并落盘
	require.NoError(t, svc.Flush(ctx))
	stored, exists := mb.Value("k")
	assert.True(t, exists)
	assert.Equal(t, "2", stored)
}

// TestService_InvalidMaintenanceSpec 非法的维护表达式在构造时报配置错误
func TestService_InvalidMaintenanceSpec(t *testing.T) {
	mb := store.NewMemoryBackend(store.MemoryBackendConfig{})

	_, err := New(mb, Config{
		Cache:           cache.Config{TTL: time.Minute, MaxSize: 100},
		MaintenanceSpec: "not a cron spec",
	})
	assert.Error(t, err)
	assert.True(t, core.IsCode(err, core.ErrConfigInvalid))
}

// TestService_Remove 删除立即失效缓存，后端删除随刷新发生
func TestService_Remove(t *testing.T) {
	mb := store.NewMemoryBackend(store.MemoryBackendConfig{})
	require.NoError(t, mb.Set(context.Background(), "k", "v"))

	svc := newTestService(t, mb)
	ctx := context.Background()

	value, ok := svc.Get(ctx, "k")
	require.True(t, ok)
	require.Equal(t, "v", value)

	svc.Remove(ctx, "k")
	require.NoError(t, svc.Flush(ctx))

	_, exists := mb.Value("k")
	assert.False(t, exists)

	// 缓存条目已失效，下一次读取走后端并得到未找到
	_, ok = svc.Get(ctx, "k")
	assert.False(t, ok)
}

// TestService_InvalidatePattern 模式失效只影响匹配的缓存条目
func TestService_InvalidatePattern(t *testing.T) {
	mb := store.NewMemoryBackend(store.MemoryBackendConfig{})
	svc := newTestService(t, mb)
	ctx := context.Background()

	svc.Set(ctx, "weightRecords", "X")
	svc.Set(ctx, "userProfile", "Y")
	require.NoError(t, svc.Flush(ctx))

	count := svc.InvalidatePattern("weight")
	assert.Equal(t, 1, count)

	// weightRecords 的下一次读取回源后端
	before := mb.Stats().GetCalls
	value, ok := svc.Get(ctx, "weightRecords")
	assert.True(t, ok)
	assert.Equal(t, "X", value)
	assert.Equal(t, before+1, mb.Stats().GetCalls)

	// userProfile 仍然缓存命中
	value, ok = svc.Get(ctx, "userProfile")
	assert.True(t, ok)
	assert.Equal(t, "Y", value)
	assert.Equal(t, before+1, mb.Stats().GetCalls)
}

// TestService_ExportImport 全量导出导入往返
func TestService_ExportImport(t *testing.T) {
	mb := store.NewMemoryBackend(store.MemoryBackendConfig{})
	svc := newTestService(t, mb)
	ctx := context.Background()

	svc.Set(ctx, "a", "1")
	svc.Set(ctx, "b", "2")
	require.NoError(t, svc.Flush(ctx))

	snapshot, err := svc.ExportAll(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, snapshot.ID)
	assert.False(t, snapshot.Partial)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, snapshot.Data)

	// 序列化往返
	encoded, err := EncodeSnapshot(snapshot)
	require.NoError(t, err)
	decoded, err := DecodeSnapshot(encoded)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Data, decoded.Data)

	// 导入到一个空后端
	target := store.NewMemoryBackend(store.MemoryBackendConfig{})
	targetSvc := newTestService(t, target)
	require.NoError(t, targetSvc.ImportAll(ctx, decoded))

	value, exists := target.Value("a")
	assert.True(t, exists)
	assert.Equal(t, "1", value)
}

// TestService_ExportPartialFailure 单键读取失败不中止导出，快照标记为部分
func TestService_ExportPartialFailure(t *testing.T) {
	mb := store.NewMemoryBackend(store.MemoryBackendConfig{})
	ctx := context.Background()
	require.NoError(t, mb.Set(ctx, "good", "1"))
	require.NoError(t, mb.Set(ctx, "bad", "2"))
	mb.FailKey("bad", true)

	svc := newTestService(t, mb)

	snapshot, err := svc.ExportAll(ctx)
	require.NoError(t, err)
	assert.True(t, snapshot.Partial)
	assert.Equal(t, []string{"bad"}, snapshot.FailedKeys)
	assert.Equal(t, map[string]string{"good": "1"}, snapshot.Data)
}

// TestService_ImportVersionMismatch 版本不一致只记录日志，导入继续
func TestService_ImportVersionMismatch(t *testing.T) {
	mb := store.NewMemoryBackend(store.MemoryBackendConfig{})
	svc := newTestService(t, mb)
	ctx := context.Background()

	snapshot := &Snapshot{
		ID:        "test",
		Version:   "0.9",
		CreatedAt: time.Now(),
		Data:      map[string]string{"k": "v"},
	}
	require.NoError(t, svc.ImportAll(ctx, snapshot))

	value, exists := mb.Value("k")
	assert.True(t, exists)
	assert.Equal(t, "v", value)
}

// TestService_HealthCheck 健康状态从命中率、错误率和延迟推导
func TestService_HealthCheck(t *testing.T) {
	mb := store.NewMemoryBackend(store.MemoryBackendConfig{})
	svc := newTestService(t, mb)
	ctx := context.Background()

	// 无流量时为健康
	health := svc.HealthCheck()
	assert.Equal(t, StatusHealthy, health.Status)
	assert.Empty(t, health.Issues)

	// 全部命中时仍然健康
	svc.Set(ctx, "k", "v")
	for i := 0; i < 10; i++ {
		svc.Get(ctx, "k")
	}
	assert.Equal(t, StatusHealthy, svc.HealthCheck().Status)

	// 后端不可用且持续未命中：命中率与错误率同时劣化
	mb.SetUnavailable(true)
	for i := 0; i < 20; i++ {
		svc.Get(ctx, "no-such-key")
	}
	health = svc.HealthCheck()
	assert.Equal(t, StatusWarning, health.Status)
	assert.NotEmpty(t, health.Issues)
	assert.NotEmpty(t, health.Suggestions)
}

// TestService_PerfReset 管理性清零
func TestService_PerfReset(t *testing.T) {
	mb := store.NewMemoryBackend(store.MemoryBackendConfig{})
	svc := newTestService(t, mb)

	svc.Set(context.Background(), "k", "v")
	assert.NotZero(t, svc.PerfSnapshot().TotalOperations)

	svc.ResetPerf()
	assert.Zero(t, svc.PerfSnapshot().TotalOperations)
}
