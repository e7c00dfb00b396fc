// Package perf 实现了操作延迟与错误的运行时统计。
package perf

import (
	"sync"
	"time"
)

// Snapshot 是统计计数器的只读视图。
// 计数器单调累加，只有显式的管理性 Reset 会清零。
type Snapshot struct {
	TotalOperations  int64   `json:"total_operations"`   // 已记录的总操作数
	AverageLatencyMs float64 `json:"average_latency_ms"` // 成功操作的平均延迟（毫秒）
	ErrorCount       int64   `json:"error_count"`        // 失败操作数
}

// Tracker 记录操作数、增量平均延迟和错误数。
// 平均值通过增量公式 avg += (d - avg) / n 维护，不保留完整的延迟历史。
type Tracker struct {
	mu        sync.Mutex
	total     int64
	successes int64
	avgMs     float64
	errors    int64
}

// NewTracker 创建性能追踪器。
func NewTracker() *Tracker {
	return &Tracker{}
}

// Record 记录一次操作。成功时更新平均延迟；失败时只累加错误数，平均延迟不变。
func (t *Tracker) Record(duration time.Duration, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total++
	if !success {
		t.errors++
		return
	}

	t.successes++
	ms := float64(duration.Microseconds()) / 1000.0
	t.avgMs += (ms - t.avgMs) / float64(t.successes)
}

// Snapshot 返回当前计数器的只读副本。
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Snapshot{
		TotalOperations:  t.total,
		AverageLatencyMs: t.avgMs,
		ErrorCount:       t.errors,
	}
}

// ErrorRate 返回失败操作的占比，无操作时为0。
func (t *Tracker) ErrorRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.total == 0 {
		return 0
	}
	return float64(t.errors) / float64(t.total)
}

// Reset 清零所有计数器。由持有者周期性调用，限制陈旧数据对平均值的影响。
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total = 0
	t.successes = 0
	t.avgMs = 0
	t.errors = 0
}
