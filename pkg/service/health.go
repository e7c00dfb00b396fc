package service

import (
	"fmt"
)

// HealthStatus 健康状态等级。
type HealthStatus string

const (
	StatusHealthy HealthStatus = "healthy" // 无异常
	StatusWarning HealthStatus = "warning" // 1-2 项异常
	StatusError   HealthStatus = "error"   // 超过 2 项异常
)

// Health 是健康检查的结果。
type Health struct {
	Status      HealthStatus `json:"status"`                // 综合状态
	Issues      []string     `json:"issues,omitempty"`      // 发现的问题
	Suggestions []string     `json:"suggestions,omitempty"` // 对应的处理建议
}

// 健康检查阈值。持续性的故障通过这里劣化为 warning/error 被上层观测到。
const (
	minHitRatePercent = 50     // 命中率低于此百分比视为异常
	maxErrorRate      = 0.05   // 错误率高于此比例视为异常
	maxAvgLatencyMs   = 1000.0 // 平均延迟高于此毫秒数视为异常
)

// HealthCheck 从命中率、错误率和平均延迟推导服务健康状态。
func (s *Service) HealthCheck() Health {
	health := Health{Status: StatusHealthy}

	cacheStats := s.cache.Stats()
	snapshot := s.perf.Snapshot()

	if total := cacheStats.Hits + cacheStats.Misses; total > 0 && cacheStats.HitRate < minHitRatePercent {
		health.Issues = append(health.Issues,
			fmt.Sprintf("缓存命中率过低: %d%%", cacheStats.HitRate))
		health.Suggestions = append(health.Suggestions,
			"考虑增大 TTL 或 MaxSize，或检查键的访问模式是否过于分散")
	}

	if snapshot.TotalOperations > 0 {
		if errorRate := s.perf.ErrorRate(); errorRate > maxErrorRate {
			health.Issues = append(health.Issues,
				fmt.Sprintf("错误率过高: %.1f%%", errorRate*100))
			health.Suggestions = append(health.Suggestions,
				"检查持久化后端的可用性与配额")
		}
	}

	if snapshot.AverageLatencyMs > maxAvgLatencyMs {
		health.Issues = append(health.Issues,
			fmt.Sprintf("平均延迟过高: %.0fms", snapshot.AverageLatencyMs))
		health.Suggestions = append(health.Suggestions,
			"检查后端网络状况，或考虑调大防抖窗口减少写入频率")
	}

	switch {
	case len(health.Issues) > 2:
		health.Status = StatusError
	case len(health.Issues) > 0:
		health.Status = StatusWarning
	}

	return health
}
