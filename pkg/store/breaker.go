package store

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"persistcache/pkg/core"
	"persistcache/pkg/logger"
)

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	Name        string        `yaml:"name" mapstructure:"name"`                   // 熔断器名称
	MaxRequests uint32        `yaml:"max_requests" mapstructure:"max_requests"`   // 半开状态下的最大请求数
	Interval    time.Duration `yaml:"interval" mapstructure:"interval"`           // 统计窗口时间
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`             // 熔断器打开后的超时时间
	ReadyToTrip uint32        `yaml:"ready_to_trip" mapstructure:"ready_to_trip"` // 触发熔断的连续失败次数阈值
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`             // 是否启用熔断器
}

// DefaultBreakerConfig 返回默认熔断器配置。
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:        "Backend",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: 5,
		Enabled:     true,
	}
}

// BreakerBackend 为任意 Backend 套上 sony/gobreaker 熔断保护。
// 后端持续故障时熔断器打开，此后的操作直接以 STORAGE_UNAVAILABLE 快速失败，
// 避免每次调用都等待一个已经不可达的存储。键不存在不计为失败。
type BreakerBackend struct {
	inner Backend
	cb    *gobreaker.CircuitBreaker
	log   *logger.Entry
}

// NewBreakerBackend 创建熔断器装饰的后端。
func NewBreakerBackend(inner Backend, config BreakerConfig) *BreakerBackend {
	log := logger.WithComponent("store.breaker")

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.ReadyToTrip
		},
		IsSuccessful: func(err error) bool {
			// 键不存在是正常结果，不应推动熔断器打开
			return err == nil || core.IsCode(err, core.ErrStoreNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("熔断器 %s 状态从 %v 变更为 %v", name, from, to)
		},
	}

	return &BreakerBackend{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker(settings),
		log:   log,
	}
}

// Get 经熔断器读取一个键。
func (bb *BreakerBackend) Get(ctx context.Context, key string) (string, error) {
	result, err := bb.cb.Execute(func() (interface{}, error) {
		return bb.inner.Get(ctx, key)
	})
	if err != nil {
		return "", bb.translate(err)
	}
	return result.(string), nil
}

// Set 经熔断器写入一个键。
func (bb *BreakerBackend) Set(ctx context.Context, key string, value string) error {
	_, err := bb.cb.Execute(func() (interface{}, error) {
		return nil, bb.inner.Set(ctx, key, value)
	})
	return bb.translate(err)
}

// Delete 经熔断器删除一个键。
func (bb *BreakerBackend) Delete(ctx context.Context, key string) error {
	_, err := bb.cb.Execute(func() (interface{}, error) {
		return nil, bb.inner.Delete(ctx, key)
	})
	return bb.translate(err)
}

// Keys 经熔断器枚举所有键。
func (bb *BreakerBackend) Keys(ctx context.Context) ([]string, error) {
	result, err := bb.cb.Execute(func() (interface{}, error) {
		return bb.inner.Keys(ctx)
	})
	if err != nil {
		return nil, bb.translate(err)
	}
	return result.([]string), nil
}

// Close 关闭内层后端。
func (bb *BreakerBackend) Close() error {
	return bb.inner.Close()
}

// State 返回熔断器当前状态，供健康检查和测试使用。
func (bb *BreakerBackend) State() gobreaker.State {
	return bb.cb.State()
}

// translate 把熔断器自身的拒绝错误归入存储不可用。
func (bb *BreakerBackend) translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return core.WrapError(core.ErrStorageUnavailable, "circuit breaker rejected request", err)
	}
	return err
}

var _ Backend = (*BreakerBackend)(nil)
