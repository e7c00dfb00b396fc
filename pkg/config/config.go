// Package config 定义了 persistcache 守护进程的主配置。
package config

import (
	"time"

	"persistcache/pkg/cache"
	"persistcache/pkg/coalescer"
	"persistcache/pkg/core"
	"persistcache/pkg/store"
)

// BackendType 持久化后端类型。
type BackendType string

const (
	BackendMemory BackendType = "memory" // 内存后端（仅用于开发与测试）
	BackendRedis  BackendType = "redis"  // Redis 后端
)

// Config 主配置结构
type Config struct {
	// 缓存配置
	Cache cache.Config `yaml:"cache" mapstructure:"cache"`

	// 写合并配置
	Coalescer coalescer.Config `yaml:"coalescer" mapstructure:"coalescer"`

	// 后端配置
	Backend BackendConfig `yaml:"backend" mapstructure:"backend"`

	// 服务配置
	Service ServiceConfig `yaml:"service" mapstructure:"service"`

	// 日志配置
	Logger LoggerConfig `yaml:"logger" mapstructure:"logger"`

	// 管理API配置
	API APIConfig `yaml:"api" mapstructure:"api"`
}

// BackendConfig 持久化后端配置
type BackendConfig struct {
	Type    BackendType              `yaml:"type" mapstructure:"type"`       // 后端类型 (memory, redis)
	Redis   store.RedisBackendConfig `yaml:"redis" mapstructure:"redis"`     // Redis 连接配置
	Breaker store.BreakerConfig      `yaml:"breaker" mapstructure:"breaker"` // 熔断器配置
}

// ServiceConfig 编排器配置
type ServiceConfig struct {
	Version         string `yaml:"version" mapstructure:"version"`                   // 快照格式版本
	MaintenanceSpec string `yaml:"maintenance_spec" mapstructure:"maintenance_spec"` // 周期性维护的cron表达式
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // 日志级别 (debug, info, warn, error)
	Format string `yaml:"format" mapstructure:"format"` // 日志格式 (text, json)
}

// APIConfig 管理API配置
type APIConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"` // 监听地址
	Mode string `yaml:"mode" mapstructure:"mode"` // gin 模式 (debug, release)
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Cache: cache.Config{
			TTL:     5 * time.Minute,
			MaxSize: 1000,
		},
		Coalescer: coalescer.Config{
			Debounce: coalescer.DefaultDebounce,
		},
		Backend: BackendConfig{
			Type:    BackendMemory,
			Redis:   store.DefaultRedisBackendConfig(),
			Breaker: store.DefaultBreakerConfig(),
		},
		Service: ServiceConfig{
			Version:         "1.0",
			MaintenanceSpec: "@every 1h",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
		},
		API: APIConfig{
			Addr: ":8080",
			Mode: "release",
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return err
	}

	if c.Coalescer.Debounce < 0 {
		return core.NewError(core.ErrConfigInvalid, "coalescer debounce cannot be negative")
	}

	switch c.Backend.Type {
	case BackendMemory, BackendRedis:
	default:
		return core.NewError(core.ErrConfigInvalid, "unknown backend type").
			WithContext("type", string(c.Backend.Type))
	}

	if c.Backend.Type == BackendRedis && c.Backend.Redis.Addr == "" {
		return core.NewError(core.ErrConfigInvalid, "redis addr cannot be empty")
	}

	if c.API.Addr == "" {
		return core.NewError(core.ErrConfigInvalid, "api addr cannot be empty")
	}

	return nil
}
