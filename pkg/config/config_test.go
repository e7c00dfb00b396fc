package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"persistcache/pkg/core"
)

// TestDefault 测试默认配置是否正确
func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 1000, cfg.Cache.MaxSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Coalescer.Debounce)

	assert.Equal(t, BackendMemory, cfg.Backend.Type)
	assert.Equal(t, "localhost:6379", cfg.Backend.Redis.Addr)
	assert.True(t, cfg.Backend.Breaker.Enabled)

	assert.Equal(t, "1.0", cfg.Service.Version)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, ":8080", cfg.API.Addr)
}

// TestValidate 测试配置验证功能
func TestValidate(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate(), "默认配置应该是有效的")

	// 缓存配置非法
	cfg = Default()
	cfg.Cache.TTL = 0
	err := cfg.Validate()
	assert.Error(t, err)
	assert.True(t, core.IsCode(err, core.ErrConfigInvalid))

	cfg = Default()
	cfg.Cache.MaxSize = -1
	assert.Error(t, cfg.Validate())

	// 未知的后端类型
	cfg = Default()
	cfg.Backend.Type = "unknown"
	assert.Error(t, cfg.Validate())

	// Redis 后端必须有地址
	cfg = Default()
	cfg.Backend.Type = BackendRedis
	cfg.Backend.Redis.Addr = ""
	assert.Error(t, cfg.Validate())

	// API 地址不能为空
	cfg = Default()
	cfg.API.Addr = ""
	assert.Error(t, cfg.Validate())
}
