package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"persistcache/pkg/core"
)

// RedisBackendConfig 定义了 RedisBackend 的配置选项。
type RedisBackendConfig struct {
	Addr      string        `yaml:"addr" mapstructure:"addr"`             // Redis 服务器地址
	Password  string        `yaml:"password" mapstructure:"password"`     // 密码，可为空
	DB        int           `yaml:"db" mapstructure:"db"`                 // 数据库编号
	KeyPrefix string        `yaml:"key_prefix" mapstructure:"key_prefix"` // 键前缀，用于命名空间隔离
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`       // 单次操作超时，0表示不限制
}

// DefaultRedisBackendConfig 返回一个默认的 Redis 后端配置实例。
func DefaultRedisBackendConfig() RedisBackendConfig {
	return RedisBackendConfig{
		Addr:      "localhost:6379",
		DB:        0,
		KeyPrefix: "persistcache:",
		Timeout:   3 * time.Second,
	}
}

// RedisBackend 以 Redis 为持久化介质实现 Backend。
// 超时策略属于适配器而不属于缓存核心，因此在这里按操作施加。
type RedisBackend struct {
	client *redis.Client
	config RedisBackendConfig
}

// NewRedisBackend 创建一个新的 RedisBackend 实例。
func NewRedisBackend(config RedisBackendConfig) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &RedisBackend{
		client: client,
		config: config,
	}
}

// Ping 检查与 Redis 的连接状态。
func (rb *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := rb.opContext(ctx)
	defer cancel()

	if err := rb.client.Ping(ctx).Err(); err != nil {
		return core.WrapError(core.ErrStorageUnavailable, "redis ping failed", err)
	}
	return nil
}

// Get 读取一个键的值。
func (rb *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := rb.opContext(ctx)
	defer cancel()

	value, err := rb.client.Get(ctx, rb.config.KeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", core.NewError(core.ErrStoreNotFound, "key not found").WithContext("key", key)
		}
		return "", core.WrapError(core.ErrStorageUnavailable, "redis get failed", err).WithContext("key", key)
	}
	return value, nil
}

// Set 写入一个键的值。
func (rb *RedisBackend) Set(ctx context.Context, key string, value string) error {
	ctx, cancel := rb.opContext(ctx)
	defer cancel()

	if err := rb.client.Set(ctx, rb.config.KeyPrefix+key, value, 0).Err(); err != nil {
		if strings.Contains(err.Error(), "OOM") {
			return core.WrapError(core.ErrStorageQuotaExceeded, "redis out of memory", err).WithContext("key", key)
		}
		return core.WrapError(core.ErrStorageUnavailable, "redis set failed", err).WithContext("key", key)
	}
	return nil
}

// Delete 删除一个键。键不存在时 Redis 返回删除数0，同样视为成功。
func (rb *RedisBackend) Delete(ctx context.Context, key string) error {
	ctx, cancel := rb.opContext(ctx)
	defer cancel()

	if err := rb.client.Del(ctx, rb.config.KeyPrefix+key).Err(); err != nil {
		return core.WrapError(core.ErrStorageUnavailable, "redis delete failed", err).WithContext("key", key)
	}
	return nil
}

// Keys 枚举带前缀的所有键并去掉前缀返回。
func (rb *RedisBackend) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := rb.opContext(ctx)
	defer cancel()

	var keys []string
	iter := rb.client.Scan(ctx, 0, rb.config.KeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), rb.config.KeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, core.WrapError(core.ErrStorageUnavailable, "redis scan failed", err)
	}
	return keys, nil
}

// Close 关闭 Redis 连接。
func (rb *RedisBackend) Close() error {
	return rb.client.Close()
}

// opContext 按配置为单次操作施加超时。
func (rb *RedisBackend) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if rb.config.Timeout > 0 {
		return context.WithTimeout(ctx, rb.config.Timeout)
	}
	return context.WithCancel(ctx)
}

var _ Backend = (*RedisBackend)(nil)
