package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"

	"persistcache/pkg/config"
	"persistcache/pkg/logger"
	"persistcache/pkg/service"
	"persistcache/pkg/store"
)

var (
	configPath = flag.String("config", "", "配置文件路径 (yaml)")
	logLevel   = flag.String("log-level", "", "日志级别 (debug, info, warn, error)，覆盖配置文件")
	logFormat  = flag.String("log-format", "", "日志格式 (text, json)，覆盖配置文件")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		logger.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		cfg.Logger.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logger.Format = *logFormat
	}
	logger.Init(logger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
	})
	log := logger.WithComponent("persistcached")

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("配置无效")
	}

	backend, err := buildBackend(cfg)
	if err != nil {
		log.WithError(err).Fatal("创建持久化后端失败")
	}

	svc, err := service.New(backend, service.Config{
		Cache:           cfg.Cache,
		Coalescer:       cfg.Coalescer,
		Version:         cfg.Service.Version,
		MaintenanceSpec: cfg.Service.MaintenanceSpec,
	})
	if err != nil {
		log.WithError(err).Fatal("创建存储服务失败")
	}

	log.Infof("persistcached 启动: backend=%s api=%s", cfg.Backend.Type, cfg.API.Addr)

	server := &http.Server{
		Addr:    cfg.API.Addr,
		Handler: buildRouter(cfg, svc),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("管理API启动失败")
		}
	}()

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("收到退出信号，开始优雅关闭")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("管理API关闭失败")
	}
	if err := svc.Close(); err != nil {
		log.WithError(err).Warn("存储服务关闭时存在失败的提交")
	}

	log.Info("persistcached 已退出")
}

// loadConfig 用 viper 加载配置文件，缺省值回退到默认配置。
func loadConfig() (*config.Config, error) {
	v := viper.New()
	v.SetConfigName("persistcached")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	if *configPath != "" {
		v.SetConfigFile(*configPath)
	}

	defaults := config.Default()
	v.SetDefault("cache.ttl", defaults.Cache.TTL)
	v.SetDefault("cache.max_size", defaults.Cache.MaxSize)
	v.SetDefault("coalescer.debounce", defaults.Coalescer.Debounce)
	v.SetDefault("backend.type", string(defaults.Backend.Type))
	v.SetDefault("backend.redis.addr", defaults.Backend.Redis.Addr)
	v.SetDefault("backend.redis.db", defaults.Backend.Redis.DB)
	v.SetDefault("backend.redis.key_prefix", defaults.Backend.Redis.KeyPrefix)
	v.SetDefault("backend.redis.timeout", defaults.Backend.Redis.Timeout)
	v.SetDefault("backend.breaker.enabled", defaults.Backend.Breaker.Enabled)
	v.SetDefault("backend.breaker.name", defaults.Backend.Breaker.Name)
	v.SetDefault("backend.breaker.max_requests", defaults.Backend.Breaker.MaxRequests)
	v.SetDefault("backend.breaker.interval", defaults.Backend.Breaker.Interval)
	v.SetDefault("backend.breaker.timeout", defaults.Backend.Breaker.Timeout)
	v.SetDefault("backend.breaker.ready_to_trip", defaults.Backend.Breaker.ReadyToTrip)
	v.SetDefault("service.version", defaults.Service.Version)
	v.SetDefault("service.maintenance_spec", defaults.Service.MaintenanceSpec)
	v.SetDefault("logger.level", defaults.Logger.Level)
	v.SetDefault("logger.format", defaults.Logger.Format)
	v.SetDefault("api.addr", defaults.API.Addr)
	v.SetDefault("api.mode", defaults.API.Mode)

	if err := v.ReadInConfig(); err != nil {
		// 没有配置文件时使用默认值运行
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// buildBackend 按配置创建持久化后端，可选地套上熔断器。
func buildBackend(cfg *config.Config) (store.Backend, error) {
	var backend store.Backend

	switch cfg.Backend.Type {
	case config.BackendRedis:
		rb := store.NewRedisBackend(cfg.Backend.Redis)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rb.Ping(ctx); err != nil {
			return nil, err
		}
		backend = rb
	default:
		backend = store.NewMemoryBackend(store.MemoryBackendConfig{})
	}

	if cfg.Backend.Breaker.Enabled {
		backend = store.NewBreakerBackend(backend, cfg.Backend.Breaker)
	}
	return backend, nil
}

// buildRouter 构建管理API路由。
func buildRouter(cfg *config.Config, svc *service.Service) *gin.Engine {
	gin.SetMode(cfg.API.Mode)

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		health := svc.HealthCheck()
		status := http.StatusOK
		if health.Status == service.StatusError {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, health)
	})

	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"cache":     svc.CacheStats(),
			"perf":      svc.PerfSnapshot(),
			"coalescer": svc.CoalescerStats(),
		})
	})

	router.POST("/flush", func(c *gin.Context) {
		if err := svc.Flush(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "flushed"})
	})

	return router
}
