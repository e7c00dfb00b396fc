// Package coalescer 实现了面向持久化后端的批量写合并。
// 对同一个键的连续变更在防抖窗口内合并为最后一次（后写覆盖先写），
// 把持久化写入量限制在每个键每个窗口至多一次。
package coalescer

import (
	"context"
	"sync"
	"time"

	"persistcache/pkg/core"
	"persistcache/pkg/logger"
	"persistcache/pkg/store"
)

// DefaultDebounce 是默认的防抖窗口。
const DefaultDebounce = 100 * time.Millisecond

// Config 定义了 Coalescer 的配置选项。
type Config struct {
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"` // 防抖窗口时长
}

// Stats 包含了 Coalescer 的运行统计信息。
type Stats struct {
	PendingSize  int       `json:"pending_size"`  // 当前待提交的变更数
	TotalBatches int64     `json:"total_batches"` // 已提交的批次数
	TotalWrites  int64     `json:"total_writes"`  // 成功提交的写入数
	TotalDeletes int64     `json:"total_deletes"` // 成功提交的删除数
	CommitErrors int64     `json:"commit_errors"` // 提交失败次数
	LastFlush    time.Time `json:"last_flush"`    // 最后一次非空刷新的时间
}

// CommitFunc 在单个键成功提交后被调用，用于把缓存同步到刚持久化的值。
// 仅当该键没有更新的待提交变更时触发；回调在合并器锁内执行，
// 不得再调用合并器自身的方法。
type CommitFunc func(w core.PendingWrite)

// Coalescer 批量写合并器。
// 变更先进入待提交集合，由后台协程在防抖窗口到期后统一刷新。
// 窗口是固定延迟的：窗口已开启时新的变更不会推迟触发时间，
// 从而保证持久化延迟存在上界。
type Coalescer struct {
	backend  store.Backend
	onCommit CommitFunc
	config   Config
	log      *logger.Entry

	mu      sync.Mutex
	pending map[string]core.PendingWrite
	stats   Stats

	kick     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	workerWg sync.WaitGroup
}

// New 创建 Coalescer 并启动后台刷新协程。
// onCommit 可以为 nil，此时成功提交不做缓存同步。
func New(backend store.Backend, config Config, onCommit CommitFunc) *Coalescer {
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}

	c := &Coalescer{
		backend:  backend,
		onCommit: onCommit,
		config:   config,
		log:      logger.WithComponent("coalescer"),
		pending:  make(map[string]core.PendingWrite),
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}

	c.workerWg.Add(1)
	go c.worker()

	return c
}

// Enqueue 记录或覆盖一个键的待提交变更。
// 同键的旧变更被直接替换，不会排队两次。
func (c *Coalescer) Enqueue(w core.PendingWrite) {
	c.mu.Lock()
	c.pending[w.Key] = w
	c.mu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Flush 原子地取出全部待提交变更并逐键并发提交。
// 取出发生在任何I/O之前，刷新期间新进入的变更归入下一批。
// 单个键的提交失败不阻塞、不回滚其他键；等待所有提交完成后
// 返回其中第一个错误（没有失败时为 nil）。空集合刷新是无操作。
func (c *Coalescer) Flush(ctx context.Context) error {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return nil
	}
	batch := c.pending
	c.pending = make(map[string]core.PendingWrite)
	c.mu.Unlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(batch))

	for _, w := range batch {
		wg.Add(1)
		go func(w core.PendingWrite) {
			defer wg.Done()
			if err := c.commit(ctx, w); err != nil {
				errCh <- err
			}
		}(w)
	}
	wg.Wait()
	close(errCh)

	c.mu.Lock()
	c.stats.TotalBatches++
	c.stats.LastFlush = time.Now()
	c.mu.Unlock()

	return <-errCh
}

// commit 把单个变更提交到后端，成功时回调缓存同步。
func (c *Coalescer) commit(ctx context.Context, w core.PendingWrite) error {
	var err error
	switch w.Op {
	case core.OpSet:
		err = c.backend.Set(ctx, w.Key, w.Value)
	case core.OpDelete:
		err = c.backend.Delete(ctx, w.Key)
	}

	if err != nil {
		c.mu.Lock()
		c.stats.CommitErrors++
		c.mu.Unlock()
		c.log.WithError(err).Warnf("提交 %s %q 失败", w.Op, w.Key)
		return err
	}

	c.mu.Lock()
	if w.Op == core.OpSet {
		c.stats.TotalWrites++
	} else {
		c.stats.TotalDeletes++
	}
	// 只有当该键没有更新的待提交变更时才回写缓存：
	// 否则回调会用刚落盘的旧值覆盖调用方在刷新期间写入的新值。
	// 检查与回调必须在同一把锁内，与 Enqueue 串行化。
	_, superseded := c.pending[w.Key]
	if !superseded && c.onCommit != nil {
		c.onCommit(w)
	}
	c.mu.Unlock()
	return nil
}

// Stats 返回当前的运行统计信息。
func (c *Coalescer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.PendingSize = len(c.pending)
	return stats
}

// Close 停止后台协程并做最后一次刷新，把剩余变更写入后端。
func (c *Coalescer) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.workerWg.Wait()
	return c.Flush(context.Background())
}

// worker 后台刷新协程：收到首个变更通知后开启一个固定延迟的窗口，
// 窗口到期统一刷新。窗口开启期间的后续通知被忽略（固定延迟防抖）。
func (c *Coalescer) worker() {
	defer c.workerWg.Done()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-c.kick:
			if fire == nil {
				timer = time.NewTimer(c.config.Debounce)
				fire = timer.C
			}
		case <-fire:
			timer = nil
			fire = nil
			if err := c.Flush(context.Background()); err != nil {
				c.log.WithError(err).Warn("防抖刷新存在失败的提交")
			}
		case <-c.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}
