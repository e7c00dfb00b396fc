package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"persistcache/pkg/core"
)

// Snapshot 是后端全量数据的序列化快照。
type Snapshot struct {
	ID         string            `json:"id"`                    // 快照唯一标识
	Version    string            `json:"version"`               // 快照格式版本
	CreatedAt  time.Time         `json:"created_at"`            // 快照创建时间
	Data       map[string]string `json:"data"`                  // 键到序列化值的映射
	FailedKeys []string          `json:"failed_keys,omitempty"` // 导出失败的键
	Partial    bool              `json:"partial"`               // 是否为部分导出
}

// ExportAll 并行读取后端所有键并打包为快照。
// 单个键的读取失败不中止整个导出：失败的键被记入 FailedKeys，
// 快照标记为部分导出。只有键枚举本身失败才返回错误。
func (s *Service) ExportAll(ctx context.Context) (*Snapshot, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, core.WrapError(core.ErrStorageUnavailable, "failed to enumerate keys for export", err)
	}

	snapshot := &Snapshot{
		ID:        uuid.New().String(),
		Version:   s.config.Version,
		CreatedAt: time.Now(),
		Data:      make(map[string]string, len(keys)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()

			value, err := s.backend.Get(ctx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if core.IsCode(err, core.ErrStoreNotFound) {
					// 枚举和读取之间键被删除，跳过即可
					return
				}
				s.log.WithError(err).Warnf("导出键 %q 失败", key)
				snapshot.FailedKeys = append(snapshot.FailedKeys, key)
				return
			}
			snapshot.Data[key] = value
		}(key)
	}
	wg.Wait()

	snapshot.Partial = len(snapshot.FailedKeys) > 0
	s.log.Infof("导出完成: %d 个键, %d 个失败", len(snapshot.Data), len(snapshot.FailedKeys))
	return snapshot, nil
}

// ImportAll 清空缓存后把快照中的每个键写回后端。
// 快照版本与服务版本不一致只记录日志，不中止导入；
// 单个键的写入失败同样只记录并继续，最后返回首个失败（全部成功时为 nil）。
func (s *Service) ImportAll(ctx context.Context, snapshot *Snapshot) error {
	if snapshot == nil {
		return core.NewError(core.ErrDeserializeFailed, "nil snapshot")
	}

	if snapshot.Version != s.config.Version {
		s.log.Warnf("快照版本 %q 与服务版本 %q 不一致，继续导入", snapshot.Version, s.config.Version)
	}

	s.cache.Clear()

	var firstErr error
	failed := 0
	for key, value := range snapshot.Data {
		if err := s.backend.Set(ctx, key, value); err != nil {
			s.log.WithError(err).Warnf("导入键 %q 失败", key)
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.log.Infof("导入完成: %d 个键, %d 个失败", len(snapshot.Data)-failed, failed)
	return firstErr
}

// EncodeSnapshot 把快照序列化为JSON字节流。
func EncodeSnapshot(snapshot *Snapshot) ([]byte, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, core.WrapError(core.ErrSerializeFailed, "failed to encode snapshot", err)
	}
	return data, nil
}

// DecodeSnapshot 从JSON字节流反序列化快照。
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, core.WrapError(core.ErrDeserializeFailed, "failed to decode snapshot", err)
	}
	return &snapshot, nil
}
