/*
 * @module service/store/report_store
 * @description 当前报表存储：按报表类型保存最新一次发布的 JSON 文档
 * @architecture 仓储模式 - 内存实现用于单实例与测试，Redis 实现用于多实例共享
 * @documentReference DESIGN.md
 * @stateFlow 空 -> Replace(整批替换) -> Get
 * @rules
 *   - 一次发布的所有报表整体替换，读者不会看到新旧混合的结果
 *   - 读取返回副本，调用方不能修改已发布的报表
 * @dependencies github.com/go-redis/redis/v8
 * @refs service/store/report_service.go
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrReportNotFound 当前没有该类型的报表
var ErrReportNotFound = errors.New("report not found")

// ReportStore 当前报表存储接口
type ReportStore interface {
	// Get 读取某类报表的当前版本
	Get(ctx context.Context, kind string) ([]byte, error)
	// Replace 原子地替换一批报表
	Replace(ctx context.Context, reports map[string][]byte) error
}

// MemoryStore 进程内报表存储
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string][]byte
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string][]byte)}
}

// Get 读取报表
func (m *MemoryStore) Get(ctx context.Context, kind string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	payload, ok := m.reports[kind]
	if !ok {
		return nil, ErrReportNotFound
	}
	return append([]byte(nil), payload...), nil
}

// Replace 替换报表
func (m *MemoryStore) Replace(ctx context.Context, reports map[string][]byte) error {
	next := make(map[string][]byte, len(reports))
	for kind, payload := range reports {
		next[kind] = append([]byte(nil), payload...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for kind, payload := range next {
		m.reports[kind] = payload
	}
	return nil
}

// RedisStore 基于 Redis 的报表存储
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore 创建 Redis 存储
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "insight:report:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (r *RedisStore) key(kind string) string {
	return r.keyPrefix + kind
}

// Get 读取报表
func (r *RedisStore) Get(ctx context.Context, kind string) ([]byte, error) {
	payload, err := r.client.Get(ctx, r.key(kind)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取报表失败: %w", err)
	}
	return payload, nil
}

// Replace 使用 MSET 一次写入全部报表
func (r *RedisStore) Replace(ctx context.Context, reports map[string][]byte) error {
	if len(reports) == 0 {
		return nil
	}
	pairs := make([]interface{}, 0, len(reports)*2)
	for kind, payload := range reports {
		pairs = append(pairs, r.key(kind), payload)
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.client.MSet(ctx, pairs...).Err(); err != nil {
		return fmt.Errorf("写入报表失败: %w", err)
	}
	return nil
}

// Close 关闭客户端
func (r *RedisStore) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
