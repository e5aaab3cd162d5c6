/*
 * @module service/distributed_lock/redis_lock
 * @description 分布式锁，保证多实例部署时同一时刻只有一个流水线运行
 * @architecture 工具层 - 提供分布式锁能力
 * @documentReference DESIGN.md
 * @stateFlow 获取锁 -> 执行流水线 -> 释放锁/自动过期
 * @rules 使用Redis SET NX实现，支持锁续期和自动过期；未配置Redis时退化为进程内锁
 * @dependencies github.com/go-redis/redis/v8
 * @refs service/init.go, service/scheduler/pipeline_scheduler.go
 */

package distributed_lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrLockHeld 锁已被其他实例持有
var ErrLockHeld = errors.New("lock is held by another instance")

// DistributedLock 分布式锁接口
type DistributedLock interface {
	// TryLock 尝试获取锁
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Unlock 释放锁
	Unlock(ctx context.Context, key string) error
	// Refresh 刷新锁的过期时间
	Refresh(ctx context.Context, key string, ttl time.Duration) error
	// IsLocked 检查锁是否存在
	IsLocked(ctx context.Context, key string) (bool, error)
}

const (
	defaultKeyPrefix = "insight:lock:"

	unlockScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	refreshScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
)

// RedisLock Redis分布式锁实现
type RedisLock struct {
	client     *redis.Client
	keyPrefix  string
	instanceID string // 实例ID，用于标识锁的持有者
}

// NewRedisLock 基于已有客户端创建Redis分布式锁
func NewRedisLock(client *redis.Client, keyPrefix string) *RedisLock {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	hostname, _ := os.Hostname()
	instanceID := fmt.Sprintf("%s:%d", hostname, os.Getpid())

	slog.Info("Redis分布式锁初始化成功", "instance_id", instanceID, "prefix", keyPrefix)
	return &RedisLock{client: client, keyPrefix: keyPrefix, instanceID: instanceID}
}

func (r *RedisLock) lockKey(key string) string {
	return r.keyPrefix + key
}

// TryLock 尝试获取锁
// 使用SET NX命令，只有当key不存在时才会设置成功
func (r *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	result, err := r.client.SetNX(ctx, r.lockKey(key), r.instanceID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("获取锁失败: %w", err)
	}
	if result {
		slog.Debug("分布式锁: 成功获取锁", "key", key, "ttl", ttl, "instance", r.instanceID)
	}
	return result, nil
}

// Unlock 释放锁，只有锁的持有者才能释放
func (r *RedisLock) Unlock(ctx context.Context, key string) error {
	result, err := r.client.Eval(ctx, unlockScript, []string{r.lockKey(key)}, r.instanceID).Int64()
	if err != nil {
		return fmt.Errorf("释放锁失败: %w", err)
	}
	if result == 1 {
		slog.Debug("分布式锁: 成功释放锁", "key", key, "instance", r.instanceID)
	} else {
		slog.Warn("分布式锁: 锁不存在或已被其他实例持有", "key", key, "instance", r.instanceID)
	}
	return nil
}

// Refresh 刷新锁的过期时间
func (r *RedisLock) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	result, err := r.client.Eval(ctx, refreshScript, []string{r.lockKey(key)}, r.instanceID, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("刷新锁失败: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("锁不存在或已被其他实例持有")
	}
	return nil
}

// IsLocked 检查锁是否存在
func (r *RedisLock) IsLocked(ctx context.Context, key string) (bool, error) {
	exists, err := r.client.Exists(ctx, r.lockKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("检查锁状态失败: %w", err)
	}
	return exists > 0, nil
}

// LocalLock 进程内锁，单实例部署或未配置Redis时使用
type LocalLock struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewLocalLock 创建进程内锁
func NewLocalLock() *LocalLock {
	return &LocalLock{expires: make(map[string]time.Time), now: time.Now}
}

// TryLock 尝试获取锁，过期的锁视为已释放
func (l *LocalLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if exp, ok := l.expires[key]; ok && l.now().Before(exp) {
		return false, nil
	}
	l.expires[key] = l.now().Add(ttl)
	return true, nil
}

// Unlock 释放锁
func (l *LocalLock) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.expires, key)
	return nil
}

// Refresh 刷新锁的过期时间
func (l *LocalLock) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.expires[key]; !ok {
		return fmt.Errorf("锁不存在: %s", key)
	}
	l.expires[key] = l.now().Add(ttl)
	return nil
}

// IsLocked 检查锁是否存在
func (l *LocalLock) IsLocked(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.expires[key]
	return ok && l.now().Before(exp), nil
}

// LockExecutor 带锁执行器，用于简化锁的使用
type LockExecutor struct {
	lock DistributedLock
}

// NewLockExecutor 创建带锁执行器
func NewLockExecutor(lock DistributedLock) *LockExecutor {
	return &LockExecutor{lock: lock}
}

// ExecuteWithLock 在锁保护下执行函数，锁被占用时返回 ErrLockHeld
func (e *LockExecutor) ExecuteWithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	locked, err := e.lock.TryLock(ctx, key, ttl)
	if err != nil {
		return fmt.Errorf("获取锁失败: %w", err)
	}
	if !locked {
		slog.Debug("分布式锁: 锁已被其他实例持有，跳过执行", "key", key)
		return ErrLockHeld
	}

	defer func() {
		if unlockErr := e.lock.Unlock(context.Background(), key); unlockErr != nil {
			slog.Error("分布式锁: 释放锁失败", "key", key, "error", unlockErr)
		}
	}()

	return fn()
}

// ExecuteWithLockAndRefresh 在锁保护下执行函数，并按 refreshInterval 自动续期
func (e *LockExecutor) ExecuteWithLockAndRefresh(ctx context.Context, key string, ttl time.Duration, refreshInterval time.Duration, fn func() error) error {
	locked, err := e.lock.TryLock(ctx, key, ttl)
	if err != nil {
		return fmt.Errorf("获取锁失败: %w", err)
	}
	if !locked {
		slog.Debug("分布式锁: 锁已被其他实例持有，跳过执行", "key", key)
		return ErrLockHeld
	}

	refreshCtx, cancelRefresh := context.WithCancel(ctx)
	defer cancelRefresh()

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				if refreshErr := e.lock.Refresh(refreshCtx, key, ttl); refreshErr != nil {
					slog.Error("分布式锁: 续期失败", "key", key, "error", refreshErr)
				}
			}
		}
	}()

	defer func() {
		cancelRefresh()
		if unlockErr := e.lock.Unlock(context.Background(), key); unlockErr != nil {
			slog.Error("分布式锁: 释放锁失败", "key", key, "error", unlockErr)
		}
	}()

	return fn()
}
