// Package redis Redis健康存储：多实例共享Key健康状态和轮询指针
package redis

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"keypool/internal/config"
	apperrors "keypool/internal/errors"
	"keypool/internal/model"
)

// casScript 指针条件更新（Lua脚本在Redis内原子执行）
var casScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur == tonumber(ARGV[1]) then
	redis.call('SET', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// Store Redis存储实现
//
// 键布局（prefix 默认 "keypool:"）：
//
//	{prefix}health:{id}     单个Key的健康记录（JSON）
//	{prefix}health:index    已写入记录的标识符集合（ListHealth / 每日重置使用）
//	{prefix}pointer:{name}  共享轮询指针（整数）
type Store struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// New 根据 REDIS_URL 创建存储并测试连接
func New(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	// 连接池参数
	opts.PoolSize = config.RedisPoolSize
	opts.MinIdleConns = config.RedisMinIdleConns
	opts.ConnMaxLifetime = 5 * time.Minute
	opts.DialTimeout = config.RedisDialTimeout
	opts.ReadTimeout = config.RedisOpTimeout
	opts.WriteTimeout = config.RedisOpTimeout

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, config.RedisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithClient(client, config.RedisKeyPrefix), nil
}

// NewWithClient 使用已有客户端创建存储（测试时接入 miniredis）
func NewWithClient(client *redis.Client, prefix string) *Store {
	return &Store{
		client:  client,
		prefix:  prefix,
		timeout: config.RedisOpTimeout,
	}
}

func (s *Store) healthKey(id string) string { return s.prefix + "health:" + id }
func (s *Store) indexKey() string { return s.prefix + "health:index" }
func (s *Store) pointerKey(name string) string { return s.prefix + "pointer:" + name }

// decodeHealth 解析健康记录，nil 数据返回默认值
func decodeHealth(id string, data []byte) (*model.HealthRecord, error) {
	if data == nil {
		return model.DefaultHealthRecord(id), nil
	}
	rec := model.DefaultHealthRecord(id)
	if err := sonic.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("unmarshal health %s: %w", id, err)
	}
	rec.Identifier = id
	if !rec.Status.IsValid() {
		rec.Status = model.StatusHealthy
	}
	if rec.RecentErrors == nil {
		rec.RecentErrors = []model.ErrorLog{}
	}
	return rec, nil
}

// GetHealth 读取单个Key的健康记录
func (s *Store) GetHealth(ctx context.Context, id string) (*model.HealthRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.healthKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.DefaultHealthRecord(id), nil
	}
	if err != nil {
		return nil, apperrors.DBQueryError("redis get health", err)
	}
	return decodeHealth(id, data)
}

// GetAllHealth MGET 单次往返批量读取
func (s *Store) GetAllHealth(ctx context.Context, ids []string) (map[string]*model.HealthRecord, error) {
	result := make(map[string]*model.HealthRecord, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.healthKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperrors.DBQueryError("redis mget health", err)
	}

	for i, id := range ids {
		var data []byte
		if str, ok := values[i].(string); ok {
			data = []byte(str)
		}
		rec, err := decodeHealth(id, data)
		if err != nil {
			return nil, apperrors.DBQueryError("redis decode health", err)
		}
		result[id] = rec
	}
	return result, nil
}

// ListHealth 通过索引集合列出所有记录
func (s *Store) ListHealth(ctx context.Context) ([]*model.HealthRecord, error) {
	ids, err := s.indexedIDs(ctx)
	if err != nil {
		return nil, err
	}
	all, err := s.GetAllHealth(ctx, ids)
	if err != nil {
		return nil, err
	}

	list := make([]*model.HealthRecord, 0, len(ids))
	for _, id := range ids {
		list = append(list, all[id])
	}
	return list, nil
}

func (s *Store) indexedIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, apperrors.DBQueryError("redis smembers health index", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// MarkSuccess 成功：恢复 HEALTHY
func (s *Store) MarkSuccess(ctx context.Context, id string, now time.Time) (*model.HealthRecord, error) {
	return s.mutate(ctx, id, func(rec *model.HealthRecord) bool {
		rec.RecordSuccess(now)
		return true
	})
}

// MarkFailure 记录Key级失败
func (s *Store) MarkFailure(ctx context.Context, id string, e model.ErrorLog, p model.EjectionPolicy, now time.Time) (*model.HealthRecord, error) {
	return s.mutate(ctx, id, func(rec *model.HealthRecord) bool {
		rec.RecordFailure(e, p, now)
		return true
	})
}

// SetEjection 手动剔除
func (s *Store) SetEjection(ctx context.Context, id string, until, now time.Time) (*model.HealthRecord, error) {
	return s.mutate(ctx, id, func(rec *model.HealthRecord) bool {
		rec.Eject(until, now)
		return true
	})
}

// ResetDailyFailures 逐个清零每日失败计数（每条记录独立乐观事务）
func (s *Store) ResetDailyFailures(ctx context.Context) (int64, error) {
	ids, err := s.indexedIDs(ctx)
	if err != nil {
		return 0, err
	}

	var affected int64
	for _, id := range ids {
		changed := false
		if _, err := s.mutate(ctx, id, func(rec *model.HealthRecord) bool {
			changed = rec.DailyFailureCount > 0
			rec.DailyFailureCount = 0
			return changed
		}); err != nil {
			return affected, err
		}
		if changed {
			affected++
		}
	}
	return affected, nil
}

// mutate WATCH/MULTI 乐观事务读-改-写
// fn 返回 false 表示无需写回
func (s *Store) mutate(ctx context.Context, id string, fn func(*model.HealthRecord) bool) (*model.HealthRecord, error) {
	key := s.healthKey(id)
	var out *model.HealthRecord

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		rec, err := decodeHealth(id, data)
		if err != nil {
			return err
		}

		if !fn(rec) {
			out = rec
			return nil
		}

		encoded, err := sonic.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal health %s: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			pipe.SAdd(ctx, s.indexKey(), id)
			return nil
		})
		if err != nil {
			return err
		}
		out = rec
		return nil
	}

	for attempt := 0; attempt < config.RedisTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, apperrors.DBUpdateError("redis health", id, err)
		}

		// 冲突：短暂随机退避后重试
		backoff := time.Duration(rand.IntN(1000*(attempt+1))) * time.Microsecond
		select {
		case <-ctx.Done():
			return nil, apperrors.DBUpdateError("redis health", id, ctx.Err())
		case <-time.After(backoff):
		}
	}
	return nil, apperrors.DBUpdateError("redis health", id,
		fmt.Errorf("optimistic transaction conflict after %d retries", config.RedisTxRetries))
}

// LoadPointer 读取共享轮询指针
func (s *Store) LoadPointer(ctx context.Context, name string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	str, err := s.client.Get(ctx, s.pointerKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.DBQueryError("redis get pointer", err)
	}
	v, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, apperrors.DBQueryError("redis parse pointer", err)
	}
	return v, nil
}

// CompareAndSwapPointer Lua脚本原子比较并交换
func (s *Store) CompareAndSwapPointer(ctx context.Context, name string, old, next int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := casScript.Run(ctx, s.client, []string{s.pointerKey(name)}, old, next).Int()
	if err != nil {
		return false, apperrors.DBUpdateError("redis pointer", name, err)
	}
	return n == 1, nil
}

// Ping 连通性检查
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close 关闭Redis连接
func (s *Store) Close() error {
	return s.client.Close()
}
