package cache

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisTimeout = 2 * time.Second

// RedisCache 基于Redis的缓存实现，所有键带统一前缀
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache 创建Redis缓存
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), redisTimeout)
}

// Set 设置缓存项，值必须是[]byte或string，其他类型先编码为JSON
func (c *RedisCache) Set(key string, value interface{}, ttl time.Duration) {
	ctx, cancel := c.ctx()
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}

	switch value.(type) {
	case []byte, string:
	default:
		if err := Store(c, key, value, ttl); err != nil {
			log.Printf("Warning: failed to encode cache value %s: %v", key, err)
		}
		return
	}

	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		log.Printf("Warning: failed to set cache key %s: %v", key, err)
	}
}

// Get 获取缓存项，返回原始字节
func (c *RedisCache) Get(key string) (interface{}, bool) {
	ctx, cancel := c.ctx()
	defer cancel()

	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("Warning: failed to get cache key %s: %v", key, err)
		}
		return nil, false
	}
	return data, true
}

// Delete 删除缓存项
func (c *RedisCache) Delete(key string) {
	ctx, cancel := c.ctx()
	defer cancel()

	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		log.Printf("Warning: failed to delete cache key %s: %v", key, err)
	}
}

// Clear 删除前缀下的所有键
func (c *RedisCache) Clear() {
	keys := c.scan()
	if len(keys) == 0 {
		return
	}

	ctx, cancel := c.ctx()
	defer cancel()

	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = c.prefix + key
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		log.Printf("Warning: failed to clear cache prefix %s: %v", c.prefix, err)
	}
}

// Size 获取缓存项数量
func (c *RedisCache) Size() int {
	return len(c.scan())
}

// Keys 获取所有键（不含前缀）
func (c *RedisCache) Keys() []string {
	return c.scan()
}

func (c *RedisCache) scan() []string {
	ctx, cancel := c.ctx()
	defer cancel()

	var keys []string
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(c.prefix):])
	}
	if err := iter.Err(); err != nil {
		log.Printf("Warning: failed to scan cache prefix %s: %v", c.prefix, err)
	}
	return keys
}

// NewRedisClient 创建Redis客户端并检查连接
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	log.Println("Connected to Redis successfully")
	return client, nil
}

// NewRedisCacheManager 创建基于Redis的缓存管理器，各类缓存使用不同的前缀
func NewRedisCacheManager(client *redis.Client, prefix string) *CacheManager {
	return &CacheManager{
		quotaCache:  NewRedisCache(client, prefix+"quota:"),
		authCache:   NewRedisCache(client, prefix+"auth:"),
		optionCache: NewRedisCache(client, prefix+"option:"),
		serverCache: NewRedisCache(client, prefix+"server:"),
	}
}
