package cache

import (
	"encoding/json"
	"sync"
	"time"
)

// Cache 通用缓存接口
type Cache interface {
	// Set 设置缓存项，ttl<=0表示永不过期
	Set(key string, value interface{}, ttl time.Duration)

	// Get 获取缓存项
	Get(key string) (interface{}, bool)

	// Delete 删除缓存项
	Delete(key string)

	// Clear 清空所有缓存
	Clear()

	// Size 获取缓存项数量
	Size() int

	// Keys 获取所有键
	Keys() []string
}

// Store 把值编码为JSON后写入缓存，内存和Redis实现都可以用Fetch读取
func Store(c Cache, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.Set(key, data, ttl)
	return nil
}

// Fetch 读取由Store写入的缓存并解码到target
func Fetch(c Cache, key string, target interface{}) bool {
	value, ok := c.Get(key)
	if !ok {
		return false
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return false
	}

	if err := json.Unmarshal(data, target); err != nil {
		c.Delete(key)
		return false
	}
	return true
}

// CacheItem 缓存项
type CacheItem struct {
	Value     interface{}
	ExpiresAt time.Time
}

// IsExpired 检查是否过期
func (item *CacheItem) IsExpired() bool {
	return time.Now().After(item.ExpiresAt)
}

// MemoryCache 基于内存的缓存实现
type MemoryCache struct {
	items sync.Map
}

// NewMemoryCache 创建新的内存缓存
func NewMemoryCache() *MemoryCache {
	cache := &MemoryCache{}

	// 启动清理协程
	go cache.startCleanup()

	return cache
}

// Set 设置缓存项
func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	expiresAt := time.Now().Add(ttl)
	if ttl <= 0 {
		// 永不过期（100年后）
		expiresAt = time.Now().Add(100 * 365 * 24 * time.Hour)
	}

	c.items.Store(key, &CacheItem{
		Value:     value,
		ExpiresAt: expiresAt,
	})
}

// Get 获取缓存项
func (c *MemoryCache) Get(key string) (interface{}, bool) {
	value, exists := c.items.Load(key)
	if !exists {
		return nil, false
	}

	item, ok := value.(*CacheItem)
	if !ok || item.IsExpired() {
		c.items.Delete(key)
		return nil, false
	}

	return item.Value, true
}

// Delete 删除缓存项
func (c *MemoryCache) Delete(key string) {
	c.items.Delete(key)
}

// Clear 清空所有缓存
func (c *MemoryCache) Clear() {
	c.items.Range(func(key, value interface{}) bool {
		c.items.Delete(key)
		return true
	})
}

// Size 获取缓存项数量
func (c *MemoryCache) Size() int {
	count := 0
	c.items.Range(func(key, value interface{}) bool {
		if item, ok := value.(*CacheItem); ok && !item.IsExpired() {
			count++
		}
		return true
	})
	return count
}

// Keys 获取所有有效的键
func (c *MemoryCache) Keys() []string {
	var keys []string
	c.items.Range(func(key, value interface{}) bool {
		if keyStr, ok := key.(string); ok {
			if item, ok := value.(*CacheItem); ok && !item.IsExpired() {
				keys = append(keys, keyStr)
			}
		}
		return true
	})
	return keys
}

// startCleanup 启动定期清理过期项
func (c *MemoryCache) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.cleanup()
	}
}

// cleanup 清理过期项
func (c *MemoryCache) cleanup() {
	var expiredKeys []interface{}

	c.items.Range(func(key, value interface{}) bool {
		if item, ok := value.(*CacheItem); ok && item.IsExpired() {
			expiredKeys = append(expiredKeys, key)
		}
		return true
	})

	for _, key := range expiredKeys {
		c.items.Delete(key)
	}
}

// CacheManager 缓存管理器
type CacheManager struct {
	quotaCache  Cache
	authCache   Cache
	optionCache Cache
	serverCache Cache
}

// NewCacheManager 创建基于内存的缓存管理器
func NewCacheManager() *CacheManager {
	return &CacheManager{
		quotaCache:  NewMemoryCache(),
		authCache:   NewMemoryCache(),
		optionCache: NewMemoryCache(),
		serverCache: NewMemoryCache(),
	}
}

// QuotaCache 客户配额用量缓存
func (cm *CacheManager) QuotaCache() Cache {
	return cm.quotaCache
}

// AuthCache 获取认证缓存
func (cm *CacheManager) AuthCache() Cache {
	return cm.authCache
}

// OptionCache 应用设置缓存
func (cm *CacheManager) OptionCache() Cache {
	return cm.optionCache
}

// ServerCache 投递服务器用量缓存
func (cm *CacheManager) ServerCache() Cache {
	return cm.serverCache
}

// ClearAll 清空所有缓存
func (cm *CacheManager) ClearAll() {
	cm.quotaCache.Clear()
	cm.authCache.Clear()
	cm.optionCache.Clear()
	cm.serverCache.Clear()
}

// GetStats 获取缓存统计信息
func (cm *CacheManager) GetStats() map[string]int {
	return map[string]int{
		"quota":  cm.quotaCache.Size(),
		"auth":   cm.authCache.Size(),
		"option": cm.optionCache.Size(),
		"server": cm.serverCache.Size(),
	}
}

// 全局缓存管理器实例
var GlobalCacheManager = NewCacheManager()
