package cache

import (
	"context"
	"encoding/json"
	"path"
	"sync"
	"time"
)

type memoryItem struct {
	data     []byte
	expireAt time.Time
}

// MemoryCache implements Service in process. Values are stored JSON encoded
// so Get behaves like the Redis backend.
type MemoryCache struct {
	mu   sync.Mutex
	data map[string]memoryItem
	now  func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string]memoryItem), now: time.Now}
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	var exp time.Time
	if expiration > 0 {
		exp = mc.now().Add(expiration)
	}
	mc.mu.Lock()
	mc.data[key] = memoryItem{data: data, expireAt: exp}
	mc.mu.Unlock()
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	item, ok := mc.data[key]
	if ok && !item.expireAt.IsZero() && !mc.now().Before(item.expireAt) {
		delete(mc.data, key)
		ok = false
	}
	mc.mu.Unlock()
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(item.data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	for _, k := range keys {
		delete(mc.data, k)
	}
	mc.mu.Unlock()
	return nil
}

// DeleteByPattern accepts glob patterns in the Redis KEYS style.
func (mc *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for k := range mc.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(mc.data, k)
		}
	}
	return nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if item, ok := mc.data[key]; ok && (item.expireAt.IsZero() || mc.now().Before(item.expireAt)) {
		return false, nil
	}
	mc.data[key] = memoryItem{data: []byte(`"locked"`), expireAt: mc.now().Add(ttl)}
	return true, nil
}

func (mc *MemoryCache) Unlock(ctx context.Context, key string) error {
	return mc.Delete(ctx, key)
}

func (mc *MemoryCache) Close() error { return nil }
