package embedding

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheBackend is the minimal contract a cache implementation must satisfy.
type CacheBackend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// --- In-memory LRU cache with TTL ---

// DefaultCacheCapacity bounds the in-memory cache when no capacity is given.
const DefaultCacheCapacity = 4096

type memEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// InMemoryCache is a process-local LRU cache with per-entry TTL and a
// background janitor sweeping expired entries.
type InMemoryCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // front = most recently used
	stopCh   chan struct{}
	stopped  bool
}

// NewInMemoryCache builds an LRU cache of DefaultCacheCapacity entries whose
// janitor sweeps expired entries every `every` interval.
func NewInMemoryCache(every time.Duration) *InMemoryCache {
	return NewInMemoryCacheWithCapacity(every, DefaultCacheCapacity)
}

// NewInMemoryCacheWithCapacity builds an LRU cache bounded to capacity entries.
func NewInMemoryCacheWithCapacity(every time.Duration, capacity int) *InMemoryCache {
	if every <= 0 {
		every = 15 * time.Second
	}
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	c := &InMemoryCache{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		stopCh:   make(chan struct{}),
	}
	go c.janitor(every)
	return c
}

func (c *InMemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	e := el.Value.(*memEntry)
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.order.Remove(el)
		delete(c.items, key)
		return nil, false, nil
	}
	c.order.MoveToFront(el)
	return e.value, true, nil
}

func (c *InMemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*memEntry)
		e.value = append([]byte(nil), value...)
		e.expiresAt = exp
		c.order.MoveToFront(el)
		return nil
	}
	el := c.order.PushFront(&memEntry{key: key, value: append([]byte(nil), value...), expiresAt: exp})
	c.items[key] = el
	for len(c.items) > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*memEntry).key)
	}
	return nil
}

func (c *InMemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	close(c.stopCh)
	c.stopped = true
	return nil
}

func (c *InMemoryCache) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for el := c.order.Back(); el != nil; {
				prev := el.Prev()
				e := el.Value.(*memEntry)
				if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
					c.order.Remove(el)
					delete(c.items, e.key)
				}
				el = prev
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

// --- Redis-backed cache ---

// RedisCache is an out-of-process cache backend for multi-instance deployments.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis using a standard URL.
func NewRedisCache(url string) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	cli := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisCache{client: cli}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisCache) Close() error { return r.client.Close() }

// cacheVector is the JSON envelope stored for a single embedding.
type cacheVector struct {
	Vector []float32 `json:"vector"`
}

func encodeVector(v []float32) ([]byte, error) { return json.Marshal(cacheVector{Vector: v}) }

func decodeVector(b []byte) ([]float32, error) {
	var cv cacheVector
	if err := json.Unmarshal(b, &cv); err != nil {
		return nil, err
	}
	return cv.Vector, nil
}
