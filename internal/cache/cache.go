// Package cache provides the TTL cache that sits in front of scrape
// executions, keyed by operation fingerprint.
package cache

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"

	"github.com/scrapeworks/osint-worker/api/types"
	"github.com/scrapeworks/osint-worker/internal/config"
)

// TTLClass names a category of cached data with its own expiry duration.
type TTLClass string

const (
	ClassUserData     TTLClass = "user_data"
	ClassTimelineData TTLClass = "timeline_data"
	ClassTaskResult   TTLClass = "task_result"
)

// ClassFor maps an operation type to the TTL class its results are cached
// under. Timelines are slow-moving relative to user lookups and get the
// longer TTL.
func ClassFor(op types.OperationType) TTLClass {
	if op == types.OperationTimeline {
		return ClassTimelineData
	}
	return ClassUserData
}

// Default values
const (
	defaultMaxSize         = 1000
	cleanupInterval        = time.Minute
	defaultTTLUserData     = 3600 * time.Second
	defaultTTLTimelineData = 21600 * time.Second
	defaultTTLTaskResult   = 86400 * time.Second
)

type Config struct {
	MaxSize int
	TTL     map[TTLClass]time.Duration
}

// ConfigFrom reads the cache settings out of the job configuration.
func ConfigFrom(jc config.JobConfiguration) Config {
	return Config{
		MaxSize: jc.GetInt("result_cache_max_size", defaultMaxSize),
		TTL: map[TTLClass]time.Duration{
			ClassUserData:     jc.GetDuration("cache_ttl_user_data", int(defaultTTLUserData/time.Second)),
			ClassTimelineData: jc.GetDuration("cache_ttl_timeline_data", int(defaultTTLTimelineData/time.Second)),
			ClassTaskResult:   jc.GetDuration("cache_ttl_task_result", int(defaultTTLTaskResult/time.Second)),
		},
	}
}

type cacheEntry struct {
	key       string
	payload   json.RawMessage
	expiresAt time.Time
	element   *list.Element // pointer to the element in the list
}

// Cache maps fingerprints to payloads with class-specific TTLs. Expiry is
// enforced lazily on read and by a periodic sweep; size is bounded by LRU
// eviction. A read never returns an entry past its TTL.
type Cache struct {
	lock    sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // oldest at Front, newest at Back
	maxSize int
	ttl     map[TTLClass]time.Duration
	now     func() time.Time
}

// New creates a Cache and starts its background sweep.
func New(cfg Config) *Cache {
	c := NewWithClock(cfg, time.Now)
	go c.periodicCleanup()
	return c
}

// NewWithClock creates a Cache with an injectable clock and no background
// sweep. Used by tests that advance time manually.
func NewWithClock(cfg Config, now func() time.Time) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	ttl := map[TTLClass]time.Duration{
		ClassUserData:     defaultTTLUserData,
		ClassTimelineData: defaultTTLTimelineData,
		ClassTaskResult:   defaultTTLTaskResult,
	}
	for class, d := range cfg.TTL {
		if d > 0 {
			ttl[class] = d
		}
	}
	return &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		maxSize: cfg.MaxSize,
		ttl:     ttl,
		now:     now,
	}
}

// TTLFor returns the configured expiry duration of a TTL class.
func (c *Cache) TTLFor(class TTLClass) time.Duration {
	return c.ttl[class]
}

// Put stores a payload under the fingerprint. A fresher write for the same
// fingerprint wins unconditionally.
func (c *Cache) Put(fingerprint string, payload json.RawMessage, class TTLClass) {
	c.lock.Lock()
	defer c.lock.Unlock()

	expiresAt := c.now().Add(c.ttl[class])
	if entry, exists := c.entries[fingerprint]; exists {
		entry.payload = payload
		entry.expiresAt = expiresAt
		c.order.MoveToBack(entry.element)
		return
	}

	entry := &cacheEntry{
		key:       fingerprint,
		payload:   payload,
		expiresAt: expiresAt,
	}
	entry.element = c.order.PushBack(entry)
	c.entries[fingerprint] = entry

	for len(c.entries) > c.maxSize {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		oldestEntry := oldest.Value.(*cacheEntry)
		delete(c.entries, oldestEntry.key)
		c.order.Remove(oldest)
	}
}

// Get returns the payload stored under the fingerprint, if present and
// within its TTL. Expired entries read as not-found and are evicted.
func (c *Cache) Get(fingerprint string) (json.RawMessage, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	entry, exists := c.entries[fingerprint]
	if !exists {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		c.order.Remove(entry.element)
		delete(c.entries, fingerprint)
		return nil, false
	}
	return entry.payload, true
}

// Len reports the number of live entries, counting unreaped expired ones.
func (c *Cache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.entries)
}

func (c *Cache) periodicCleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.cleanupExpired()
	}
}

func (c *Cache) cleanupExpired() {
	c.lock.Lock()
	defer c.lock.Unlock()
	now := c.now()
	for e := c.order.Front(); e != nil; {
		next := e.Next()
		entry := e.Value.(*cacheEntry)
		if !now.Before(entry.expiresAt) {
			delete(c.entries, entry.key)
			c.order.Remove(e)
		}
		e = next
	}
}
