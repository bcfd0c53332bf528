// Package cache stores successful responses keyed by a normalized prompt
// fingerprint, with exact and fuzzy lookup.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"aidispatch/internal/core"
	"aidispatch/internal/util"
)

const defaultScope = "default"

// ResponseCache is a size- and age-bounded response store. Expired entries
// are removed lazily when they are looked up.
type ResponseCache struct {
	mu        sync.Mutex
	entries   map[string]*entry
	maxSize   int
	maxAge    time.Duration
	threshold float64
	now       func() time.Time
	logger    core.Logger

	hits   int64
	misses int64
}

type entry struct {
	Response  string `json:"response"`
	Timestamp int64  `json:"timestamp"`
	created   time.Time
}

// Config response cache configuration
type Config struct {
	MaxSize        int
	MaxAge         time.Duration
	FuzzyThreshold float64
	Now            func() time.Time
	Logger         core.Logger
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Size    int           `json:"size"`
	MaxSize int           `json:"maxSize"`
	MaxAge  time.Duration `json:"maxAge"`
	Hits    int64         `json:"hits"`
	Misses  int64         `json:"misses"`
	HitRate string        `json:"hitRate"`
}

// New creates a response cache
func New(config Config) *ResponseCache {
	c := &ResponseCache{
		entries:   make(map[string]*entry),
		maxSize:   config.MaxSize,
		maxAge:    config.MaxAge,
		threshold: config.FuzzyThreshold,
		now:       config.Now,
		logger:    config.Logger,
	}
	if c.maxSize <= 0 {
		c.maxSize = core.CacheDefaultMaxSize
	}
	if c.maxAge <= 0 {
		c.maxAge = core.CacheDefaultMaxAge
	}
	if c.threshold <= 0 || c.threshold > 1 {
		c.threshold = core.DefaultFuzzyThreshold
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = &core.NopLogger{}
	}
	return c
}

// Normalize lower-cases a prompt, collapses whitespace and caps its length.
func Normalize(prompt string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(prompt)), " ")
	if runes := []rune(normalized); len(runes) > core.CacheFingerprintLength {
		normalized = string(runes[:core.CacheFingerprintLength])
	}
	return normalized
}

func scopePrefix(provider, model string) string {
	if provider == "" {
		provider = defaultScope
	}
	if model == "" {
		model = defaultScope
	}
	return provider + ":" + model + ":"
}

// ContextScope narrows a model scope to one shared context document, so
// questions asked over different documents never share entries.
func ContextScope(model, context string) string {
	if context == "" {
		return model
	}
	sum := sha256.Sum256([]byte(context))
	return model + "#" + hex.EncodeToString(sum[:8])
}

// Fingerprint returns the cache key for a request.
func Fingerprint(prompt, provider, model string) string {
	return scopePrefix(provider, model) + Normalize(prompt)
}

// Similarity is the Jaccard index of the word sets of two normalized prompts.
func Similarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(s)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func (c *ResponseCache) expired(e *entry, now time.Time) bool {
	return now.Sub(e.created) > c.maxAge
}

// Get returns a cached response. The exact fingerprint is checked first;
// on a miss the oldest live entry of the same provider and model whose
// similarity exceeds the fuzzy threshold is returned.
func (c *ResponseCache) Get(prompt, provider, model string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	key := Fingerprint(prompt, provider, model)
	if e, ok := c.entries[key]; ok {
		if !c.expired(e, now) {
			c.hits++
			c.logger.Debug("Cache hit for %s", util.PromptPreview(key))
			return e.Response, true
		}
		delete(c.entries, key)
	}

	if response, ok := c.findSimilar(key, scopePrefix(provider, model), now); ok {
		c.hits++
		c.logger.Debug("Fuzzy cache hit for %s", util.PromptPreview(key))
		return response, true
	}

	c.misses++
	return "", false
}

// findSimilar scans same-scope entries in creation order. Caller holds mu.
func (c *ResponseCache) findSimilar(key, prefix string, now time.Time) (string, bool) {
	candidate := strings.TrimPrefix(key, prefix)
	for _, k := range c.keysByAge() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		e := c.entries[k]
		if c.expired(e, now) {
			delete(c.entries, k)
			continue
		}
		if Similarity(candidate, strings.TrimPrefix(k, prefix)) > c.threshold {
			return e.Response, true
		}
	}
	return "", false
}

// keysByAge returns keys oldest first. Caller holds mu.
func (c *ResponseCache) keysByAge() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]], c.entries[keys[j]]
		if a.created.Equal(b.created) {
			return keys[i] < keys[j]
		}
		return a.created.Before(b.created)
	})
	return keys
}

// Set stores a response. When the cache is full the globally oldest entry
// is evicted first.
func (c *ResponseCache) Set(prompt, response, provider, model string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Fingerprint(prompt, provider, model)
	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.maxSize {
			c.evictOldest()
		}
	}

	now := c.now()
	c.entries[key] = &entry{Response: response, Timestamp: now.UnixMilli(), created: now}
}

// evictOldest removes the entry with the earliest creation time. Caller holds mu.
func (c *ResponseCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.created.Before(oldest) || (e.created.Equal(oldest) && k < oldestKey) {
			oldestKey, oldest = k, e.created
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Clear drops every entry and resets the counters.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.hits = 0
	c.misses = 0
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *ResponseCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	rate := 0
	if total := c.hits + c.misses; total > 0 {
		rate = int(float64(c.hits)/float64(total)*100 + 0.5)
	}
	return Stats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		MaxAge:  c.maxAge,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: fmt.Sprintf("%d%%", rate),
	}
}

// StateKey implements core.Persistable
func (c *ResponseCache) StateKey() string {
	return core.StorageKeyCache
}

// MarshalState stores the newest entries only.
func (c *ResponseCache) MarshalState() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.keysByAge()
	if len(keys) > core.CachePersistedEntries {
		keys = keys[len(keys)-core.CachePersistedEntries:]
	}
	out := make(map[string]*entry, len(keys))
	for _, k := range keys {
		out[k] = c.entries[k]
	}
	return util.MarshalJSON(out)
}

// UnmarshalState restores persisted entries, skipping expired ones.
func (c *ResponseCache) UnmarshalState(data []byte) error {
	var stored map[string]*entry
	if err := util.UnmarshalJSON(data, &stored); err != nil {
		return fmt.Errorf("failed to decode response cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range stored {
		if e == nil {
			continue
		}
		e.created = time.UnixMilli(e.Timestamp)
		if c.expired(e, now) {
			continue
		}
		c.entries[k] = e
	}
	for len(c.entries) > c.maxSize {
		c.evictOldest()
	}
	return nil
}
