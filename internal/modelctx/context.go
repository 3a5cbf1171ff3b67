// Package modelctx implements the Task Model Context (C9): deriving a
// provider from a model name and picking between a task's main model and a
// cheaper mini model for auxiliary operations (commit messages, PR text).
// Grounded on the teacher's internal/models/{catalog,fallback}.go model
// capability catalog.
package modelctx

import (
	"strings"
	"sync"
	"time"

	"github.com/shadow-org/shadow/pkg/models"
)

// catalogEntry describes one known model's provider and default mini-model
// pairing.
type catalogEntry struct {
	provider  models.Provider
	miniModel string
}

// catalog is a small, hand-maintained table of models Shadow knows how to
// drive, mirroring the shape of the teacher's model catalog without its
// much larger multi-vendor surface.
var catalog = map[string]catalogEntry{
	"claude-opus-4-6":   {provider: models.ProviderAnthropic, miniModel: "claude-haiku-4-6"},
	"claude-sonnet-4-6": {provider: models.ProviderAnthropic, miniModel: "claude-haiku-4-6"},
	"gpt-5.2":           {provider: models.ProviderOpenAI, miniModel: "gpt-5.2-mini"},
	"gpt-5.2-pro":       {provider: models.ProviderOpenAI, miniModel: "gpt-5.2-mini"},
}

// ProviderForModel derives the provider family for a model name, falling
// back to prefix matching for models not in the static catalog (new model
// revisions within a known family).
func ProviderForModel(model string) models.Provider {
	if entry, ok := catalog[model]; ok {
		return entry.provider
	}
	switch {
	case strings.HasPrefix(model, "claude-"):
		return models.ProviderAnthropic
	case strings.HasPrefix(model, "gpt-"):
		return models.ProviderOpenAI
	default:
		return models.ProviderAnthropic
	}
}

// DefaultMiniModel returns the mini-model pairing for mainModel, or "" if
// none is known (the caller then falls back to using mainModel for every
// operation).
func DefaultMiniModel(mainModel string) string {
	if entry, ok := catalog[mainModel]; ok {
		return entry.miniModel
	}
	return ""
}

// Build constructs a ModelContext for a new task, resolving the mini model
// from the catalog unless the caller already specified one.
func Build(taskID, mainModel, miniModel string, apiKeys map[models.Provider]string) *models.ModelContext {
	if miniModel == "" {
		miniModel = DefaultMiniModel(mainModel)
	}
	return &models.ModelContext{
		TaskID:    taskID,
		MainModel: mainModel,
		MiniModel: miniModel,
		APIKeys:   apiKeys,
	}
}

// cacheEntry pairs a ModelContext with its expiry.
type cacheEntry struct {
	ctx     *models.ModelContext
	expires time.Time
}

// Cache is a process-local, TTL-bounded cache of ModelContexts keyed by
// task ID, so the Task Stream Kernel doesn't re-derive provider/mini-model
// pairings (and re-read API keys) on every turn of a long-running task.
type Cache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]cacheEntry
}

// NewCache returns a Cache with the given per-entry TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, m: make(map[string]cacheEntry)}
}

// Get returns the cached ModelContext for taskID, or (nil, false) if absent
// or expired.
func (c *Cache) Get(taskID string) (*models.ModelContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.m[taskID]
	if !ok || time.Now().After(entry.expires) {
		delete(c.m, taskID)
		return nil, false
	}
	return entry.ctx, true
}

// Set stores mc for taskID with the cache's configured TTL.
func (c *Cache) Set(taskID string, mc *models.ModelContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[taskID] = cacheEntry{ctx: mc, expires: time.Now().Add(c.ttl)}
}

// Invalidate removes any cached entry for taskID. No kernel path calls it;
// archiving a task leaves its entry to expire with the TTL.
func (c *Cache) Invalidate(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, taskID)
}
