package cache

import "context"

// Caches groups the two cache tiers the service keeps: derived endpoint
// responses and per-symbol full-history series.
type Caches struct {
	Responses *TTLCache
	Series    *TTLCache
}

// ClearResponses drops the in-process derived responses only, so they are
// rebuilt from the warm series tier. Shared stale copies survive.
func (c *Caches) ClearResponses(context.Context) {
	c.Responses.ClearLocal()
}

// ClearAll drops both tiers, shared store namespaces included.
func (c *Caches) ClearAll(ctx context.Context) {
	c.Responses.Clear(ctx)
	c.Series.Clear(ctx)
}
