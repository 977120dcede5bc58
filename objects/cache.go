package objects

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/nestormc/nestor/metric"
	"github.com/nestormc/nestor/pkg/cache"
)

// Cache memoizes objects per owner. It never evicts by size: entries leave
// only through Invalidate, Remove or Clear, called by whoever mutated the
// underlying entity.
//
// Objects are stored under the oid they were requested with. Aliases
// declared by the owner's AliasInferrer are indexed on Put so that
// invalidating any alias drops every cached entry of the entity.
type Cache struct {
	mu        sync.RWMutex
	owners    map[string]cache.Cache[*Object]
	aliases   map[string]map[string]string // owner -> alias -> stored oid
	inferrers map[string]AliasInferrer

	registry *metric.MetricsRegistry
	logger   *slog.Logger
}

// NewCache returns an empty cache. registry may be nil.
func NewCache(logger *slog.Logger, registry *metric.MetricsRegistry) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		owners:    make(map[string]cache.Cache[*Object]),
		aliases:   make(map[string]map[string]string),
		inferrers: make(map[string]AliasInferrer),
		registry:  registry,
		logger:    logger.With("component", "object-cache"),
	}
}

// SetInferrer registers the alias inferrer of an owner.
func (c *Cache) SetInferrer(owner string, inf AliasInferrer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if inf == nil {
		delete(c.inferrers, owner)
		return
	}
	c.inferrers[owner] = inf
}

func (c *Cache) ownerCache(owner string, create bool) cache.Cache[*Object] {
	c.mu.RLock()
	oc := c.owners[owner]
	c.mu.RUnlock()
	if oc != nil || !create {
		return oc
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if oc = c.owners[owner]; oc != nil {
		return oc
	}
	oc, err := cache.NewSimple[*Object](cache.WithMetrics[*Object](c.registry, "objects_"+owner))
	if err != nil {
		c.logger.Warn("Object cache metrics unavailable", "owner", owner, "error", err)
		oc, _ = cache.NewSimple[*Object]()
	}
	c.owners[owner] = oc
	return oc
}

// Lookup returns the cached object without refreshing it.
func (c *Cache) Lookup(owner, oid string) (*Object, bool) {
	oc := c.ownerCache(owner, false)
	if oc == nil {
		return nil, false
	}
	return oc.Get(oid)
}

// Put stores o under its oid unless an object is already cached there. It
// returns the cached object and whether o was stored.
func (c *Cache) Put(o *Object) (*Object, bool) {
	oc := c.ownerCache(o.Owner(), true)
	cur, stored, err := oc.SetIfAbsent(o.OID(), o)
	if err != nil {
		// Only empty keys fail, and ParseRef rejects those.
		c.logger.Error("Object cache put failed", "objref", o.Ref(), "error", err)
		return o, false
	}
	if stored {
		c.indexAliases(o)
	}
	return cur, stored
}

func (c *Cache) indexAliases(o *Object) {
	c.mu.RLock()
	inf := c.inferrers[o.Owner()]
	c.mu.RUnlock()
	if inf == nil {
		return
	}
	aliases := inf.InferOIDs(o)

	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.aliases[o.Owner()]
	if idx == nil {
		idx = make(map[string]string)
		c.aliases[o.Owner()] = idx
	}
	for _, a := range aliases {
		if a != o.OID() {
			idx[a] = o.OID()
		}
	}
}

// Invalidate removes o and every alias of o. It must be called by the
// goroutine that mutated the entity, after the mutation.
func (c *Cache) Invalidate(o *Object) {
	owner := o.Owner()

	c.mu.RLock()
	inf := c.inferrers[owner]
	c.mu.RUnlock()

	keys := map[string]struct{}{o.OID(): {}}
	if inf != nil {
		for _, a := range inf.InferOIDs(o) {
			keys[a] = struct{}{}
		}
	}

	c.mu.Lock()
	if idx := c.aliases[owner]; idx != nil {
		for k := range keys {
			if stored, ok := idx[k]; ok {
				keys[stored] = struct{}{}
			}
		}
		for alias, stored := range idx {
			if _, ok := keys[stored]; ok {
				keys[alias] = struct{}{}
			}
		}
		for k := range keys {
			delete(idx, k)
		}
	}
	c.mu.Unlock()

	oc := c.ownerCache(owner, false)
	if oc == nil {
		return
	}
	for k := range keys {
		oc.Delete(k)
	}
	c.logger.Debug("Invalidated object", "objref", o.Ref(), "keys", len(keys))
}

// Remove drops one reference, tolerating misses. Aliases are not followed.
func (c *Cache) Remove(ref string) error {
	owner, oid, err := ParseRef(ref)
	if err != nil {
		return err
	}
	if oc := c.ownerCache(owner, false); oc != nil {
		oc.Delete(oid)
	}
	c.mu.Lock()
	if idx := c.aliases[owner]; idx != nil {
		delete(idx, oid)
	}
	c.mu.Unlock()
	return nil
}

// Clear empties the cache of every owner.
func (c *Cache) Clear() {
	c.mu.Lock()
	owners := make([]cache.Cache[*Object], 0, len(c.owners))
	for _, oc := range c.owners {
		owners = append(owners, oc)
	}
	c.aliases = make(map[string]map[string]string)
	c.mu.Unlock()

	for _, oc := range owners {
		oc.Clear()
	}
}

// Size returns the number of cached entries over all owners.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, oc := range c.owners {
		n += oc.Size()
	}
	return n
}

// OwnerStats summarises the cache of one owner.
type OwnerStats struct {
	Owner   string
	Size    int
	Hits    int64
	Misses  int64
	Aliases int
}

// Stats returns per-owner statistics sorted by owner.
func (c *Cache) Stats() []OwnerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]OwnerStats, 0, len(c.owners))
	for owner, oc := range c.owners {
		st := oc.Stats()
		out = append(out, OwnerStats{
			Owner:   owner,
			Size:    oc.Size(),
			Hits:    st.Hits(),
			Misses:  st.Misses(),
			Aliases: len(c.aliases[owner]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out
}
