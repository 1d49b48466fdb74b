package acl

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/streamtune/acl/oid"
)

// DefaultCacheSize bounds the number of ACL subtrees the default Cache
// keeps resident when no explicit size is requested.
const DefaultCacheSize = 10000

// Cache maps object identity to a fully populated ACL subtree (spec §4.5).
// An AclProvider treats it as untrusted: on any ambiguity (e.g. a cached
// Acl missing a requested Sid) it evicts and falls back to the database
// rather than trusting a partial hit.
type Cache interface {
	// GetByIdentity returns the cached Acl for identity, if present.
	GetByIdentity(identity oid.Oid) (MutableAcl, bool)
	// GetByID returns the cached Acl with the given storage id, if present.
	GetByID(id int64) (MutableAcl, bool)
	// Put stores acl, indexed by both its identity and (if persisted) its id.
	Put(acl MutableAcl)
	// EvictByIdentity removes the Acl cached for identity, if any.
	EvictByIdentity(identity oid.Oid)
	// EvictByID removes the Acl cached under id, if any.
	EvictByID(id int64)
	// Clear empties the cache entirely.
	Clear()
}

// defaultCache is a bounded, LRU-evicted Cache. It keeps a secondary
// id->identity index alongside the identity-keyed LRU so GetByID/EvictByID
// stay O(1) without a second full-size cache; the index is kept in sync
// via the LRU's eviction callback, so an entry aged out by size pressure
// never leaves a dangling id mapping behind.
type defaultCache struct {
	mu      sync.Mutex
	byOid   *lru.Cache[oid.Oid, MutableAcl]
	idIndex map[int64]oid.Oid
}

// NewCache returns the default in-memory Cache, holding at most size ACL
// subtrees. size <= 0 uses DefaultCacheSize.
func NewCache(size int) (Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c := &defaultCache{idIndex: make(map[int64]oid.Oid)}
	evictedCache, err := lru.NewWithEvict(size, func(key oid.Oid, _ MutableAcl) {
		c.mu.Lock()
		for id, o := range c.idIndex {
			if o == key {
				delete(c.idIndex, id)
				break
			}
		}
		c.mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	c.byOid = evictedCache
	return c, nil
}

func (c *defaultCache) GetByIdentity(identity oid.Oid) (MutableAcl, bool) {
	return c.byOid.Get(identity)
}

func (c *defaultCache) GetByID(id int64) (MutableAcl, bool) {
	c.mu.Lock()
	identity, ok := c.idIndex[id]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	return c.byOid.Get(identity)
}

func (c *defaultCache) Put(acl MutableAcl) {
	identity := acl.GetIdentity()
	if id, ok := acl.GetID(); ok {
		c.mu.Lock()
		c.idIndex[id] = identity
		c.mu.Unlock()
	}
	c.byOid.Add(identity, acl)
}

func (c *defaultCache) EvictByIdentity(identity oid.Oid) {
	c.byOid.Remove(identity)
}

func (c *defaultCache) EvictByID(id int64) {
	c.mu.Lock()
	identity, ok := c.idIndex[id]
	c.mu.Unlock()
	if ok {
		c.byOid.Remove(identity)
	}
}

func (c *defaultCache) Clear() {
	c.byOid.Purge()
	c.mu.Lock()
	c.idIndex = make(map[int64]oid.Oid)
	c.mu.Unlock()
}
