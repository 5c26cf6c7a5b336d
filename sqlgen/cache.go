package sqlgen

import (
	"reflect"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// cachedSQL is the msgpack wire form of a compiled statement's SQL text —
// the part of a Statement independent of any one call's bound parameter
// values, and so the part worth sharing across processes through an
// external cache (spec.md §5: "QueryPlans built against a Dialect are
// cached and shared between threads", extended here to sharing the
// compiled SQL text between processes when the cache backing a PlanCache is
// itself shared storage rather than process memory).
type cachedSQL struct {
	SQL string `msgpack:"sql"`
}

// MarshalCachedSQL encodes sql for storage in an external plan cache.
func MarshalCachedSQL(sql string) ([]byte, error) {
	return msgpack.Marshal(&cachedSQL{SQL: sql})
}

// UnmarshalCachedSQL decodes a value previously produced by MarshalCachedSQL.
func UnmarshalCachedSQL(data []byte) (string, error) {
	var c cachedSQL
	if err := msgpack.Unmarshal(data, &c); err != nil {
		return "", err
	}
	return c.SQL, nil
}

// cacheKey identifies one cached SELECT base clause: the root record type
// plus the caller-supplied shape string passed to SelectCached. The entry
// holds only the projection/FROM/JOIN text; BuildOptions are not part of
// the key and their clauses are never cached.
type cacheKey struct {
	rootType reflect.Type
	shape    string
}

// PlanCache is a process-wide cache of SELECT base clauses, safe for
// concurrent use. Entries are stored pre-encoded (MarshalCachedSQL) so the
// in-memory map below can be swapped for a shared, cross-process store
// (backed by an external cache service) without this package depending on
// any particular backend — off by default, opted into by a caller that
// constructs one and passes it to SelectCached.
type PlanCache struct {
	mu      sync.RWMutex
	entries map[cacheKey][]byte
}

// NewPlanCache returns an empty, ready-to-use PlanCache.
func NewPlanCache() *PlanCache {
	return &PlanCache{entries: map[cacheKey][]byte{}}
}

func (c *PlanCache) get(rootType reflect.Type, shape string) (string, bool) {
	c.mu.RLock()
	data, ok := c.entries[cacheKey{rootType, shape}]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	sql, err := UnmarshalCachedSQL(data)
	if err != nil {
		return "", false
	}
	return sql, true
}

func (c *PlanCache) put(rootType reflect.Type, shape string, sql string) {
	data, err := MarshalCachedSQL(sql)
	if err != nil {
		return // a cache miss next time costs a rebuild, nothing worse
	}
	c.mu.Lock()
	c.entries[cacheKey{rootType, shape}] = data
	c.mu.Unlock()
}

// SelectCached behaves like Select, except the projection/FROM/JOIN base
// clause (the part that depends only on the QueryPlan, never on opts) is
// read from cache when present instead of rebuilt from the alias graph. The
// WHERE/GROUP BY/ORDER BY/LIMIT clauses and every bound param are always
// assembled fresh from opts, since those are call-specific and never
// cached. shape should be stable for calls that share the same base clause
// (typically just the root record type is enough; pass a richer shape only
// if the same Go type is planned multiple distinct ways in one process).
func (e *Emitter) SelectCached(cache *PlanCache, shape string, opts BuildOptions) (Statement, error) {
	rootType := e.Plan.Root.Node.Type

	base, ok := cache.get(rootType, shape)
	if !ok {
		var err error
		base, err = e.selectBase()
		if err != nil {
			return Statement{}, err
		}
		cache.put(rootType, shape, base)
	}

	return e.selectTail(base, opts)
}
