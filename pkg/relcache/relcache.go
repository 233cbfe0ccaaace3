package relcache

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is the single source of truth for "has this pair ever been judged".
// Lookups are memoized for the lifetime of the Cache and a miss always
// falls through to the store. Stages build one per Run so nothing carries
// over between invocations.
type Cache struct {
	edges store.EdgeStore
	memo  *gocache.Cache
}

// New wraps an edge store. The memo expires entries after ttl; a ttl of
// zero keeps them for the lifetime of the Cache.
func New(edges store.EdgeStore, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &Cache{
		edges: edges,
		memo:  gocache.New(ttl, 0),
	}
}

// Lookup returns the cached edge for the unordered pair (a, b), or nil.
func (c *Cache) Lookup(ctx context.Context, a, b int64) (*common.RelationshipEdge, error) {
	key := common.NewPairKey(a, b)
	found, err := c.LookupMany(ctx, []common.PairKey{key})
	if err != nil {
		return nil, err
	}
	e, ok := found[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// LookupMany returns the cached edges among keys. Keys are canonicalized
// before lookup; missing pairs are absent from the result.
func (c *Cache) LookupMany(ctx context.Context, keys []common.PairKey) (map[common.PairKey]common.RelationshipEdge, error) {
	out := make(map[common.PairKey]common.RelationshipEdge, len(keys))
	missing := make([]common.PairKey, 0, len(keys))
	for _, k := range keys {
		k = common.NewPairKey(k.A, k.B)
		if v, ok := c.memo.Get(k.String()); ok {
			out[k] = v.(common.RelationshipEdge)
			continue
		}
		missing = append(missing, k)
	}
	missing = store.Dedupe(missing)
	if len(missing) == 0 {
		return out, nil
	}

	found, err := c.edges.GetRelationships(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("failed to look up relationships: %w", err)
	}
	for k, e := range found {
		k = common.NewPairKey(k.A, k.B)
		out[k] = e
		c.memo.SetDefault(k.String(), e)
	}
	return out, nil
}

// Upsert stores the classification of (a, b). Last write wins.
func (c *Cache) Upsert(
	ctx context.Context,
	a, b int64,
	rel common.Relationship,
	similarity float64,
	at time.Time,
) error {
	return c.UpsertMany(ctx, []common.RelationshipEdge{{
		ClaimA:       a,
		ClaimB:       b,
		Relationship: rel,
		Similarity:   similarity,
		ClassifiedAt: at,
	}})
}

// UpsertMany canonicalizes and stores edges. Within one call a later edge
// for the same pair replaces an earlier one.
func (c *Cache) UpsertMany(ctx context.Context, edges []common.RelationshipEdge) error {
	if len(edges) == 0 {
		return nil
	}
	byKey := make(map[common.PairKey]int, len(edges))
	canon := make([]common.RelationshipEdge, 0, len(edges))
	for _, e := range edges {
		if e.ClaimA == e.ClaimB {
			return fmt.Errorf("relationship between claim %d and itself", e.ClaimA)
		}
		if _, ok := common.ParseRelationship(string(e.Relationship)); !ok {
			return fmt.Errorf("invalid relationship %q for pair %s", e.Relationship, e.Key())
		}
		k := e.Key()
		e.ClaimA, e.ClaimB = k.A, k.B
		if idx, ok := byKey[k]; ok {
			canon[idx] = e
			continue
		}
		byKey[k] = len(canon)
		canon = append(canon, e)
	}

	if err := c.edges.UpsertRelationships(ctx, canon); err != nil {
		return fmt.Errorf("failed to upsert relationships: %w", err)
	}
	for _, e := range canon {
		c.memo.SetDefault(e.Key().String(), e)
	}
	return nil
}
