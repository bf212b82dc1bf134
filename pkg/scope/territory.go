package scope

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Territory is one node of the territorial forest.
type Territory struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Type     string  `json:"type"` // province, section, locality
	ParentID *string `json:"parent_id,omitempty"`
}

// TerritorySource loads territory rows.
type TerritorySource interface {
	ListAll(ctx context.Context) ([]Territory, error)
}

const (
	// DefaultMaxNodes caps closure expansion. Exceeding it is a loud
	// failure rather than an unbounded walk.
	DefaultMaxNodes = 50000

	defaultCacheSize = 1024
	defaultCacheTTL  = 5 * time.Minute
)

// Resolver expands territory assignments into their descendant closure.
// Closures are cached in an expirable LRU keyed by the sorted root set; the
// TTL bounds how long a hierarchy edit can lag in scope decisions.
type Resolver struct {
	source   TerritorySource
	maxNodes int
	cache    *lru.LRU[string, []string]
}

// NewResolver creates a resolver over the given territory source.
func NewResolver(source TerritorySource) *Resolver {
	return &Resolver{
		source:   source,
		maxNodes: DefaultMaxNodes,
		cache:    lru.NewLRU[string, []string](defaultCacheSize, nil, defaultCacheTTL),
	}
}

// DescendantTerritoryIDs returns the ids of every territory at or below the
// given roots. The walk keeps a visited set so malformed hierarchies with
// cycles terminate, and fails when the closure exceeds the node ceiling.
func (r *Resolver) DescendantTerritoryIDs(ctx context.Context, rootIDs []string) ([]string, error) {
	if len(rootIDs) == 0 {
		return nil, nil
	}

	cacheKey := closureCacheKey(rootIDs)
	if cached, ok := r.cache.Get(cacheKey); ok {
		return cached, nil
	}

	territories, err := r.source.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load territories: %w", err)
	}

	children := make(map[string][]string, len(territories))
	known := make(map[string]bool, len(territories))
	for _, t := range territories {
		known[t.ID] = true
		if t.ParentID != nil {
			children[*t.ParentID] = append(children[*t.ParentID], t.ID)
		}
	}

	visited := make(map[string]bool)
	queue := make([]string, 0, len(rootIDs))
	for _, id := range rootIDs {
		if known[id] && !visited[id] {
			visited[id] = true
			queue = append(queue, id)
		}
	}

	result := make([]string, 0, len(queue))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, id)

		if len(result) > r.maxNodes {
			return nil, fmt.Errorf("territory closure exceeds %d nodes; hierarchy is malformed or too large", r.maxNodes)
		}

		for _, child := range children[id] {
			if !visited[child] {
				visited[child] = true
				queue = append(queue, child)
			}
		}
	}

	r.cache.Add(cacheKey, result)
	return result, nil
}

// EffectiveTerritoryIDs unions a user's primary assignment with any extra
// scope ids, expanding through the descendant closure when expand is set.
// Callers handle the unrestricted top role before getting here.
func (r *Resolver) EffectiveTerritoryIDs(ctx context.Context, primary *string, extra []string, expand bool) ([]string, error) {
	assigned := make([]string, 0, len(extra)+1)
	seen := make(map[string]bool)
	if primary != nil && *primary != "" {
		assigned = append(assigned, *primary)
		seen[*primary] = true
	}
	for _, id := range extra {
		if id != "" && !seen[id] {
			assigned = append(assigned, id)
			seen[id] = true
		}
	}

	if len(assigned) == 0 {
		return nil, nil
	}
	if !expand {
		return assigned, nil
	}
	return r.DescendantTerritoryIDs(ctx, assigned)
}

func closureCacheKey(rootIDs []string) string {
	sorted := make([]string, len(rootIDs))
	copy(sorted, rootIDs)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
