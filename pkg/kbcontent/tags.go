package kbcontent

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/exp/slices"
)

// CanonicalTag returns the stored form of a tag name: trimmed, inner
// whitespace collapsed to one space and lower-cased.
func CanonicalTag(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// CanonicalTags canonicalizes names, drops empty entries and duplicates, and
// returns the result sorted.
func CanonicalTags(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if c := CanonicalTag(n); c != "" {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// ParseTagList splits a comma separated tag list into canonical names.
func ParseTagList(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return []string{}
	}
	return CanonicalTags(strings.Split(csv, ","))
}

// TagResolver maps tag names to ids, creating missing tags through the
// caller's transaction. Only ids known to be committed are cached.
type TagResolver struct {
	cache *expirable.LRU[string, uuid.UUID]
}

// NewTagResolver returns a resolver with an LRU of size entries expiring
// after ttl. A size of zero disables caching.
func NewTagResolver(size int, ttl time.Duration) *TagResolver {
	r := &TagResolver{}
	if size > 0 {
		r.cache = expirable.NewLRU[string, uuid.UUID](size, nil, ttl)
	}
	return r
}

// Resolve returns an id for every distinct canonical name in names. Names
// must already be canonical. Datastore errors are returned as-is.
func (r *TagResolver) Resolve(ctx context.Context, tx Tx, names []string) (map[string]uuid.UUID, error) {
	ids := make(map[string]uuid.UUID, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, done := ids[name]; done {
			continue
		}
		if r.cache != nil {
			if id, ok := r.cache.Get(name); ok {
				tagCacheHitsTotal.Inc()
				ids[name] = id
				continue
			}
			tagCacheMissesTotal.Inc()
		}

		id, created, err := tx.UpsertTag(ctx, name)
		if err != nil {
			return nil, err
		}
		ids[name] = id
		if !created && r.cache != nil {
			r.cache.Add(name, id)
		}
	}
	return ids, nil
}

// Remember caches mappings once the transaction that created them committed.
func (r *TagResolver) Remember(ids map[string]uuid.UUID) {
	if r.cache == nil {
		return
	}
	for name, id := range ids {
		r.cache.Add(name, id)
	}
}

// Len reports the number of cached mappings.
func (r *TagResolver) Len() int {
	if r.cache == nil {
		return 0
	}
	return r.cache.Len()
}

func tagIDs(ids map[string]uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b uuid.UUID) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}
