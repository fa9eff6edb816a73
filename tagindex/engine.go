package tagindex

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Operator is the boolean combinator a tag query applies, per §4.4.
type Operator string

const (
	OpAND Operator = "and"
	OpOR  Operator = "or"
	OpNOT Operator = "not"
)

// PagedResult is one page of a tag query, per §4.4's pagination contract.
type PagedResult struct {
	Keys        []string
	Total       int
	Page        int
	PageSize    int
	HasMore     bool
	ExecutionMs float64
	CacheHit    bool
}

// Condition is one clause of a ComplexQuery: match tags under Operator.
type Condition struct {
	Operator Operator
	Tags     []string
}

// Engine ties an Index to a QueryCache, implementing paginated and
// multi-condition tag queries over it.
type Engine struct {
	index *Index
	cache *QueryCache
}

// NewEngine wires index and cache together. cache may be nil to disable
// caching.
func NewEngine(index *Index, cache *QueryCache) *Engine {
	return &Engine{index: index, cache: cache}
}

// normalizeKey builds the cache key per §4.4: sorted tags, lowercased
// operator, db/namespace/operator/tags/page/page_size all participate.
func normalizeKey(db, namespace string, tags []string, op Operator, page, pageSize int) string {
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	var b strings.Builder
	b.WriteString(db)
	b.WriteByte('\x00')
	b.WriteString(namespace)
	b.WriteByte('\x00')
	b.WriteString(strings.ToLower(string(op)))
	b.WriteByte('\x00')
	b.WriteString(strings.Join(sorted, ","))
	b.WriteByte('\x00')
	b.WriteString(strconv.Itoa(page))
	b.WriteByte('\x00')
	b.WriteString(strconv.Itoa(pageSize))
	return b.String()
}

func paginate(keys []string, page, pageSize int) ([]string, bool) {
	if pageSize <= 0 {
		return keys, false
	}
	start := (page - 1) * pageSize
	if start < 0 {
		start = 0
	}
	if start >= len(keys) {
		return nil, false
	}
	end := start + pageSize
	hasMore := end < len(keys)
	if end > len(keys) {
		end = len(keys)
	}
	return keys[start:end], hasMore
}

// QueryPaged runs a single-operator tag query and returns one page of its
// result, consulting (and populating) the query cache.
func (e *Engine) QueryPaged(db, namespace string, tags []string, op Operator, page, pageSize int) PagedResult {
	start := time.Now()
	if page < 1 {
		page = 1
	}

	cacheKey := ""
	if e.cache != nil {
		cacheKey = normalizeKey(db, namespace, tags, op, page, pageSize)
		if keys, total, hasMore, ok := e.cache.Get(cacheKey); ok {
			return PagedResult{
				Keys:        keys,
				Total:       total,
				Page:        page,
				PageSize:    pageSize,
				HasMore:     hasMore,
				ExecutionMs: msSince(start),
				CacheHit:    true,
			}
		}
	}

	full := e.runSingle(db, namespace, tags, op)
	pageKeys, hasMore := paginate(full, page, pageSize)

	if e.cache != nil {
		e.cache.Put(cacheKey, tags, pageKeys, len(full), hasMore)
	}

	return PagedResult{
		Keys:        pageKeys,
		Total:       len(full),
		Page:        page,
		PageSize:    pageSize,
		HasMore:     hasMore,
		ExecutionMs: msSince(start),
	}
}

func (e *Engine) runSingle(db, namespace string, tags []string, op Operator) []string {
	switch op {
	case OpOR:
		return e.index.QueryOR(db, namespace, tags)
	case OpNOT:
		return e.index.QueryNOT(db, namespace, tags)
	default:
		return e.index.QueryAND(db, namespace, tags)
	}
}

// ComplexQuery folds a list of conditions into one result set: each
// condition's own tags are combined with OR to produce that condition's
// key-set, and the condition's Operator governs how that set folds into
// the running result (the first condition initializes the result
// regardless of its own Operator, matching §4.4's "result starts as the
// first condition's set").
func (e *Engine) ComplexQuery(db, namespace string, conditions []Condition, page, pageSize int) PagedResult {
	start := time.Now()
	if page < 1 {
		page = 1
	}

	var result map[string]struct{}
	for i, cond := range conditions {
		condSet := toSet(e.index.QueryOR(db, namespace, cond.Tags))
		if i == 0 {
			result = condSet
			continue
		}
		switch cond.Operator {
		case OpOR:
			for k := range condSet {
				result[k] = struct{}{}
			}
		case OpNOT:
			for k := range condSet {
				delete(result, k)
			}
		default:
			for k := range result {
				if _, ok := condSet[k]; !ok {
					delete(result, k)
				}
			}
		}
	}

	full := e.index.orderedBySet(db, namespace, result)
	pageKeys, hasMore := paginate(full, page, pageSize)

	return PagedResult{
		Keys:        pageKeys,
		Total:       len(full),
		Page:        page,
		PageSize:    pageSize,
		HasMore:     hasMore,
		ExecutionMs: msSince(start),
	}
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
