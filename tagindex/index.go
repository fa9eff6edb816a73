package tagindex

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"
)

// TagStat mirrors original_source's tag_stats entry: count (live members),
// query_count (popularity), and the last time the tag was queried.
type TagStat struct {
	Count       int
	QueryCount  int64
	LastQueried time.Time
}

type stringItem string

func (s stringItem) Less(than btree.Item) bool {
	return s < than.(stringItem)
}

// Index is the in-memory inverted tag index for one store instance,
// scoped internally by (db, namespace) so a single Index can back every
// db/namespace pair a store manages.
type Index struct {
	mu sync.RWMutex

	// tagToKeys/keyToTags are keyed by a "db\x00namespace\x00tag-or-key"
	// composite so one Index instance serves every (db, namespace) pair.
	tagToKeys map[string]map[string]struct{}
	keyToTags map[string]map[string]struct{}
	tagStats  map[string]*TagStat

	// universe holds, per (db, namespace), every known key in a btree for
	// deterministic lexicographic iteration (paging and NOT queries).
	universe map[string]*btree.BTree
}

// New creates an empty Index.
func New() *Index {
	return &Index{
		tagToKeys: make(map[string]map[string]struct{}),
		keyToTags: make(map[string]map[string]struct{}),
		tagStats:  make(map[string]*TagStat),
		universe:  make(map[string]*btree.BTree),
	}
}

func scopeKey(db, namespace string) string { return db + "\x00" + namespace }
func compositeKey(db, namespace, s string) string { return db + "\x00" + namespace + "\x00" + s }

// AddKey (re)indexes key under tags, replacing whatever tags it previously
// held, per original_source TagIndex.add_key.
func (idx *Index) AddKey(db, namespace, key string, tags []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ck := compositeKey(db, namespace, key)
	if old, ok := idx.keyToTags[ck]; ok {
		for oldTag := range old {
			idx.unindexLocked(db, namespace, oldTag, key)
		}
	}

	newTags := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		newTags[tag] = struct{}{}
		idx.indexLocked(db, namespace, tag, key)
	}
	if len(newTags) == 0 {
		delete(idx.keyToTags, ck)
	} else {
		idx.keyToTags[ck] = newTags
	}

	sk := scopeKey(db, namespace)
	tr, ok := idx.universe[sk]
	if !ok {
		tr = btree.New(32)
		idx.universe[sk] = tr
	}
	tr.ReplaceOrInsert(stringItem(key))
}

// RemoveKey drops key from every tag it belongs to and from the universe.
func (idx *Index) RemoveKey(db, namespace, key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ck := compositeKey(db, namespace, key)
	if tags, ok := idx.keyToTags[ck]; ok {
		for tag := range tags {
			idx.unindexLocked(db, namespace, tag, key)
		}
		delete(idx.keyToTags, ck)
	}
	if tr, ok := idx.universe[scopeKey(db, namespace)]; ok {
		tr.Delete(stringItem(key))
	}
}

func (idx *Index) indexLocked(db, namespace, tag, key string) {
	tk := compositeKey(db, namespace, tag)
	set, ok := idx.tagToKeys[tk]
	if !ok {
		set = make(map[string]struct{})
		idx.tagToKeys[tk] = set
	}
	if _, exists := set[key]; !exists {
		set[key] = struct{}{}
		stat, ok := idx.tagStats[tk]
		if !ok {
			stat = &TagStat{}
			idx.tagStats[tk] = stat
		}
		stat.Count++
	}
}

func (idx *Index) unindexLocked(db, namespace, tag, key string) {
	tk := compositeKey(db, namespace, tag)
	set, ok := idx.tagToKeys[tk]
	if !ok {
		return
	}
	if _, exists := set[key]; !exists {
		return
	}
	delete(set, key)
	if stat, ok := idx.tagStats[tk]; ok {
		stat.Count--
	}
	if len(set) == 0 {
		delete(idx.tagToKeys, tk)
		delete(idx.tagStats, tk)
	}
}

// recordQuery bumps query_count/last_queried for every tag in tags,
// mirroring query_tags_and/or's statistics update.
func (idx *Index) recordQuery(db, namespace string, tags []string) {
	now := time.Now()
	for _, tag := range tags {
		if stat, ok := idx.tagStats[compositeKey(db, namespace, tag)]; ok {
			stat.QueryCount++
			stat.LastQueried = now
		}
	}
}

// QueryAND returns every key (db, namespace) holding ALL of tags, ordered
// lexicographically. Smallest candidate tag sets are intersected first
// (the intersection reordering `optimize()` describes), per
// tag_stats.count ascending.
func (idx *Index) QueryAND(db, namespace string, tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	idx.mu.Lock()
	idx.recordQuery(db, namespace, tags)
	ordered := append([]string(nil), tags...)
	sort.Slice(ordered, func(i, j int) bool {
		return idx.tagSetSizeLocked(db, namespace, ordered[i]) < idx.tagSetSizeLocked(db, namespace, ordered[j])
	})

	var result map[string]struct{}
	for _, tag := range ordered {
		set := idx.tagToKeys[compositeKey(db, namespace, tag)]
		if result == nil {
			result = make(map[string]struct{}, len(set))
			for k := range set {
				result[k] = struct{}{}
			}
		} else {
			for k := range result {
				if _, ok := set[k]; !ok {
					delete(result, k)
				}
			}
		}
		if len(result) == 0 {
			break
		}
	}
	idx.mu.Unlock()

	return idx.orderedBySet(db, namespace, result)
}

func (idx *Index) tagSetSizeLocked(db, namespace, tag string) int {
	return len(idx.tagToKeys[compositeKey(db, namespace, tag)])
}

// QueryOR returns every key holding ANY of tags.
func (idx *Index) QueryOR(db, namespace string, tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	idx.mu.Lock()
	idx.recordQuery(db, namespace, tags)
	result := make(map[string]struct{})
	for _, tag := range tags {
		for k := range idx.tagToKeys[compositeKey(db, namespace, tag)] {
			result[k] = struct{}{}
		}
	}
	idx.mu.Unlock()
	return idx.orderedBySet(db, namespace, result)
}

// QueryNOT returns every known key in (db, namespace) holding NONE of tags.
func (idx *Index) QueryNOT(db, namespace string, tags []string) []string {
	idx.mu.Lock()
	idx.recordQuery(db, namespace, tags)
	exclude := make(map[string]struct{})
	for _, tag := range tags {
		for k := range idx.tagToKeys[compositeKey(db, namespace, tag)] {
			exclude[k] = struct{}{}
		}
	}
	idx.mu.Unlock()

	var out []string
	idx.mu.RLock()
	tr := idx.universe[scopeKey(db, namespace)]
	idx.mu.RUnlock()
	if tr == nil {
		return nil
	}
	tr.Ascend(func(item btree.Item) bool {
		k := string(item.(stringItem))
		if _, excluded := exclude[k]; !excluded {
			out = append(out, k)
		}
		return true
	})
	return out
}

// orderedBySet walks the (db, namespace) universe in lexicographic order,
// emitting only the keys present in set.
func (idx *Index) orderedBySet(db, namespace string, set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	idx.mu.RLock()
	tr := idx.universe[scopeKey(db, namespace)]
	idx.mu.RUnlock()
	if tr == nil {
		return nil
	}
	out := make([]string, 0, len(set))
	tr.Ascend(func(item btree.Item) bool {
		k := string(item.(stringItem))
		if _, ok := set[k]; ok {
			out = append(out, k)
		}
		return true
	})
	return out
}

// TagCounts returns, for one (db, namespace) scope, every tag currently in
// use and how many live keys carry it, per §4.9's list_all_tags.
func (idx *Index) TagCounts(db, namespace string) map[string]int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	prefix := scopeKey(db, namespace) + "\x00"
	out := make(map[string]int)
	for composite, set := range idx.tagToKeys {
		if !strings.HasPrefix(composite, prefix) {
			continue
		}
		out[composite[len(prefix):]] = len(set)
	}
	return out
}

// TagPopularity is one entry of PopularTags' result.
type TagPopularity struct {
	Tag        string
	QueryCount int64
}

// PopularTags returns the most-queried tags across every (db, namespace),
// mirroring TagIndex.get_popular_tags.
func (idx *Index) PopularTags(limit int) []TagPopularity {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]TagPopularity, 0, len(idx.tagStats))
	for composite, stat := range idx.tagStats {
		// composite is "db\x00namespace\x00tag"; strip the scope prefix for
		// display, keeping just the tag name.
		tag := composite
		if i := secondNullIndex(composite); i >= 0 {
			tag = composite[i+1:]
		}
		out = append(out, TagPopularity{Tag: tag, QueryCount: stat.QueryCount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueryCount > out[j].QueryCount })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// secondNullIndex returns the index of the second \x00 in s (the boundary
// between "db\x00namespace" and the tag name that follows it), or -1 if s
// doesn't contain two \x00 separators.
func secondNullIndex(s string) int {
	count := 0
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			count++
			if count == 2 {
				return i
			}
		}
	}
	return -1
}
