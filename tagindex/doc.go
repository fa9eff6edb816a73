// Package tagindex implements the Tag Index & Query Cache (§4.4): an
// in-memory inverted index (tag -> keys, key -> tags) plus an LRU query
// cache, grounded on original_source/index_manager.py's TagIndex (tag_to_keys
// / key_to_tags defaultdicts with per-tag count/query_count/last_queried
// stats) and LRUCache (OrderedDict-based, hit/miss counters).
//
// The Python LRUCache is reimplemented here on hashicorp/golang-lru (the
// teacher's own indirect dependency via memberlist, promoted to direct),
// and deterministic lexicographic key ordering is produced with
// google/btree (teacher-indirect via pebble, promoted to direct) instead
// of a plain sort.Strings call on every query, so the same ordered
// structure serves both paging and the universe set NOT queries need.
package tagindex
