package store

import (
	"context"

	nadb "github.com/nadb-org/nadb"
	"github.com/nadb-org/nadb/backend"
	"github.com/nadb-org/nadb/tagindex"
)

// QueryByTags returns every key holding ALL of tags, enriched with its
// metadata record, per §4.9's AND-semantics query_by_tags.
func (s *Store) QueryByTags(ctx context.Context, tags []string) (map[string]backend.Record, error) {
	if s.engine == nil {
		return nil, nadb.NewError(nadb.CodeUnsupported, "indexing is disabled on this store")
	}
	result := s.engine.QueryPaged(s.db, s.namespace, tags, tagindex.OpAND, 1, 0)
	return s.enrich(ctx, result.Keys)
}

// QueryByTagsAdvanced runs a single-operator paged tag query, per §4.9's
// query_by_tags_advanced.
func (s *Store) QueryByTagsAdvanced(ctx context.Context, tags []string, operator string, page, pageSize int) (tagindex.PagedResult, error) {
	if s.engine == nil {
		return tagindex.PagedResult{}, nadb.NewError(nadb.CodeUnsupported, "indexing is disabled on this store")
	}
	return s.engine.QueryPaged(s.db, s.namespace, tags, parseOperator(operator), page, pageSize), nil
}

// ComplexQuery runs a multi-condition tag query, per §4.4/§4.9.
func (s *Store) ComplexQuery(ctx context.Context, conditions []tagindex.Condition, page, pageSize int) (tagindex.PagedResult, error) {
	if s.engine == nil {
		return tagindex.PagedResult{}, nadb.NewError(nadb.CodeUnsupported, "indexing is disabled on this store")
	}
	return s.engine.ComplexQuery(s.db, s.namespace, conditions, page, pageSize), nil
}

// ListAllTags returns every known tag in this (db, namespace) with the
// number of live keys carrying it, per §4.9.
func (s *Store) ListAllTags(ctx context.Context) (map[string]int, error) {
	if s.index == nil {
		return nil, nadb.NewError(nadb.CodeUnsupported, "indexing is disabled on this store")
	}
	return s.index.TagCounts(s.db, s.namespace), nil
}

func parseOperator(s string) tagindex.Operator {
	switch tagindex.Operator(s) {
	case tagindex.OpOR, tagindex.OpNOT:
		return tagindex.Operator(s)
	default:
		return tagindex.OpAND
	}
}

func (s *Store) enrich(ctx context.Context, keys []string) (map[string]backend.Record, error) {
	out := make(map[string]backend.Record, len(keys))
	for _, key := range keys {
		rec, found, err := s.getMetadata(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		out[key] = rec
	}
	return out, nil
}
