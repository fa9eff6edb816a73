package tagindex

import "testing"

func newTestEngine(t *testing.T) (*Engine, *Index) {
	t.Helper()
	idx := New()
	cache, err := NewQueryCache(64, 0)
	if err != nil {
		t.Fatalf("NewQueryCache: %v", err)
	}
	return NewEngine(idx, cache), idx
}

func TestNormalizeKeyIgnoresTagOrderAndOperatorCase(t *testing.T) {
	a := normalizeKey("db", "ns", []string{"b", "a"}, Operator("AND"), 1, 10)
	b := normalizeKey("db", "ns", []string{"a", "b"}, OpAND, 1, 10)
	if a != b {
		t.Fatalf("expected equal cache keys, got %q vs %q", a, b)
	}
}

func TestQueryPagedReturnsPageAndCaches(t *testing.T) {
	e, idx := newTestEngine(t)
	for i := 0; i < 5; i++ {
		idx.AddKey("db1", "ns1", string(rune('a'+i)), []string{"tag"})
	}

	r1 := e.QueryPaged("db1", "ns1", []string{"tag"}, OpAND, 1, 2)
	if r1.CacheHit || len(r1.Keys) != 2 || r1.Total != 5 || !r1.HasMore {
		t.Fatalf("unexpected first page: %+v", r1)
	}

	r2 := e.QueryPaged("db1", "ns1", []string{"tag"}, OpAND, 1, 2)
	if !r2.CacheHit || len(r2.Keys) != 2 {
		t.Fatalf("expected cache hit on repeat query: %+v", r2)
	}
}

func TestQueryPagedLastPageHasMoreFalse(t *testing.T) {
	e, idx := newTestEngine(t)
	idx.AddKey("db1", "ns1", "a", []string{"tag"})
	idx.AddKey("db1", "ns1", "b", []string{"tag"})

	r := e.QueryPaged("db1", "ns1", []string{"tag"}, OpAND, 2, 1)
	if r.HasMore || len(r.Keys) != 1 {
		t.Fatalf("unexpected last page: %+v", r)
	}
}

func TestComplexQueryANDThenNOT(t *testing.T) {
	e, idx := newTestEngine(t)
	idx.AddKey("db1", "ns1", "a", []string{"red", "small"})
	idx.AddKey("db1", "ns1", "b", []string{"red", "large"})
	idx.AddKey("db1", "ns1", "c", []string{"red", "small", "archived"})

	r := e.ComplexQuery("db1", "ns1", []Condition{
		{Operator: OpAND, Tags: []string{"small"}},
		{Operator: OpNOT, Tags: []string{"archived"}},
	}, 1, 10)

	if len(r.Keys) != 1 || r.Keys[0] != "a" {
		t.Fatalf("ComplexQuery = %+v, want [a]", r)
	}
}

func TestComplexQueryFirstConditionInitializesResult(t *testing.T) {
	e, idx := newTestEngine(t)
	idx.AddKey("db1", "ns1", "a", []string{"red"})
	idx.AddKey("db1", "ns1", "b", []string{"blue"})

	r := e.ComplexQuery("db1", "ns1", []Condition{
		{Operator: OpNOT, Tags: []string{"red"}},
	}, 1, 10)

	if len(r.Keys) != 1 || r.Keys[0] != "a" {
		t.Fatalf("expected first condition to initialize regardless of operator, got %+v", r)
	}
}
