package tagindex

import (
	"reflect"
	"testing"
)

func TestAddKeyAndQueryAND(t *testing.T) {
	idx := New()
	idx.AddKey("db1", "ns1", "k1", []string{"red", "small"})
	idx.AddKey("db1", "ns1", "k2", []string{"red", "large"})
	idx.AddKey("db1", "ns1", "k3", []string{"red", "small"})

	got := idx.QueryAND("db1", "ns1", []string{"red", "small"})
	want := []string{"k1", "k3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("QueryAND = %v, want %v", got, want)
	}
}

func TestAddKeyReplacesPreviousTags(t *testing.T) {
	idx := New()
	idx.AddKey("db1", "ns1", "k1", []string{"red"})
	idx.AddKey("db1", "ns1", "k1", []string{"blue"})

	if got := idx.QueryAND("db1", "ns1", []string{"red"}); len(got) != 0 {
		t.Fatalf("expected k1 no longer tagged red, got %v", got)
	}
	if got := idx.QueryAND("db1", "ns1", []string{"blue"}); !reflect.DeepEqual(got, []string{"k1"}) {
		t.Fatalf("expected k1 tagged blue, got %v", got)
	}
}

func TestRemoveKey(t *testing.T) {
	idx := New()
	idx.AddKey("db1", "ns1", "k1", []string{"red"})
	idx.AddKey("db1", "ns1", "k2", []string{"red"})
	idx.RemoveKey("db1", "ns1", "k1")

	got := idx.QueryOR("db1", "ns1", []string{"red"})
	if !reflect.DeepEqual(got, []string{"k2"}) {
		t.Fatalf("QueryOR after RemoveKey = %v, want [k2]", got)
	}
}

func TestQueryOR(t *testing.T) {
	idx := New()
	idx.AddKey("db1", "ns1", "a", []string{"x"})
	idx.AddKey("db1", "ns1", "b", []string{"y"})
	idx.AddKey("db1", "ns1", "c", []string{"z"})

	got := idx.QueryOR("db1", "ns1", []string{"x", "y"})
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("QueryOR = %v, want %v", got, want)
	}
}

func TestQueryNOT(t *testing.T) {
	idx := New()
	idx.AddKey("db1", "ns1", "a", []string{"x"})
	idx.AddKey("db1", "ns1", "b", []string{"y"})
	idx.AddKey("db1", "ns1", "c", []string{})

	got := idx.QueryNOT("db1", "ns1", []string{"x"})
	want := []string{"b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("QueryNOT = %v, want %v", got, want)
	}
}

func TestQueryANDOrdersSmallestSetFirst(t *testing.T) {
	idx := New()
	// "common" tags every key, "rare" tags only "e".
	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		idx.AddKey("db1", "ns1", key, []string{"common"})
	}
	idx.AddKey("db1", "ns1", "e", []string{"common", "rare"})

	got := idx.QueryAND("db1", "ns1", []string{"common", "rare"})
	if !reflect.DeepEqual(got, []string{"e"}) {
		t.Fatalf("QueryAND = %v, want [e]", got)
	}
}

func TestPopularTagsSortsByQueryCount(t *testing.T) {
	idx := New()
	idx.AddKey("db1", "ns1", "a", []string{"hot", "cold"})
	idx.QueryOR("db1", "ns1", []string{"hot"})
	idx.QueryOR("db1", "ns1", []string{"hot"})
	idx.QueryOR("db1", "ns1", []string{"cold"})

	pop := idx.PopularTags(10)
	if len(pop) != 2 || pop[0].Tag != "hot" || pop[0].QueryCount != 2 {
		t.Fatalf("unexpected popular tags: %+v", pop)
	}
}

func TestSecondNullIndex(t *testing.T) {
	s := "db\x00ns\x00tag"
	i := secondNullIndex(s)
	if i < 0 || s[i+1:] != "tag" {
		t.Fatalf("secondNullIndex(%q) = %d, tail = %q", s, i, s[i+1:])
	}
	if secondNullIndex("no-nulls-here") != -1 {
		t.Fatalf("expected -1 for string without two nulls")
	}
}
