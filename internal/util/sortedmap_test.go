package util

import (
	"cmp"
	"testing"
)

type entry struct {
	id    string
	order int
}

func newEntryMap() *SortedMap[string, entry] {
	return NewSortedMap(
		func(e entry) string { return e.id },
		func(a, b entry) int { return cmp.Compare(a.order, b.order) },
	)
}

func ids(es []entry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.id
	}
	return out
}

func TestSortedMapKeepsOrder(t *testing.T) {
	m := newEntryMap()
	m.Upsert(entry{"c", 3})
	m.Upsert(entry{"a", 1})
	m.Upsert(entry{"b", 2})

	got := ids(m.All())
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch: got %v, want %v", got, want)
		}
	}
}

func TestSortedMapUpsertReplaces(t *testing.T) {
	m := newEntryMap()
	m.Upsert(entry{"a", 1})
	m.Upsert(entry{"b", 2})
	m.Upsert(entry{"a", 5})

	if m.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", m.Len())
	}
	got := ids(m.All())
	if got[0] != "b" || got[1] != "a" {
		t.Errorf("expected a to move after b, got %v", got)
	}
	e, ok := m.Get("a")
	if !ok || e.order != 5 {
		t.Errorf("Get(a): got %+v, %v", e, ok)
	}
}

func TestSortedMapRemove(t *testing.T) {
	m := newEntryMap()
	m.Upsert(entry{"a", 1})
	m.Upsert(entry{"b", 2})
	m.Upsert(entry{"c", 3})

	if !m.Remove("b") {
		t.Fatal("Remove(b) reported missing")
	}
	if m.Remove("b") {
		t.Fatal("second Remove(b) reported present")
	}
	if _, ok := m.Get("b"); ok {
		t.Error("b still reachable after removal")
	}
	if e, ok := m.Get("c"); !ok || e.order != 3 {
		t.Errorf("index not rebuilt after removal: %+v, %v", e, ok)
	}
}

func TestFormatBytes(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
	}
	for _, tc := range testCases {
		if got := FormatBytes(tc.in); got != tc.want {
			t.Errorf("FormatBytes(%v): got %q, want %q", tc.in, got, tc.want)
		}
	}
}
