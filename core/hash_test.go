package core

import "testing"

func TestHashOfDeterministic(t *testing.T) {
	a := HashOf([]byte(`{"a":1}`))
	b := HashOf([]byte(`{"a":1}`))
	if a != b {
		t.Fatalf("HashOf not deterministic: %s != %s", a, b)
	}
	c := HashOf([]byte(`{"a":2}`))
	if a == c {
		t.Fatalf("HashOf collided on distinct input")
	}
}

func TestHashStringRoundTrip(t *testing.T) {
	h := HashOf([]byte("round trip me"))
	s := h.String()
	if s == "" {
		t.Fatalf("String() returned empty for non-zero hash")
	}
	parsed, err := ParseHash(s)
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if parsed != h {
		t.Fatalf("round trip mismatch: got %s want %s", parsed, h)
	}
}

func TestHashZero(t *testing.T) {
	var h Hash
	if !h.IsZero() {
		t.Fatalf("empty Hash should be zero")
	}
	if h.String() != "" {
		t.Fatalf("zero hash should render empty string")
	}
}

func TestHashSetOperations(t *testing.T) {
	h1 := HashOf([]byte("1"))
	h2 := HashOf([]byte("2"))
	h3 := HashOf([]byte("3"))

	s := NewHashSet(h1, h2)
	if !s.Has(h1) || !s.Has(h2) || s.Has(h3) {
		t.Fatalf("NewHashSet membership wrong")
	}

	s.Add(h3)
	if !s.Has(h3) {
		t.Fatalf("Add did not register member")
	}

	clone := s.Clone()
	clone.Remove(h3)
	if !s.Has(h3) {
		t.Fatalf("Clone should be independent of source")
	}
	if clone.Has(h3) {
		t.Fatalf("Remove did not take effect on clone")
	}

	if s.Equal(clone) {
		t.Fatalf("sets of different size reported equal")
	}
	clone.Add(h3)
	if !s.Equal(clone) {
		t.Fatalf("equal sets reported unequal")
	}
}

func TestHashSetSortedSliceDeterministic(t *testing.T) {
	h1 := HashOf([]byte("x"))
	h2 := HashOf([]byte("y"))
	h3 := HashOf([]byte("z"))
	s := NewHashSet(h3, h1, h2)

	first := s.SortedSlice()
	second := s.SortedSlice()
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected 3 elements, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("SortedSlice not stable across calls at index %d", i)
		}
	}
	for i := 1; i < len(first); i++ {
		if first[i-1] >= first[i] {
			t.Fatalf("SortedSlice not ascending: %s >= %s", first[i-1], first[i])
		}
	}
}
