package vector

import (
	"strings"
	"testing"
)

func TestAddFixesDimension(t *testing.T) {
	ix := New()
	if err := ix.Add([][]float32{{1, 0, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if ix.Dimension() != 3 {
		t.Errorf("Dimension = %d, want 3", ix.Dimension())
	}
	if err := ix.Add([][]float32{{1, 0}}); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestAddAllOrNothing(t *testing.T) {
	ix := New()
	err := ix.Add([][]float32{{1, 0}, {0, 1}, {1, 2, 3}})
	if err == nil {
		t.Fatal("expected error for mixed dimensions")
	}
	if ix.Size() != 0 {
		t.Errorf("failed batch mutated the index: size = %d", ix.Size())
	}
}

func TestSearchOrdering(t *testing.T) {
	ix := New()
	if err := ix.Add([][]float32{
		{0, 1}, // position 0, distance 2 from query
		{1, 0}, // position 1, distance 0
		{2, 0}, // position 2, distance 1
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	hits, err := ix.Search([]float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	wantOrder := []int{1, 2, 0}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	for i, want := range wantOrder {
		if hits[i].Position != want {
			t.Errorf("hits[%d].Position = %d, want %d", i, hits[i].Position, want)
		}
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Distance < hits[i-1].Distance {
			t.Errorf("distances not ascending at %d: %v < %v", i, hits[i].Distance, hits[i-1].Distance)
		}
	}
}

func TestSearchSquaredDistance(t *testing.T) {
	ix := New()
	if err := ix.Add([][]float32{{0, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	hits, err := ix.Search([]float32{3, 4}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	// Squared L2, not Euclidean: 3²+4² = 25.
	if hits[0].Distance != 25 {
		t.Errorf("Distance = %v, want 25", hits[0].Distance)
	}
}

func TestSearchKExceedsSize(t *testing.T) {
	ix := New()
	if err := ix.Add([][]float32{{1, 0}, {0, 1}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	hits, err := ix.Search([]float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("got %d hits, want all 2", len(hits))
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	ix := New()
	hits, err := ix.Search([]float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("empty index returned %d hits", len(hits))
	}
}

func TestSearchQueryDimensionMismatch(t *testing.T) {
	ix := New()
	if err := ix.Add([][]float32{{1, 0, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := ix.Search([]float32{1, 0}, 1); err == nil || !strings.Contains(err.Error(), "dimension") {
		t.Errorf("expected dimension error, got %v", err)
	}
}

func TestSearchEqualDistancesKeepPositionOrder(t *testing.T) {
	ix := New()
	if err := ix.Add([][]float32{{0, 1}, {0, -1}, {1, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	hits, err := ix.Search([]float32{0, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	// All three rows are distance 1; stable sort keeps positions ascending.
	for i, want := range []int{0, 1, 2} {
		if hits[i].Position != want {
			t.Errorf("hits[%d].Position = %d, want %d", i, hits[i].Position, want)
		}
	}
}

func TestNewWithVectors(t *testing.T) {
	ix, err := NewWithVectors([][]float32{{1, 2}, {3, 4}})
	if err != nil {
		t.Fatalf("NewWithVectors: %v", err)
	}
	if ix.Size() != 2 || ix.Dimension() != 2 {
		t.Errorf("size/dim = %d/%d, want 2/2", ix.Size(), ix.Dimension())
	}
	if _, err := NewWithVectors([][]float32{{1, 2}, {3}}); err == nil {
		t.Error("expected error for inconsistent rows")
	}
}
