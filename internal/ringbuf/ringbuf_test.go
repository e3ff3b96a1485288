package ringbuf

import (
	"testing"

	"tradegate/internal/model"
)

func snap(price float64) model.MarketDataSnapshot {
	return model.MarketDataSnapshot{Symbol: "MNQ", LastPrice: price}
}

func TestCapacityRoundsUpToPowerOfTwo(t *testing.T) {
	if got := New(5).Cap(); got != 8 {
		t.Errorf("Cap() = %d, want 8", got)
	}
	if got := New(0).Cap(); got != 2 {
		t.Errorf("Cap() = %d, want 2", got)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	r := New(8)
	for i := 1; i <= 3; i++ {
		r.Push(snap(float64(i)))
	}
	got := r.Recent(10)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []float64{3, 2, 1} {
		if got[i].LastPrice != want {
			t.Errorf("Recent[%d].LastPrice = %v, want %v", i, got[i].LastPrice, want)
		}
	}
}

func TestOverwritesOldestWhenFull(t *testing.T) {
	r := New(4)
	for i := 1; i <= 6; i++ {
		r.Push(snap(float64(i)))
	}
	if r.Len() != 4 {
		t.Fatalf("Len = %d, want 4", r.Len())
	}
	got := r.Recent(4)
	for i, want := range []float64{6, 5, 4, 3} {
		if got[i].LastPrice != want {
			t.Errorf("Recent[%d].LastPrice = %v, want %v", i, got[i].LastPrice, want)
		}
	}
}

func TestRecentLimit(t *testing.T) {
	r := New(8)
	for i := 1; i <= 5; i++ {
		r.Push(snap(float64(i)))
	}
	if got := r.Recent(2); len(got) != 2 || got[0].LastPrice != 5 || got[1].LastPrice != 4 {
		t.Errorf("Recent(2) = %v", got)
	}
}

func TestEmptyRing(t *testing.T) {
	r := New(4)
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
	if got := r.Recent(3); len(got) != 0 {
		t.Errorf("Recent on empty ring = %v", got)
	}
}
