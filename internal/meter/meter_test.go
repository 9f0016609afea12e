package meter

import (
	"math"
	"testing"
)

func TestAverageWeightedMean(t *testing.T) {
	t.Parallel()

	pairs := []struct {
		v float64
		n int
	}{
		{0.5, 128},
		{0.75, 128},
		{1.0, 16},
		{0.0, 8},
	}

	var a Average
	var wantSum float64
	var wantN int
	for _, p := range pairs {
		a.Update(p.v, p.n)
		wantSum += p.v * float64(p.n)
		wantN += p.n
	}

	want := wantSum / float64(wantN)
	if math.Abs(a.Avg-want) > 1e-12 {
		t.Fatalf("avg: got %v want %v", a.Avg, want)
	}
	if a.Count != wantN {
		t.Fatalf("count: got %d want %d", a.Count, wantN)
	}
	if a.Val != 0.0 {
		t.Fatalf("val should hold the last observation, got %v", a.Val)
	}
}

func TestAverageZeroCount(t *testing.T) {
	t.Parallel()
	var a Average
	a.Update(3, 0)
	if a.Avg != 0 {
		t.Fatalf("expected zero average with zero count, got %v", a.Avg)
	}
}

func TestAverageReset(t *testing.T) {
	t.Parallel()
	var a Average
	a.Update(2, 4)
	a.Reset()
	if a != (Average{}) {
		t.Fatalf("expected zero value after reset, got %+v", a)
	}
}

func TestHistoryAppendReplacesEpoch(t *testing.T) {
	t.Parallel()
	var h History
	h.Append(Epoch{Epoch: 1, TrainAcc: 10, ValidAcc: 12})
	h.Append(Epoch{Epoch: 2, TrainAcc: 20, ValidAcc: 30})
	h.Append(Epoch{Epoch: 2, TrainAcc: 25, ValidAcc: 18})

	if len(h.Epochs) != 2 {
		t.Fatalf("expected 2 epochs, got %d", len(h.Epochs))
	}
	acc := h.Acc()
	if acc[0] != 10 || acc[1] != 25 {
		t.Fatalf("unexpected acc series %v", acc)
	}
	best, ok := h.Best()
	if !ok || best.Epoch != 2 || best.ValidAcc != 18 {
		t.Fatalf("unexpected best %+v", best)
	}
}

func TestHistoryBestEmpty(t *testing.T) {
	t.Parallel()
	var h History
	if _, ok := h.Best(); ok {
		t.Fatal("expected no best epoch for empty history")
	}
}
