package book

import (
	"testing"

	"bookflow/models"
)

func f(v float64) *float64 { return &v }

func TestDeltaTvClampedOnVolumeReset(t *testing.T) {
	b := NewRunnerOrderBook(1)

	tvs := []float64{1000, 1200, 900}
	want := []float64{1000, 200, 0}

	for i, tv := range tvs {
		b.Update(int64(i), models.MarketChange{Rc: []models.RunnerChange{{ID: 1, Tv: f(tv)}}})
		if b.DeltaTv != want[i] {
			t.Fatalf("update %d: delta_tv = %v, want %v", i, b.DeltaTv, want[i])
		}
	}
	if b.Tv != 900 {
		t.Fatalf("tv = %v, want 900", b.Tv)
	}
}

func TestRunnerBookIgnoresOtherRunners(t *testing.T) {
	b := NewRunnerOrderBook(1)
	b.Update(1, models.MarketChange{Rc: []models.RunnerChange{{ID: 1, Ltp: f(2.0), Tv: f(50)}}})
	b.Update(2, models.MarketChange{Rc: []models.RunnerChange{{ID: 2, Ltp: f(9.0), Tv: f(900)}}})

	if b.Ltp != 2.0 || b.Tv != 50 {
		t.Fatalf("state changed by unrelated runner: ltp=%v tv=%v", b.Ltp, b.Tv)
	}
	if b.DeltaTv != 0 {
		t.Fatalf("delta_tv = %v after unmatched packet, want 0", b.DeltaTv)
	}
}

func TestRunnerBookCarriesMissingFields(t *testing.T) {
	b := NewRunnerOrderBook(7)
	b.Update(1, models.MarketChange{Rc: []models.RunnerChange{{ID: 7, Ltp: f(3.5), Tv: f(100)}}})
	b.Update(2, models.MarketChange{Rc: []models.RunnerChange{{
		ID:  7,
		Atb: []models.PriceVol{{3.4, 12}},
	}}})

	if b.Ltp != 3.5 || b.Tv != 100 {
		t.Fatalf("omitted ltp/tv should carry forward: ltp=%v tv=%v", b.Ltp, b.Tv)
	}
	if len(b.Atb) != 1 {
		t.Fatalf("atb ladder not updated: %v", b.Atb)
	}
}

func TestMarketHistoryRowCountAndCarryForward(t *testing.T) {
	m := NewMarketOrderBookHistory([]int64{100, 200})

	// Packet 1 mentions neither runner, packet 2 mentions runner 100 only.
	m.Update(1, models.MarketChange{})
	m.Update(2, models.MarketChange{Rc: []models.RunnerChange{{ID: 100, Ltp: f(4.0), Tv: f(10)}}})

	if m.Len() != 2 {
		t.Fatalf("len = %d, want 2", m.Len())
	}

	a, err := m.RunnerHistory(100)
	if err != nil {
		t.Fatalf("runner 100: %v", err)
	}
	if a.Len() != 2 {
		t.Fatalf("runner 100 rows = %d, want 2", a.Len())
	}
	if a.Ltp[0] != 0 || a.DeltaTv[0] != 0 {
		t.Fatalf("row 1 should be carry-forward: ltp=%v delta=%v", a.Ltp[0], a.DeltaTv[0])
	}
	if a.Ltp[1] != 4.0 || a.DeltaTv[1] != 10 {
		t.Fatalf("row 2 should reflect the update: ltp=%v delta=%v", a.Ltp[1], a.DeltaTv[1])
	}

	b, err := m.RunnerHistory(200)
	if err != nil {
		t.Fatalf("runner 200: %v", err)
	}
	if b.Len() != 2 {
		t.Fatalf("runner 200 rows = %d, want 2", b.Len())
	}
	for i := 0; i < 2; i++ {
		if b.Ltp[i] != 0 || b.Tv[i] != 0 || b.DeltaTv[i] != 0 {
			t.Fatalf("runner 200 row %d should be carry-forward", i)
		}
	}
}

func TestMarketHistoryUnknownRunner(t *testing.T) {
	m := NewMarketOrderBookHistory([]int64{1})
	if _, err := m.RunnerHistory(2); err == nil {
		t.Fatal("expected error for untracked runner")
	}
}

func TestHistoryLadderSnapshotsSplitAndTrdDropsVolume(t *testing.T) {
	h := NewRunnerOrderBookHistory(5)
	h.Update(1, models.MarketChange{Rc: []models.RunnerChange{{
		ID:  5,
		Atb: []models.PriceVol{{3.0, 5}, {2.5, 10}},
		Trd: []models.PriceVol{{2.8, 40}, {2.6, 15}},
	}}})

	if got := h.AtbPrices[0]; len(got) != 2 || got[0] != 2.5 || got[1] != 3.0 {
		t.Fatalf("atb prices = %v, want [2.5 3]", got)
	}
	if got := h.AtbVolumes[0]; len(got) != 2 || got[0] != 10 || got[1] != 5 {
		t.Fatalf("atb volumes = %v, want [10 5]", got)
	}
	if got := h.Trd[0]; len(got) != 2 || got[0] != 2.6 || got[1] != 2.8 {
		t.Fatalf("trd snapshot = %v, want sorted prices only", got)
	}
}
