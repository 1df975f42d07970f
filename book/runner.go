package book

import (
	"bookflow/models"
)

// RunnerOrderBook maintains the current order book state for one runner by
// replaying market change packets.
type RunnerOrderBook struct {
	RunnerID  int64
	Timestamp int64
	Ltp       float64
	Tv        float64
	DeltaTv   float64
	Atb       Ladder
	Atl       Ladder
	Trd       Ladder
}

func NewRunnerOrderBook(runnerID int64) *RunnerOrderBook {
	return &RunnerOrderBook{
		RunnerID: runnerID,
		Atb:      Ladder{},
		Atl:      Ladder{},
		Trd:      Ladder{},
	}
}

// Update applies the runner change matching this book's runner id, if the
// packet carries one. Absent fields carry the previous value forward. The
// traded-volume delta is clamped at zero: a provider-side volume reset
// produces a delta of zero, not a negative one.
func (b *RunnerOrderBook) Update(timestamp int64, change models.MarketChange) {
	b.Timestamp = timestamp

	var rc *models.RunnerChange
	for i := range change.Rc {
		if change.Rc[i].ID == b.RunnerID {
			rc = &change.Rc[i]
			break
		}
	}
	if rc == nil {
		b.DeltaTv = 0
		return
	}

	if rc.Ltp != nil {
		b.Ltp = *rc.Ltp
	}
	newTv := b.Tv
	if rc.Tv != nil {
		newTv = *rc.Tv
	}
	b.DeltaTv = newTv - b.Tv
	if b.DeltaTv < 0 {
		b.DeltaTv = 0
	}
	b.Tv = newTv

	b.Atb.ApplyDelta(rc.Atb)
	b.Atl.ApplyDelta(rc.Atl)
	b.Trd.ApplyDelta(rc.Trd)
}

// AtbLadder returns the available-to-back side sorted ascending by price.
func (b *RunnerOrderBook) AtbLadder() []models.PriceVol { return b.Atb.Snapshot() }

// AtlLadder returns the available-to-lay side sorted ascending by price.
func (b *RunnerOrderBook) AtlLadder() []models.PriceVol { return b.Atl.Snapshot() }

// TrdLadder returns the distinct traded prices sorted ascending. Volumes are
// tracked internally but not exposed here.
func (b *RunnerOrderBook) TrdLadder() []float64 { return b.Trd.Prices() }
