package book

import (
	"fmt"

	"bookflow/models"
)

// RunnerOrderBookHistory accumulates an index-aligned time series of one
// runner's order book state. One row is appended per update call, whether or
// not the packet carried data for this runner, so unmatched packets record
// the unchanged state (carry-forward).
type RunnerOrderBookHistory struct {
	RunnerID   int64
	Timestamps []int64
	Ltp        []float64
	Tv         []float64
	DeltaTv    []float64
	AtbPrices  [][]float64
	AtbVolumes [][]float64
	AtlPrices  [][]float64
	AtlVolumes [][]float64
	Trd        [][]float64

	book *RunnerOrderBook
}

func NewRunnerOrderBookHistory(runnerID int64) *RunnerOrderBookHistory {
	return &RunnerOrderBookHistory{
		RunnerID: runnerID,
		book:     NewRunnerOrderBook(runnerID),
	}
}

// Book returns the current (post last update) order book state.
func (h *RunnerOrderBookHistory) Book() *RunnerOrderBook { return h.book }

// Len returns the number of rows recorded.
func (h *RunnerOrderBookHistory) Len() int { return len(h.Timestamps) }

// Update replays the packet into the current book and appends one row to
// every series. Ladders are captured as separate price and volume sequences,
// the shape the charting layer consumes. The traded ladder records only the
// sorted distinct prices.
func (h *RunnerOrderBookHistory) Update(timestamp int64, change models.MarketChange) {
	h.book.Update(timestamp, change)

	h.Timestamps = append(h.Timestamps, timestamp)
	h.Ltp = append(h.Ltp, h.book.Ltp)
	h.Tv = append(h.Tv, h.book.Tv)
	h.DeltaTv = append(h.DeltaTv, h.book.DeltaTv)

	atb := h.book.AtbLadder()
	atl := h.book.AtlLadder()
	h.AtbPrices = append(h.AtbPrices, prices(atb))
	h.AtbVolumes = append(h.AtbVolumes, volumes(atb))
	h.AtlPrices = append(h.AtlPrices, prices(atl))
	h.AtlVolumes = append(h.AtlVolumes, volumes(atl))
	h.Trd = append(h.Trd, h.book.TrdLadder())
}

func prices(entries []models.PriceVol) []float64 {
	out := make([]float64, len(entries))
	for i, e := range entries {
		out[i] = e.Price()
	}
	return out
}

func volumes(entries []models.PriceVol) []float64 {
	out := make([]float64, len(entries))
	for i, e := range entries {
		out[i] = e.Volume()
	}
	return out
}

// MarketOrderBookHistory owns one runner history per tracked runner. The
// runner set is fixed at construction; every update fans the same packet out
// to all of them.
type MarketOrderBookHistory struct {
	runners    map[int64]*RunnerOrderBookHistory
	numRecords int
}

func NewMarketOrderBookHistory(runnerIDs []int64) *MarketOrderBookHistory {
	runners := make(map[int64]*RunnerOrderBookHistory, len(runnerIDs))
	for _, id := range runnerIDs {
		runners[id] = NewRunnerOrderBookHistory(id)
	}
	return &MarketOrderBookHistory{runners: runners}
}

// Update records the packet against every tracked runner.
func (m *MarketOrderBookHistory) Update(timestamp int64, change models.MarketChange) {
	m.numRecords++
	for _, h := range m.runners {
		h.Update(timestamp, change)
	}
}

// Len returns the number of packets processed, which by the carry-forward
// rule equals every runner history's row count.
func (m *MarketOrderBookHistory) Len() int { return m.numRecords }

// RunnerHistory looks up a tracked runner's history.
func (m *MarketOrderBookHistory) RunnerHistory(runnerID int64) (*RunnerOrderBookHistory, error) {
	h, ok := m.runners[runnerID]
	if !ok {
		return nil, fmt.Errorf("runner %d is not tracked by this market history", runnerID)
	}
	return h, nil
}

// RunnerIDs returns the tracked runner ids in no particular order.
func (m *MarketOrderBookHistory) RunnerIDs() []int64 {
	ids := make([]int64, 0, len(m.runners))
	for id := range m.runners {
		ids = append(ids, id)
	}
	return ids
}
