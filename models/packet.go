package models

import (
	"encoding/json"
	"strconv"
)

// PriceVol is a single ladder delta entry decoded from the wire format's
// [price, volume] pairs. A volume of zero removes the price level.
type PriceVol [2]float64

func (p PriceVol) Price() float64  { return p[0] }
func (p PriceVol) Volume() float64 { return p[1] }

// RunnerChange carries the incremental update for a single runner within a
// market change. Ltp and Tv are omitted by the provider when unchanged.
type RunnerChange struct {
	ID  int64      `json:"id"`
	Ltp *float64   `json:"ltp,omitempty"`
	Tv  *float64   `json:"tv,omitempty"`
	Atb []PriceVol `json:"atb,omitempty"`
	Atl []PriceVol `json:"atl,omitempty"`
	Trd []PriceVol `json:"trd,omitempty"`
}

// MarketDefinition is the subset of the provider's market definition the
// pipeline inspects. The full definition travels untouched inside the raw
// market change payload.
type MarketDefinition struct {
	Status  string `json:"status"`
	Version int64  `json:"version,omitempty"`
}

// MarketChange is one market's slice of a change message.
type MarketChange struct {
	ID               string            `json:"id"`
	Img              bool              `json:"img,omitempty"`
	MarketDefinition *MarketDefinition `json:"marketDefinition,omitempty"`
	Rc               []RunnerChange    `json:"rc,omitempty"`
	Tv               *float64          `json:"tv,omitempty"`
}

// MarketPacket is the unit that travels on the shared ingestion queue: one
// market's change at one publish time, with the raw payload preserved for
// the durable store.
type MarketPacket struct {
	MarketID    string
	PublishTime int64
	Change      MarketChange
	Raw         json.RawMessage
}

// StoreLine renders the packet as one line of the append-only market store:
// a JSON object keyed by the string-encoded millisecond publish time.
func (p MarketPacket) StoreLine() ([]byte, error) {
	return json.Marshal(map[string]json.RawMessage{
		strconv.FormatInt(p.PublishTime, 10): p.Raw,
	})
}

// ReplayPacket is a packet reconstructed from a consolidated market file,
// paired with its original timestamp key.
type ReplayPacket struct {
	Timestamp int64
	Change    MarketChange
}
