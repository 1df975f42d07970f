package provider

// MarketFilter narrows catalog queries (list events, list market catalogue).
type MarketFilter struct {
	EventIDs        []string `json:"eventIds,omitempty"`
	EventTypeIDs    []string `json:"eventTypeIds,omitempty"`
	MarketCountries []string `json:"marketCountries,omitempty"`
	MarketTypeCodes []string `json:"marketTypeCodes,omitempty"`
}

// StreamingMarketFilter selects which markets a stream subscription covers.
// It is the streaming-side shape of MarketFilter: market type codes appear
// here under the marketTypes key.
type StreamingMarketFilter struct {
	MarketIDs    []string `json:"marketIds,omitempty"`
	EventIDs     []string `json:"eventIds,omitempty"`
	EventTypeIDs []string `json:"eventTypeIds,omitempty"`
	CountryCodes []string `json:"countryCodes,omitempty"`
	MarketTypes  []string `json:"marketTypes,omitempty"`
}

// StreamingMarketDataFilter selects which fields the provider includes in
// change messages.
type StreamingMarketDataFilter struct {
	Fields       []string `json:"fields,omitempty"`
	LadderLevels int      `json:"ladderLevels,omitempty"`
}
