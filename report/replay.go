package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"bookflow/book"
	"bookflow/models"
)

// ReplayMarket rebuilds the full order book history for one market by
// feeding its consolidated file through the delta-replay engine in
// chronological order.
func (r *Reporter) ReplayMarket(eventID, marketID string) (*book.MarketOrderBookHistory, error) {
	data, err := r.location.LoadMarket(eventID, marketID)
	if err != nil {
		return nil, fmt.Errorf("load market %s: %w", marketID, err)
	}
	packets, err := replayPackets(data)
	if err != nil {
		return nil, fmt.Errorf("decode market %s: %w", marketID, err)
	}
	if len(packets) == 0 {
		return nil, fmt.Errorf("no packets recorded for %s", marketID)
	}

	hist := book.NewMarketOrderBookHistory(runnerIDs(packets))
	for _, pkt := range packets {
		hist.Update(pkt.Timestamp, pkt.Change)
	}
	return hist, nil
}

// replayPackets decodes a consolidated file into packets sorted by
// timestamp.
func replayPackets(data map[string]json.RawMessage) ([]models.ReplayPacket, error) {
	packets := make([]models.ReplayPacket, 0, len(data))
	for key, raw := range data {
		ts, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad timestamp key %q: %w", key, err)
		}
		var change models.MarketChange
		if err := json.Unmarshal(raw, &change); err != nil {
			return nil, fmt.Errorf("packet at %s: %w", key, err)
		}
		packets = append(packets, models.ReplayPacket{Timestamp: ts, Change: change})
	}
	sort.Slice(packets, func(i, j int) bool { return packets[i].Timestamp < packets[j].Timestamp })
	return packets, nil
}

func runnerIDs(packets []models.ReplayPacket) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, pkt := range packets {
		for _, rc := range pkt.Change.Rc {
			if !seen[rc.ID] {
				seen[rc.ID] = true
				ids = append(ids, rc.ID)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
