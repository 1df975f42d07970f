package stream

import (
	"fmt"
	"sort"
	"time"

	"bookflow/config"
	"bookflow/provider"
)

// startTimeLayout is the fixed local date-time format schedule entries use
// in the config file: day/month/two-digit-year.
const startTimeLayout = "02/01/06 15:04:05"

// ScheduleEntry is one stream the scheduler will launch. Running flips to
// true exactly once, at launch, and is never reset.
type ScheduleEntry struct {
	StartTime     time.Time
	Name          string
	CatalogFilter provider.MarketFilter
	StreamFilter  provider.StreamingMarketFilter
	Running       bool
}

// ScheduleEntries parses configured stream entries into schedule entries,
// sorted ascending by start time. The catalog filter's market type codes are
// renamed into the streaming filter's market types shape.
func ScheduleEntries(entries []config.StreamEntry) ([]*ScheduleEntry, error) {
	out := make([]*ScheduleEntry, 0, len(entries))
	for i, entry := range entries {
		startTime, err := time.ParseInLocation(startTimeLayout, entry.StartTime, time.Local)
		if err != nil {
			return nil, fmt.Errorf("streams[%d] start_time %q: %w", i, entry.StartTime, err)
		}
		out = append(out, &ScheduleEntry{
			StartTime: startTime,
			Name:      entry.Name,
			CatalogFilter: provider.MarketFilter{
				EventIDs:        entry.MarketFilter.EventIDs,
				EventTypeIDs:    entry.MarketFilter.EventTypeIDs,
				MarketCountries: entry.MarketFilter.CountryCodes,
				MarketTypeCodes: entry.MarketFilter.MarketTypeCodes,
			},
			StreamFilter: provider.StreamingMarketFilter{
				EventIDs:     entry.MarketFilter.EventIDs,
				EventTypeIDs: entry.MarketFilter.EventTypeIDs,
				CountryCodes: entry.MarketFilter.CountryCodes,
				MarketTypes:  entry.MarketFilter.MarketTypeCodes,
			},
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}
