package stream

import (
	"testing"
	"time"

	"bookflow/config"
)

func TestScheduleEntriesParsesAndSorts(t *testing.T) {
	entries, err := ScheduleEntries([]config.StreamEntry{
		{
			StartTime: "02/06/24 18:00:00",
			Name:      "evening",
			MarketFilter: config.MarketFilterConfig{
				EventTypeIDs:    []string{"1"},
				MarketTypeCodes: []string{"MATCH_ODDS"},
			},
		},
		{
			StartTime: "02/06/24 09:30:00",
			Name:      "morning",
			MarketFilter: config.MarketFilterConfig{
				CountryCodes: []string{"GB"},
			},
		},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if entries[0].Name != "morning" || entries[1].Name != "evening" {
		t.Fatalf("entries not sorted by start time: %s, %s", entries[0].Name, entries[1].Name)
	}

	want := time.Date(2024, 6, 2, 9, 30, 0, 0, time.Local)
	if !entries[0].StartTime.Equal(want) {
		t.Fatalf("start time = %v, want %v", entries[0].StartTime, want)
	}

	// market_type_codes is renamed into the streaming filter's shape
	evening := entries[1]
	if len(evening.StreamFilter.MarketTypes) != 1 || evening.StreamFilter.MarketTypes[0] != "MATCH_ODDS" {
		t.Fatalf("stream filter market types: %v", evening.StreamFilter.MarketTypes)
	}
	if len(evening.CatalogFilter.MarketTypeCodes) != 1 || evening.CatalogFilter.MarketTypeCodes[0] != "MATCH_ODDS" {
		t.Fatalf("catalog filter market type codes: %v", evening.CatalogFilter.MarketTypeCodes)
	}

	for _, entry := range entries {
		if entry.Running {
			t.Fatalf("entry %s should not start running", entry.Name)
		}
	}
}

func TestScheduleEntriesRejectsBadTime(t *testing.T) {
	_, err := ScheduleEntries([]config.StreamEntry{
		{StartTime: "2024-06-02T09:30:00Z", Name: "iso"},
	})
	if err == nil {
		t.Fatal("expected parse error for wrong layout")
	}
}
