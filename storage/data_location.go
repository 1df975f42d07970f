package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"bookflow/logger"
)

// Event pairs a catalog event with the markets recorded under it.
type Event struct {
	Event   EventInfo    `json:"event"`
	Markets []MarketInfo `json:"markets"`
}

// EventInfo is the catalog description of an event.
type EventInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CountryCode string `json:"countryCode,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	OpenDate    string `json:"openDate,omitempty"`
}

// MarketInfo is the catalog description of one market within an event.
type MarketInfo struct {
	MarketID   string       `json:"marketId"`
	MarketName string       `json:"marketName"`
	Runners    []RunnerInfo `json:"runners,omitempty"`
}

// RunnerInfo names one runner within a market.
type RunnerInfo struct {
	SelectionID int64  `json:"selectionId"`
	RunnerName  string `json:"runnerName"`
}

// DataLocation manages the on-disk layout of recorded data: one folder per
// event, an eventLog.json naming all events, and an eventIndex.json per
// event listing its markets. Market stream files live inside their event's
// folder.
type DataLocation struct {
	DataDir string
	Events  []Event

	marketEventMapping map[string]string
	log                *logger.Log
}

func NewDataLocation(dataDir string, events []Event) *DataLocation {
	mapping := make(map[string]string)
	for _, event := range events {
		for _, market := range event.Markets {
			mapping[market.MarketID] = event.Event.ID
		}
	}
	return &DataLocation{
		DataDir:            dataDir,
		Events:             events,
		marketEventMapping: mapping,
		log:                logger.GetLogger(),
	}
}

// EventForMarket resolves the event folder a market's data belongs to.
func (d *DataLocation) EventForMarket(marketID string) (string, bool) {
	eventID, ok := d.marketEventMapping[marketID]
	return eventID, ok
}

// Create builds the folder tree and index files for the configured events.
// Existing logs and indexes are extended, never truncated.
func (d *DataLocation) Create() error {
	log := d.log.WithComponent("data_location")

	for _, event := range d.Events {
		if err := os.MkdirAll(filepath.Join(d.DataDir, event.Event.ID), 0o755); err != nil {
			return fmt.Errorf("create event folder %s: %w", event.Event.ID, err)
		}
	}

	if err := d.writeEventLog(); err != nil {
		return err
	}

	for _, event := range d.Events {
		if err := d.writeEventIndex(event); err != nil {
			return err
		}
	}

	log.WithFields(logger.Fields{"events": len(d.Events), "data_dir": d.DataDir}).Info("data location ready")
	return nil
}

// writeEventLog maintains eventLog.json, a map of event id to event name
// covering every event ever recorded under this data dir.
func (d *DataLocation) writeEventLog() error {
	eventLog := map[string]string{}
	if data, err := os.ReadFile(filepath.Join(d.DataDir, "eventLog.json")); err == nil {
		if err := json.Unmarshal(data, &eventLog); err != nil {
			return fmt.Errorf("parse existing event log: %w", err)
		}
	}
	for _, event := range d.Events {
		if _, ok := eventLog[event.Event.ID]; !ok {
			eventLog[event.Event.ID] = event.Event.Name
		}
	}
	return d.SaveJSON(eventLog, "", "eventLog.json")
}

// writeEventIndex maintains the per-event eventIndex.json, appending any
// markets not yet listed.
func (d *DataLocation) writeEventIndex(event Event) error {
	index := Event{Event: event.Event, Markets: event.Markets}

	path := filepath.Join(d.DataDir, event.Event.ID, "eventIndex.json")
	if data, err := os.ReadFile(path); err == nil {
		var existing Event
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("parse existing event index %s: %w", event.Event.ID, err)
		}
		known := make(map[string]bool, len(existing.Markets))
		for _, market := range existing.Markets {
			known[market.MarketID] = true
		}
		for _, market := range event.Markets {
			if !known[market.MarketID] {
				existing.Markets = append(existing.Markets, market)
			}
		}
		index = existing
	}

	return d.SaveJSON(index, event.Event.ID, "eventIndex.json")
}

// SaveJSON writes indented JSON under the data dir, optionally inside a
// subfolder.
func (d *DataLocation) SaveJSON(data any, folder, fileName string) error {
	payload, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", fileName, err)
	}
	path := filepath.Join(d.DataDir, folder, fileName)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// LoadJSON reads a JSON file under the data dir into out.
func (d *DataLocation) LoadJSON(out any, folder, fileName string) error {
	path := filepath.Join(d.DataDir, folder, fileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// LoadEventLog returns the id to name map of all recorded events.
func (d *DataLocation) LoadEventLog() (map[string]string, error) {
	eventLog := map[string]string{}
	if err := d.LoadJSON(&eventLog, "", "eventLog.json"); err != nil {
		return nil, err
	}
	return eventLog, nil
}

// LoadEvent returns an event's index with its markets.
func (d *DataLocation) LoadEvent(eventID string) (*Event, error) {
	var event Event
	if err := d.LoadJSON(&event, eventID, "eventIndex.json"); err != nil {
		return nil, err
	}
	return &event, nil
}

// LoadMarket reads a consolidated market file and returns its change
// messages keyed by string millisecond timestamp.
func (d *DataLocation) LoadMarket(eventID, marketID string) (map[string]json.RawMessage, error) {
	var consolidated struct {
		Mcm map[string]json.RawMessage `json:"mcm"`
	}
	if err := d.LoadJSON(&consolidated, eventID, marketID+".json"); err != nil {
		return nil, err
	}
	if consolidated.Mcm == nil {
		return nil, fmt.Errorf("market file for %s is missing the change message map", marketID)
	}
	return consolidated.Mcm, nil
}

// MarketStorePath returns the append-only store file for a market. The
// market must belong to a known event.
func (d *DataLocation) MarketStorePath(marketID string) (string, error) {
	eventID, ok := d.marketEventMapping[marketID]
	if !ok {
		return "", fmt.Errorf("market %s does not belong to any known event", marketID)
	}
	return filepath.Join(d.DataDir, eventID, marketID+".txt"), nil
}

// StoreFiles globs every append-only store file under the data dir.
func (d *DataLocation) StoreFiles() ([]string, error) {
	return filepath.Glob(filepath.Join(d.DataDir, "*", "*.txt"))
}
