package report

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"bookflow/logger"
	"bookflow/models"
	"bookflow/storage"
)

// maxTimestampGap flags recordings with a hole in coverage. A gap longer
// than this between consecutive packets marks the market's data as missing.
const maxTimestampGap = 36 * time.Second

// MarketReport summarizes one market's recording.
type MarketReport struct {
	MarketID              string  `json:"market_id"`
	MarketName            string  `json:"market_name,omitempty"`
	RecordStart           string  `json:"record_start"`
	RecordEnd             string  `json:"record_end"`
	RecordLengthSec       float64 `json:"record_length_sec"`
	ContainsMarketClosure bool    `json:"contains_market_closure"`
	ContainsMissingData   bool    `json:"contains_missing_data"`
	TimestampCount        int     `json:"timestamp_count"`
	TimestampAvgDiff      int64   `json:"timestamp_avg_diff"`
	NumRunners            int     `json:"num_runners"`
}

// EventReport groups the market reports belonging to one event.
type EventReport struct {
	EventID   string         `json:"event_id"`
	EventName string         `json:"event_name"`
	Markets   []MarketReport `json:"markets"`
}

// Reporter builds summary reports from consolidated market files.
type Reporter struct {
	location *storage.DataLocation
	log      *logger.Log
}

func NewReporter(location *storage.DataLocation) *Reporter {
	return &Reporter{
		location: location,
		log:      logger.GetLogger(),
	}
}

// Generate writes the all-events report to report.json in the data
// directory.
func (r *Reporter) Generate() error {
	reports, err := r.AllEvents()
	if err != nil {
		return err
	}
	if err := r.location.SaveJSON(reports, "", "report.json"); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	r.log.WithComponent("report").WithFields(logger.Fields{
		"events": len(reports),
	}).Info("report generated")
	return nil
}

// AllEvents reports on every event recorded in the event log.
func (r *Reporter) AllEvents() ([]EventReport, error) {
	events, err := r.location.LoadEventLog()
	if err != nil {
		return nil, fmt.Errorf("load event log: %w", err)
	}
	eventIDs := make([]string, 0, len(events))
	for id := range events {
		eventIDs = append(eventIDs, id)
	}
	sort.Strings(eventIDs)

	reports := make([]EventReport, 0, len(eventIDs))
	for _, id := range eventIDs {
		report, err := r.EventReport(id)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	return reports, nil
}

// EventReport reports on every market of one event. Markets that fail to
// report are logged and skipped so the rest of the event still reports.
func (r *Reporter) EventReport(eventID string) (*EventReport, error) {
	event, err := r.location.LoadEvent(eventID)
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", eventID, err)
	}
	log := r.log.WithComponent("report").WithFields(logger.Fields{"event_id": eventID})
	log.Info("generating event report")

	markets := make([]MarketReport, 0, len(event.Markets))
	for _, market := range event.Markets {
		report, err := r.MarketReport(eventID, market)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"market_id": market.MarketID,
			}).Error("market report failed")
			continue
		}
		markets = append(markets, *report)
	}
	return &EventReport{
		EventID:   event.Event.ID,
		EventName: event.Event.Name,
		Markets:   markets,
	}, nil
}

// MarketReport builds the summary for one market from its consolidated file.
func (r *Reporter) MarketReport(eventID string, market storage.MarketInfo) (*MarketReport, error) {
	data, err := r.location.LoadMarket(eventID, market.MarketID)
	if err != nil {
		return nil, fmt.Errorf("load market %s: %w", market.MarketID, err)
	}
	timestamps, err := sortedTimestamps(data)
	if err != nil {
		return nil, err
	}
	if len(timestamps) == 0 {
		return nil, fmt.Errorf("no packets recorded for %s", market.MarketID)
	}

	var diffTotal int64
	missing := false
	for i := 1; i < len(timestamps); i++ {
		diff := timestamps[i] - timestamps[i-1]
		diffTotal += diff
		if time.Duration(diff)*time.Millisecond > maxTimestampGap {
			missing = true
		}
	}

	closed := false
	last := data[strconv.FormatInt(timestamps[len(timestamps)-1], 10)]
	var change models.MarketChange
	if err := json.Unmarshal(last, &change); err != nil {
		return nil, fmt.Errorf("decode final packet for %s: %w", market.MarketID, err)
	}
	if change.MarketDefinition != nil && change.MarketDefinition.Status == "CLOSED" {
		closed = true
	}

	start := time.UnixMilli(timestamps[0]).UTC()
	end := time.UnixMilli(timestamps[len(timestamps)-1]).UTC()
	return &MarketReport{
		MarketID:              market.MarketID,
		MarketName:            market.MarketName,
		RecordStart:           start.Format(time.RFC3339),
		RecordEnd:             end.Format(time.RFC3339),
		RecordLengthSec:       end.Sub(start).Seconds(),
		ContainsMarketClosure: closed,
		ContainsMissingData:   missing,
		TimestampCount:        len(timestamps),
		TimestampAvgDiff:      int64(math.Ceil(float64(diffTotal) / float64(len(timestamps)))),
		NumRunners:            len(market.Runners),
	}, nil
}

// sortedTimestamps orders the consolidated file's keys numerically. JSON
// object order is not preserved by decoding, so chronological order has to
// be rebuilt from the keys.
func sortedTimestamps(data map[string]json.RawMessage) ([]int64, error) {
	out := make([]int64, 0, len(data))
	for key := range data {
		ts, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad timestamp key %q: %w", key, err)
		}
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
