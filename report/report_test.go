package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"bookflow/storage"
)

func fixtureLocation(t *testing.T) *storage.DataLocation {
	t.Helper()
	loc := storage.NewDataLocation(t.TempDir(), []storage.Event{{
		Event: storage.EventInfo{ID: "100", Name: "Test Event"},
		Markets: []storage.MarketInfo{
			{MarketID: "1.234", MarketName: "Match Odds", Runners: []storage.RunnerInfo{
				{SelectionID: 1, RunnerName: "Home"},
				{SelectionID: 2, RunnerName: "Away"},
			}},
			{MarketID: "1.567", MarketName: "Correct Score"},
		},
	}})
	if err := loc.Create(); err != nil {
		t.Fatalf("create data location: %v", err)
	}
	return loc
}

func writeMarket(t *testing.T, loc *storage.DataLocation, eventID, marketID string, mcm map[string]json.RawMessage) {
	t.Helper()
	doc := map[string]map[string]json.RawMessage{"mcm": mcm}
	if err := loc.SaveJSON(doc, eventID, marketID+".json"); err != nil {
		t.Fatalf("write consolidated file: %v", err)
	}
}

func TestMarketReport(t *testing.T) {
	loc := fixtureLocation(t)
	writeMarket(t, loc, "100", "1.234", map[string]json.RawMessage{
		"1700000000000": json.RawMessage(`{"id": "1.234", "rc": [{"id": 1, "ltp": 2.5}]}`),
		"1700000001000": json.RawMessage(`{"id": "1.234", "rc": [{"id": 1, "tv": 100}]}`),
		"1700000041000": json.RawMessage(`{"id": "1.234", "marketDefinition": {"status": "CLOSED"}}`),
	})

	r := NewReporter(loc)
	report, err := r.MarketReport("100", loc.Events[0].Markets[0])
	if err != nil {
		t.Fatalf("market report: %v", err)
	}
	if report.TimestampCount != 3 {
		t.Errorf("timestamp count = %d, want 3", report.TimestampCount)
	}
	if !report.ContainsMissingData {
		t.Error("40s gap should flag missing data")
	}
	if !report.ContainsMarketClosure {
		t.Error("final CLOSED definition should flag market closure")
	}
	if report.RecordLengthSec != 41 {
		t.Errorf("record length = %v, want 41", report.RecordLengthSec)
	}
	// ceil(41000 / 3)
	if report.TimestampAvgDiff != 13667 {
		t.Errorf("avg diff = %d, want 13667", report.TimestampAvgDiff)
	}
	if report.NumRunners != 2 {
		t.Errorf("num runners = %d, want 2", report.NumRunners)
	}
}

func TestMarketReportNoGapOrClosure(t *testing.T) {
	loc := fixtureLocation(t)
	writeMarket(t, loc, "100", "1.234", map[string]json.RawMessage{
		"1700000000000": json.RawMessage(`{"id": "1.234", "rc": [{"id": 1, "ltp": 2.5}]}`),
		"1700000001000": json.RawMessage(`{"id": "1.234", "rc": [{"id": 1, "ltp": 2.6}]}`),
	})

	report, err := NewReporter(loc).MarketReport("100", loc.Events[0].Markets[0])
	if err != nil {
		t.Fatalf("market report: %v", err)
	}
	if report.ContainsMissingData {
		t.Error("1s gap should not flag missing data")
	}
	if report.ContainsMarketClosure {
		t.Error("open market should not flag closure")
	}
}

func TestEventReportSkipsFailedMarket(t *testing.T) {
	loc := fixtureLocation(t)
	writeMarket(t, loc, "100", "1.234", map[string]json.RawMessage{
		"1700000000000": json.RawMessage(`{"id": "1.234"}`),
	})
	// No consolidated file for 1.567.

	report, err := NewReporter(loc).EventReport("100")
	if err != nil {
		t.Fatalf("event report: %v", err)
	}
	if report.EventName != "Test Event" {
		t.Errorf("event name = %q", report.EventName)
	}
	if len(report.Markets) != 1 {
		t.Fatalf("reported %d markets, want 1", len(report.Markets))
	}
	if report.Markets[0].MarketID != "1.234" {
		t.Errorf("reported market %q, want 1.234", report.Markets[0].MarketID)
	}
}

func TestGenerateWritesReportFile(t *testing.T) {
	loc := fixtureLocation(t)
	writeMarket(t, loc, "100", "1.234", map[string]json.RawMessage{
		"1700000000000": json.RawMessage(`{"id": "1.234"}`),
	})
	writeMarket(t, loc, "100", "1.567", map[string]json.RawMessage{
		"1700000000000": json.RawMessage(`{"id": "1.567"}`),
	})

	if err := NewReporter(loc).Generate(); err != nil {
		t.Fatalf("generate: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(loc.DataDir, "report.json"))
	if err != nil {
		t.Fatalf("read report.json: %v", err)
	}
	var reports []EventReport
	if err := json.Unmarshal(raw, &reports); err != nil {
		t.Fatalf("decode report.json: %v", err)
	}
	if len(reports) != 1 || len(reports[0].Markets) != 2 {
		t.Fatalf("unexpected report shape: %+v", reports)
	}
}

func TestReplayMarketOrdersNumerically(t *testing.T) {
	loc := fixtureLocation(t)
	// String order of these keys differs from numeric order.
	writeMarket(t, loc, "100", "1.234", map[string]json.RawMessage{
		"999":  json.RawMessage(`{"id": "1.234", "rc": [{"id": 1, "ltp": 2.5, "tv": 1000, "atb": [[2.5, 10], [3.0, 5]]}]}`),
		"1000": json.RawMessage(`{"id": "1.234", "rc": [{"id": 1, "tv": 1200, "atb": [[2.5, 0], [3.5, 7]]}]}`),
	})

	hist, err := NewReporter(loc).ReplayMarket("100", "1.234")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if hist.Len() != 2 {
		t.Fatalf("history length = %d, want 2", hist.Len())
	}
	rh, err := hist.RunnerHistory(1)
	if err != nil {
		t.Fatalf("runner history: %v", err)
	}
	if rh.Timestamps[0] != 999 || rh.Timestamps[1] != 1000 {
		t.Fatalf("timestamps out of order: %v", rh.Timestamps)
	}
	if rh.DeltaTv[0] != 1000 || rh.DeltaTv[1] != 200 {
		t.Fatalf("delta tv = %v, want [1000 200]", rh.DeltaTv)
	}
	wantPrices := []float64{3.0, 3.5}
	gotPrices := rh.AtbPrices[1]
	if len(gotPrices) != 2 || gotPrices[0] != wantPrices[0] || gotPrices[1] != wantPrices[1] {
		t.Fatalf("final atb prices = %v, want %v", gotPrices, wantPrices)
	}
}

func TestExportMarketWritesParquet(t *testing.T) {
	loc := fixtureLocation(t)
	writeMarket(t, loc, "100", "1.234", map[string]json.RawMessage{
		"1700000000000": json.RawMessage(`{"id": "1.234", "rc": [{"id": 1, "ltp": 2.5, "tv": 1000}, {"id": 2, "ltp": 4.0}]}`),
		"1700000001000": json.RawMessage(`{"id": "1.234", "rc": [{"id": 1, "tv": 1200}]}`),
	})

	if err := NewReporter(loc).ExportMarket("100", "1.234"); err != nil {
		t.Fatalf("export: %v", err)
	}
	for _, runner := range []string{"1", "2"} {
		path := filepath.Join(loc.DataDir, "100", "parquet", "1.234_"+runner+".parquet")
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("missing parquet file for runner %s: %v", runner, err)
		}
		if info.Size() == 0 {
			t.Fatalf("empty parquet file for runner %s", runner)
		}
	}
}
