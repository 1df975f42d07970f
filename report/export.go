package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"bookflow/book"
	"bookflow/logger"
)

// runnerRecord defines the parquet schema for one row of a runner's replayed
// series. Ladder snapshots are not exported, only the scalar series.
type runnerRecord struct {
	MarketID  string  `parquet:"name=market_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	RunnerID  int64   `parquet:"name=runner_id, type=INT64"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Ltp       float64 `parquet:"name=ltp, type=DOUBLE"`
	Tv        float64 `parquet:"name=tv, type=DOUBLE"`
	DeltaTv   float64 `parquet:"name=delta_tv, type=DOUBLE"`
}

// ExportMarket replays a market and writes each runner's series to one
// parquet file under <data_dir>/<event_id>/parquet/.
func (r *Reporter) ExportMarket(eventID, marketID string) error {
	hist, err := r.ReplayMarket(eventID, marketID)
	if err != nil {
		return err
	}
	dir := filepath.Join(r.location.DataDir, eventID, "parquet")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parquet dir: %w", err)
	}
	for _, runnerID := range hist.RunnerIDs() {
		runnerHist, err := hist.RunnerHistory(runnerID)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%d.parquet", marketID, runnerID))
		if err := exportRunner(path, marketID, runnerHist); err != nil {
			return fmt.Errorf("export runner %d: %w", runnerID, err)
		}
		r.log.WithComponent("report").WithFields(logger.Fields{
			"market_id": marketID,
			"runner_id": runnerID,
			"rows":      runnerHist.Len(),
			"file":      path,
		}).Info("runner series exported")
	}
	return nil
}

func exportRunner(path, marketID string, hist *book.RunnerOrderBookHistory) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	pw, err := writer.NewParquetWriter(fw, new(runnerRecord), 4)
	if err != nil {
		fw.Close()
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for i := range hist.Timestamps {
		rec := runnerRecord{
			MarketID:  marketID,
			RunnerID:  hist.RunnerID,
			Timestamp: hist.Timestamps[i],
			Ltp:       hist.Ltp[i],
			Tv:        hist.Tv[i],
			DeltaTv:   hist.DeltaTv[i],
		}
		if err := pw.Write(rec); err != nil {
			fw.Close()
			return err
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return err
	}
	return fw.Close()
}
