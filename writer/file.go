package writer

import (
	"fmt"
	"os"

	"bookflow/logger"
	"bookflow/models"
)

// FileBuffer appends packets as line-delimited JSON to the market's store
// file under the data directory.
type FileBuffer struct {
	packetBuffer
	path string
	log  *logger.Log
}

// NewFileBuffer resolves the market's store path and opens a buffer for it.
func NewFileBuffer(params BufferParams) (MarketBuffer, error) {
	path, err := params.Location.MarketStorePath(params.MarketID)
	if err != nil {
		return nil, err
	}
	return &FileBuffer{
		packetBuffer: packetBuffer{
			marketID: params.MarketID,
			maxSize:  params.Config.Writer.Buffer.MaxSize,
		},
		path: path,
		log:  logger.GetLogger(),
	}, nil
}

func (b *FileBuffer) Push(pkt models.MarketPacket) error {
	b.add(pkt)
	if b.full() {
		return b.Flush()
	}
	return nil
}

func (b *FileBuffer) Flush() error {
	items := b.take()
	if len(items) == 0 {
		return nil
	}
	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open store file for %s: %w", b.marketID, err)
	}
	for _, pkt := range items {
		line, err := pkt.StoreLine()
		if err != nil {
			f.Close()
			return fmt.Errorf("encode packet for %s: %w", b.marketID, err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			f.Close()
			return fmt.Errorf("append to store file for %s: %w", b.marketID, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close store file for %s: %w", b.marketID, err)
	}
	b.log.WithComponent("file_buffer").WithFields(logger.Fields{
		"market_id": b.marketID,
		"records":   len(items),
	}).Debug("buffer flushed to file")
	logger.IncrementBufferFlush(len(items))
	return nil
}
