package writer

import (
	"context"
	"time"

	appconfig "bookflow/config"
	"bookflow/models"
	"bookflow/storage"
)

// MarketBuffer accumulates packets for a single market and flushes them to a
// storage backend. Implementations are not safe for concurrent use; the
// manager is the sole caller.
type MarketBuffer interface {
	// Push appends a packet and flushes when the buffer grows past its
	// configured maximum size.
	Push(pkt models.MarketPacket) error
	// Flush writes all held packets to the backend and empties the buffer.
	Flush() error
	// Len reports the number of packets currently held.
	Len() int
	// Idle reports the time elapsed since the last push.
	Idle() time.Duration
	MarketID() string
}

// BufferParams carries everything a backend needs to open a buffer for one
// market.
type BufferParams struct {
	MarketID string
	Config   *appconfig.Config
	Location *storage.DataLocation
	Ctx      context.Context
}

// packetBuffer holds the pending packets shared by all backends.
type packetBuffer struct {
	marketID string
	maxSize  int
	items    []models.MarketPacket
	lastPush time.Time
}

func (b *packetBuffer) add(pkt models.MarketPacket) {
	b.items = append(b.items, pkt)
	b.lastPush = time.Now()
}

// full reports whether the buffer has grown past its maximum size.
func (b *packetBuffer) full() bool {
	return b.maxSize > 0 && len(b.items) > b.maxSize
}

// take returns the held packets and empties the buffer.
func (b *packetBuffer) take() []models.MarketPacket {
	items := b.items
	b.items = nil
	return items
}

func (b *packetBuffer) Len() int { return len(b.items) }

func (b *packetBuffer) Idle() time.Duration {
	if len(b.items) == 0 {
		return 0
	}
	return time.Since(b.lastPush)
}

func (b *packetBuffer) MarketID() string { return b.marketID }
