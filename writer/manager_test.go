package writer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	appconfig "bookflow/config"
	"bookflow/models"
	"bookflow/storage"
)

type memoryBuffer struct {
	mu       sync.Mutex
	marketID string
	maxSize  int
	items    []models.MarketPacket
	lastPush time.Time
	flushes  [][]models.MarketPacket
}

func (b *memoryBuffer) Push(pkt models.MarketPacket) error {
	b.mu.Lock()
	b.items = append(b.items, pkt)
	b.lastPush = time.Now()
	full := len(b.items) > b.maxSize
	b.mu.Unlock()
	if full {
		return b.Flush()
	}
	return nil
}

func (b *memoryBuffer) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil
	}
	b.flushes = append(b.flushes, b.items)
	b.items = nil
	return nil
}

func (b *memoryBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *memoryBuffer) Idle() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return 0
	}
	return time.Since(b.lastPush)
}

func (b *memoryBuffer) MarketID() string { return b.marketID }

func (b *memoryBuffer) flushed() [][]models.MarketPacket {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]models.MarketPacket, len(b.flushes))
	copy(out, b.flushes)
	return out
}

type memoryBackend struct {
	mu      sync.Mutex
	buffers map[string]*memoryBuffer
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{buffers: make(map[string]*memoryBuffer)}
}

func (m *memoryBackend) constructor(params BufferParams) (MarketBuffer, error) {
	buf := &memoryBuffer{
		marketID: params.MarketID,
		maxSize:  params.Config.Writer.Buffer.MaxSize,
	}
	m.mu.Lock()
	m.buffers[params.MarketID] = buf
	m.mu.Unlock()
	return buf, nil
}

func (m *memoryBackend) buffer(marketID string) *memoryBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buffers[marketID]
}

func managerConfig() *appconfig.Config {
	cfg := &appconfig.Config{}
	cfg.Writer.Backend = "memory"
	cfg.Writer.Buffer.MaxSize = 2
	cfg.Writer.Buffer.MaxIdle = 20 * time.Millisecond
	cfg.Writer.Buffer.PollInterval = 10 * time.Millisecond
	cfg.Writer.Buffer.ReceiveWait = 5 * time.Millisecond
	return cfg
}

func testPacket(marketID string, pt int64) models.MarketPacket {
	raw := fmt.Sprintf(`{"id":"%s","rc":[{"id":1,"ltp":2.5}]}`, marketID)
	return models.MarketPacket{
		MarketID:    marketID,
		PublishTime: pt,
		Raw:         json.RawMessage(raw),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestRegistryUnknownBackend(t *testing.T) {
	reg := NewRegistry()
	reg.Register("memory", newMemoryBackend().constructor)
	if _, err := reg.New("bogus", BufferParams{Config: managerConfig()}); err == nil {
		t.Fatal("expected error for unregistered backend")
	}
	backends := reg.Backends()
	if len(backends) != 1 || backends[0] != "memory" {
		t.Fatalf("unexpected backend list %v", backends)
	}
}

func TestManagerSizeTriggerFlush(t *testing.T) {
	backend := newMemoryBackend()
	reg := NewRegistry()
	reg.Register("memory", backend.constructor)
	cfg := managerConfig()

	in := make(chan models.MarketPacket, 16)
	m := NewManager(cfg, in, reg, BufferParams{})

	for i := 0; i < cfg.Writer.Buffer.MaxSize+1; i++ {
		in <- testPacket("1.234", int64(1000+i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitFor(t, func() bool {
		buf := backend.buffer("1.234")
		return buf != nil && len(buf.flushed()) == 1
	})
	flushes := backend.buffer("1.234").flushed()
	if got := len(flushes[0]); got != cfg.Writer.Buffer.MaxSize+1 {
		t.Fatalf("flush size = %d, want %d", got, cfg.Writer.Buffer.MaxSize+1)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned error: %v", err)
	}
}

func TestManagerIdleFlush(t *testing.T) {
	backend := newMemoryBackend()
	reg := NewRegistry()
	reg.Register("memory", backend.constructor)
	cfg := managerConfig()

	in := make(chan models.MarketPacket, 16)
	m := NewManager(cfg, in, reg, BufferParams{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	in <- testPacket("1.234", 1000)

	waitFor(t, func() bool {
		buf := backend.buffer("1.234")
		return buf != nil && len(buf.flushed()) == 1
	})
	flushes := backend.buffer("1.234").flushed()
	if got := len(flushes[0]); got != 1 {
		t.Fatalf("flush size = %d, want 1", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned error: %v", err)
	}
}

func TestManagerWriteAll(t *testing.T) {
	backend := newMemoryBackend()
	reg := NewRegistry()
	reg.Register("memory", backend.constructor)
	cfg := managerConfig()
	cfg.Writer.Buffer.MaxIdle = time.Hour

	in := make(chan models.MarketPacket, 16)
	m := NewManager(cfg, in, reg, BufferParams{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	in <- testPacket("1.234", 1000)
	in <- testPacket("1.567", 2000)

	waitFor(t, func() bool {
		return backend.buffer("1.234") != nil && backend.buffer("1.567") != nil
	})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	// Packets still queued when the run stops must survive the final flush.
	in <- testPacket("1.234", 3000)
	if err := m.WriteAll(); err != nil {
		t.Fatalf("write all: %v", err)
	}

	first := backend.buffer("1.234").flushed()
	if len(first) != 1 || len(first[0]) != 2 {
		t.Fatalf("unexpected flushes for 1.234: %v", first)
	}
	second := backend.buffer("1.567").flushed()
	if len(second) != 1 || len(second[0]) != 1 {
		t.Fatalf("unexpected flushes for 1.567: %v", second)
	}
}

func TestManagerAlreadyRunning(t *testing.T) {
	reg := NewRegistry()
	reg.Register("memory", newMemoryBackend().constructor)
	m := NewManager(managerConfig(), make(chan models.MarketPacket), reg, BufferParams{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitFor(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.running
	})
	if err := m.Run(ctx); err == nil {
		t.Fatal("expected error for second run")
	}
	cancel()
	<-done
}

func TestFileBufferFlush(t *testing.T) {
	dir := t.TempDir()
	loc := storage.NewDataLocation(dir, []storage.Event{{
		Event:   storage.EventInfo{ID: "100", Name: "Test Event"},
		Markets: []storage.MarketInfo{{MarketID: "1.234", MarketName: "Test Market"}},
	}})
	if err := loc.Create(); err != nil {
		t.Fatalf("create data location: %v", err)
	}

	cfg := managerConfig()
	buf, err := NewFileBuffer(BufferParams{
		MarketID: "1.234",
		Config:   cfg,
		Location: loc,
	})
	if err != nil {
		t.Fatalf("new file buffer: %v", err)
	}

	for i := 0; i < cfg.Writer.Buffer.MaxSize+1; i++ {
		if err := buf.Push(testPacket("1.234", int64(1000+i))); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if buf.Len() != 0 {
		t.Fatalf("buffer not emptied after size flush, len=%d", buf.Len())
	}

	path, err := loc.MarketStorePath("1.234")
	if err != nil {
		t.Fatalf("store path: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open store file: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]json.RawMessage
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line %d not valid JSON: %v", lines, err)
		}
		if len(entry) != 1 {
			t.Fatalf("line %d has %d keys, want 1", lines, len(entry))
		}
		lines++
	}
	if lines != cfg.Writer.Buffer.MaxSize+1 {
		t.Fatalf("store file has %d lines, want %d", lines, cfg.Writer.Buffer.MaxSize+1)
	}
}

func TestFileBufferUnknownMarket(t *testing.T) {
	loc := storage.NewDataLocation(t.TempDir(), nil)
	if _, err := NewFileBuffer(BufferParams{MarketID: "1.999", Config: managerConfig(), Location: loc}); err == nil {
		t.Fatal("expected error for unmapped market")
	}
}
