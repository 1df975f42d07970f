package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appconfig "bookflow/config"
	"bookflow/logger"
	"bookflow/models"
)

// Manager is the single consumer of the packet queue. It routes each packet
// to a per-market buffer, opening buffers lazily through the registry, and
// force-flushes buffers that sit idle past the configured maximum. Storage
// errors are fatal and end the run.
type Manager struct {
	cfg      *appconfig.Config
	in       <-chan models.MarketPacket
	registry *Registry
	params   BufferParams
	buffers  map[string]MarketBuffer
	ctx      context.Context
	mu       sync.Mutex
	running  bool
	log      *logger.Log
}

func NewManager(cfg *appconfig.Config, in <-chan models.MarketPacket, registry *Registry, params BufferParams) *Manager {
	params.Config = cfg
	return &Manager{
		cfg:      cfg,
		in:       in,
		registry: registry,
		params:   params,
		buffers:  make(map[string]MarketBuffer),
		log:      logger.GetLogger(),
	}
}

// Run consumes the queue until the context is cancelled. Remaining buffered
// packets are left for WriteAll.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("buffer manager already running")
	}
	m.running = true
	m.ctx = ctx
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	m.log.WithComponent("buffer_manager").WithFields(logger.Fields{
		"backend":  m.cfg.Writer.Backend,
		"max_size": m.cfg.Writer.Buffer.MaxSize,
		"max_idle": m.cfg.Writer.Buffer.MaxIdle.String(),
	}).Info("buffer manager started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt := <-m.in:
			if err := m.route(pkt); err != nil {
				return err
			}
		case <-time.After(m.cfg.Writer.Buffer.ReceiveWait):
			if err := m.sweep(); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(m.cfg.Writer.Buffer.PollInterval):
			}
		}
	}
}

func (m *Manager) route(pkt models.MarketPacket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.buffers[pkt.MarketID]
	if !ok {
		params := m.params
		params.MarketID = pkt.MarketID
		params.Ctx = m.ctx
		var err error
		buf, err = m.registry.New(m.cfg.Writer.Backend, params)
		if err != nil {
			return fmt.Errorf("open buffer for %s: %w", pkt.MarketID, err)
		}
		m.buffers[pkt.MarketID] = buf
		m.log.WithComponent("buffer_manager").WithFields(logger.Fields{
			"market_id": pkt.MarketID,
			"backend":   m.cfg.Writer.Backend,
		}).Debug("buffer opened")
	}
	return buf.Push(pkt)
}

// sweep force-flushes buffers that hold packets but have not received a push
// within the idle limit.
func (m *Manager) sweep() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, buf := range m.buffers {
		if buf.Len() > 0 && buf.Idle() > m.cfg.Writer.Buffer.MaxIdle {
			m.log.WithComponent("buffer_manager").WithFields(logger.Fields{
				"market_id": buf.MarketID(),
				"records":   buf.Len(),
			}).Debug("flushing idle buffer")
			if err := buf.Flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteAll drains any packets still queued and flushes every buffer. It is
// called after Run returns during shutdown so no packet is lost.
func (m *Manager) WriteAll() error {
	if err := m.drain(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	total := 0
	for _, buf := range m.buffers {
		total += buf.Len()
		if err := buf.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	m.log.WithComponent("buffer_manager").WithFields(logger.Fields{
		"buffers": len(m.buffers),
		"records": total,
	}).Info("all buffers flushed")
	return errors.Join(errs...)
}

func (m *Manager) drain() error {
	for {
		select {
		case pkt := <-m.in:
			if err := m.route(pkt); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
