package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookflow/config"
	"bookflow/logger"
	"bookflow/models"
	"bookflow/provider"
)

// Session runs one scheduled stream subscription: authenticate, subscribe,
// stream, and reconnect with exponential backoff on any transport or
// provider error. Decoded packets go to the shared output channel in
// arrival order. Stop is terminal.
type Session struct {
	cfg          *config.Config
	client       *provider.Client
	name         string
	marketFilter provider.StreamingMarketFilter
	dataFilter   provider.StreamingMarketDataFilter
	uniqueID     int64
	out          chan<- models.MarketPacket

	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	stopped bool
	stream  *provider.Stream

	// resume tokens captured from the previous stream instance
	initialClk string
	clk        string

	log *logger.Log
}

func NewSession(cfg *config.Config, client *provider.Client, name string,
	marketFilter provider.StreamingMarketFilter, out chan<- models.MarketPacket) *Session {
	return &Session{
		cfg:          cfg,
		client:       client,
		name:         name,
		marketFilter: marketFilter,
		dataFilter:   provider.StreamingMarketDataFilter{Fields: cfg.Stream.DataFields},
		uniqueID:     int64(uuid.New().ID()),
		out:          out,
		wg:           &sync.WaitGroup{},
		log:          logger.GetLogger(),
	}
}

// UniqueID identifies this session's subscription in provider messages.
func (s *Session) UniqueID() int64 { return s.uniqueID }

// Start launches the session's streaming loop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("session %s already running", s.name)
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()

	s.log.WithComponent("feed_session").WithFields(logger.Fields{
		"stream": s.name,
		"id":     s.uniqueID,
	}).Info("session started")
	return nil
}

func (s *Session) run() {
	defer s.wg.Done()

	log := s.log.WithComponent("feed_session").WithFields(logger.Fields{"stream": s.name})

	for attempt := 0; ; attempt++ {
		if s.isStopped() || s.ctx.Err() != nil {
			return
		}

		err := s.streamOnce()
		if s.isStopped() || s.ctx.Err() != nil {
			return
		}
		if err == nil {
			// provider ended the stream without an error; resubscribe
			log.Warn("stream ended, resubscribing")
		} else {
			log.WithError(err).Warn("stream failed, reconnecting")
		}

		wait := backoffWait(attempt, s.cfg.Stream.Retry)
		log.WithFields(logger.Fields{"wait": wait.String(), "attempt": attempt}).Debug("backing off before retry")

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// streamOnce performs one full subscribe sequence: login, open the stream,
// subscribe with any resume tokens, then block on the read loop.
func (s *Session) streamOnce() error {
	if err := s.client.Login(s.ctx); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	st, err := s.client.OpenStream(s.ctx, s.out)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		st.Stop()
		return nil
	}
	s.stream = st
	initialClk, clk := s.initialClk, s.clk
	s.mu.Unlock()

	defer func() {
		ic, c := st.ResumeTokens()
		s.mu.Lock()
		if ic != "" {
			s.initialClk = ic
		}
		if c != "" {
			s.clk = c
		}
		s.mu.Unlock()
	}()

	err = st.Subscribe(provider.SubscriptionRequest{
		ID:               s.uniqueID,
		MarketFilter:     s.marketFilter,
		MarketDataFilter: s.dataFilter,
		ConflateMs:       s.cfg.Stream.ConflateMs,
		InitialClk:       initialClk,
		Clk:              clk,
		HeartbeatMs:      int(s.cfg.Stream.Heartbeat / time.Millisecond),
	})
	if err != nil {
		st.Stop()
		return err
	}

	return st.Run()
}

// IsActive reports whether any subscribed market's cache is still open. A
// session that has not received data yet counts as active. The scheduler
// polls this; the session never reads it itself.
func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stream == nil {
		return !s.stopped
	}
	return s.stream.Active()
}

func (s *Session) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// Stop requests the stream to halt. Idempotent, non-blocking for the
// caller, and safe while the session is mid-retry.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	st := s.stream
	s.mu.Unlock()

	if st != nil {
		st.Stop()
	}
	s.log.WithComponent("feed_session").WithFields(logger.Fields{"stream": s.name}).Info("session stopped")
}

// backoffWait computes the reconnect delay for the given attempt:
// multiplier * 2^attempt seconds, clamped to the configured bounds.
func backoffWait(attempt int, retry config.RetryConfig) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	wait := time.Duration(retry.Multiplier) * time.Second * time.Duration(int64(1)<<uint(attempt))
	if wait < retry.MinWait {
		wait = retry.MinWait
	}
	if wait > retry.MaxWait {
		wait = retry.MaxWait
	}
	return wait
}
