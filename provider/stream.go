package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bookflow/logger"
	"bookflow/models"
)

// SubscriptionRequest carries everything a market subscription needs. The
// resume tokens (InitialClk, Clk) come from a prior stream; supplying them
// lets the provider resume mid-stream instead of sending a fresh image.
type SubscriptionRequest struct {
	Op               string                    `json:"op"`
	ID               int64                     `json:"id"`
	MarketFilter     StreamingMarketFilter     `json:"marketFilter"`
	MarketDataFilter StreamingMarketDataFilter `json:"marketDataFilter"`
	ConflateMs       int                       `json:"conflateMs,omitempty"`
	InitialClk       string                    `json:"initialClk,omitempty"`
	Clk              string                    `json:"clk,omitempty"`
	HeartbeatMs      int                       `json:"heartbeatMs,omitempty"`
}

type authenticationMessage struct {
	Op      string `json:"op"`
	ID      int64  `json:"id"`
	AppKey  string `json:"appKey"`
	Session string `json:"session"`
}

type statusMessage struct {
	Op               string `json:"op"`
	ID               int64  `json:"id"`
	StatusCode       string `json:"statusCode"`
	ErrorCode        string `json:"errorCode"`
	ErrorMessage     string `json:"errorMessage"`
	ConnectionClosed bool   `json:"connectionClosed"`
}

// changeEnvelope decodes the outer change message while keeping each market
// change's raw bytes for the durable store.
type changeEnvelope struct {
	Op          string            `json:"op"`
	Clk         string            `json:"clk"`
	InitialClk  string            `json:"initialClk"`
	Ct          string            `json:"ct"`
	PublishTime int64             `json:"pt"`
	Mc          []json.RawMessage `json:"mc"`
}

// Stream is one authenticated streaming connection to the provider. Decoded
// market packets are pushed, in arrival order, onto the sink supplied at
// dial time. The stream tracks resume tokens and an open/closed cache per
// market so callers can poll liveness.
type Stream struct {
	conn *websocket.Conn
	sink chan<- models.MarketPacket

	mu         sync.RWMutex
	clk        string
	initialClk string
	caches     map[string]bool
	seenMarket bool

	stopOnce sync.Once
	done     chan struct{}

	log *logger.Entry
}

// OpenStream dials the provider's streaming endpoint and authenticates with
// the client's session token. Subscribe must be called before packets flow.
func (c *Client) OpenStream(ctx context.Context, sink chan<- models.MarketPacket) (*Stream, error) {
	token := c.SessionToken()
	if token == "" {
		return nil, fmt.Errorf("not logged in")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.StreamURL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dial stream endpoint: %w", err)
	}

	s := &Stream{
		conn:   conn,
		sink:   sink,
		caches: make(map[string]bool),
		done:   make(chan struct{}),
		log:    c.log.WithComponent("provider_stream"),
	}

	auth := authenticationMessage{Op: "authentication", AppKey: c.cfg.AppKey, Session: token}
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send authentication: %w", err)
	}

	return s, nil
}

// Subscribe issues a market subscription on the open connection.
func (s *Stream) Subscribe(req SubscriptionRequest) error {
	if req.Op == "" {
		req.Op = "marketSubscription"
	}
	if err := s.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send subscription: %w", err)
	}
	return nil
}

// Run reads messages until the connection fails, the provider reports a
// fatal status, or Stop is called. It always returns a non-nil error except
// after Stop.
func (s *Stream) Run() error {
	defer s.conn.Close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return fmt.Errorf("read stream message: %w", err)
			}
		}

		var probe struct {
			Op string `json:"op"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			s.log.WithError(err).Warn("discarding undecodable stream message")
			continue
		}

		switch probe.Op {
		case "connection":
			// connection greeting, nothing to do
		case "status":
			var status statusMessage
			if err := json.Unmarshal(data, &status); err != nil {
				return fmt.Errorf("decode status message: %w", err)
			}
			if status.StatusCode == "FAILURE" {
				return fmt.Errorf("provider status failure: %s %s", status.ErrorCode, status.ErrorMessage)
			}
			if status.ConnectionClosed {
				return fmt.Errorf("provider closed the connection: %s", status.ErrorCode)
			}
		case "mcm":
			if err := s.handleChange(data); err != nil {
				return err
			}
		default:
			s.log.WithFields(logger.Fields{"op": probe.Op}).Debug("ignoring stream message")
		}
	}
}

func (s *Stream) handleChange(data []byte) error {
	var envelope changeEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decode change message: %w", err)
	}

	s.mu.Lock()
	if envelope.InitialClk != "" {
		s.initialClk = envelope.InitialClk
	}
	if envelope.Clk != "" {
		s.clk = envelope.Clk
	}
	s.mu.Unlock()

	if envelope.Ct == "HEARTBEAT" {
		return nil
	}

	for _, raw := range envelope.Mc {
		var change models.MarketChange
		if err := json.Unmarshal(raw, &change); err != nil {
			s.log.WithError(err).Warn("discarding undecodable market change")
			continue
		}

		open := true
		if change.MarketDefinition != nil && change.MarketDefinition.Status == "CLOSED" {
			open = false
		}
		s.mu.Lock()
		s.caches[change.ID] = open
		s.seenMarket = true
		s.mu.Unlock()

		packet := models.MarketPacket{
			MarketID:    change.ID,
			PublishTime: envelope.PublishTime,
			Change:      change,
			Raw:         raw,
		}

		select {
		case s.sink <- packet:
			logger.IncrementPacketRead(len(raw))
		case <-s.done:
			return nil
		}
	}
	return nil
}

// ResumeTokens returns the latest (initialClk, clk) pair seen on this
// stream, for resuming after a reconnect.
func (s *Stream) ResumeTokens() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialClk, s.clk
}

// OpenMarkets counts subscribed markets whose cache is still open.
func (s *Stream) OpenMarkets() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	open := 0
	for _, isOpen := range s.caches {
		if isOpen {
			open++
		}
	}
	return open
}

// Active reports whether this stream still has live markets. A stream that
// has not yet received any market data counts as active.
func (s *Stream) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.seenMarket {
		return true
	}
	for _, isOpen := range s.caches {
		if isOpen {
			return true
		}
	}
	return false
}

// Stop closes the connection and unblocks Run. Idempotent and safe to call
// from another goroutine.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
