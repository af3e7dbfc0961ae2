package source

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"QuotePulse/internal/domain/models"
	"QuotePulse/pkg/logger"
)

// StreamConfig configures the websocket tape source.
type StreamConfig struct {
	URL            string
	APIKey         string
	Symbols        []string
	Confidence     float64
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	// MaxTickAge bounds how old a buffered tick may be before Fetch refuses
	// to serve it.
	MaxTickAge time.Duration
}

type tick struct {
	price  float64
	volume float64
	at     time.Time
}

// Stream keeps a last-tick tape per symbol from a trade websocket feed and
// serves Fetch from that tape. The feed speaks the Finnhub-style trade frame
// format: {"type":"trade","data":[{"s":...,"p":...,"v":...,"t":ms}]}.
type Stream struct {
	cfg StreamConfig
	log *logger.Logger

	mu    sync.RWMutex
	ticks map[string]tick

	cancel context.CancelFunc
}

func NewStream(cfg StreamConfig, log *logger.Logger) *Stream {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.MaxTickAge <= 0 {
		cfg.MaxTickAge = 2 * time.Minute
	}
	return &Stream{
		cfg:   cfg,
		log:   log.Named("stream_source"),
		ticks: make(map[string]tick),
	}
}

func (s *Stream) Name() string        { return "stream" }
func (s *Stream) Confidence() float64 { return s.cfg.Confidence }

// Fetch serves the last buffered tick for symbol, refusing ticks older than
// MaxTickAge so a dead feed cannot masquerade as a live one.
func (s *Stream) Fetch(ctx context.Context, symbol string) (*models.RawQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	t, ok := s.ticks[symbol]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("stream: no tick for %s", symbol)
	}
	if time.Since(t.at) > s.cfg.MaxTickAge {
		return nil, fmt.Errorf("stream: tick for %s is %s old", symbol, time.Since(t.at).Round(time.Second))
	}
	vol := t.volume
	return &models.RawQuote{
		Symbol:           symbol,
		Price:            t.price,
		Source:           "stream",
		ObservedAt:       t.at,
		Volume:           &vol,
		SourceConfidence: s.cfg.Confidence,
	}, nil
}

// Start connects and keeps the tape updated until Close or ctx cancellation.
func (s *Stream) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	conn, err := s.connect(ctx)
	if err != nil {
		cancel()
		return err
	}
	go s.run(ctx, conn)
	return nil
}

// Close stops the background read loop.
func (s *Stream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *Stream) connect(ctx context.Context) (*websocket.Conn, error) {
	u := s.cfg.URL
	if s.cfg.APIKey != "" {
		u = fmt.Sprintf("%s?token=%s", u, s.cfg.APIKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("stream connect: %w", err)
	}
	for _, sym := range s.cfg.Symbols {
		msg := map[string]string{"type": "subscribe", "symbol": sym}
		if err := conn.WriteJSON(msg); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("stream subscribe %s: %w", sym, err)
		}
	}
	s.log.Info("connected", logger.Strings("symbols", s.cfg.Symbols))
	return conn, nil
}

type streamTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type streamFrame struct {
	Type string        `json:"type"`
	Data []streamTrade `json:"data"`
}

func (s *Stream) run(ctx context.Context, conn *websocket.Conn) {
	// ping loop
	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			_ = conn.Close()
			return
		}
		_, b, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			s.log.Warn("read failed, reconnecting", logger.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.ReconnectDelay):
			}
			next, cerr := s.connect(ctx)
			if cerr != nil {
				s.log.Error("reconnect failed", logger.Error(cerr))
				continue
			}
			conn = next
			continue
		}

		var frame streamFrame
		if err := json.Unmarshal(b, &frame); err != nil || frame.Type != "trade" {
			continue // ignore non-trade frames
		}
		s.mu.Lock()
		for _, tr := range frame.Data {
			s.ticks[tr.S] = tick{price: tr.P, volume: tr.V, at: time.UnixMilli(tr.T)}
		}
		s.mu.Unlock()
	}
}
