package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TradeUpdate is one event of the Alpaca trade_updates stream.
type TradeUpdate struct {
	Event      string
	ExternalID string
	Status     string
}

// TradeStream listens to account order events and hands each one to a
// callback. It holds no order state of its own.
type TradeStream struct {
	url       string
	apiKey    string
	apiSecret string
	dialer    *websocket.Dialer
	logger    *zap.Logger

	mu        sync.Mutex
	callbacks []func(TradeUpdate)

	reconnectDelay time.Duration
}

func NewTradeStream(url, apiKey, apiSecret string, logger *zap.Logger) *TradeStream {
	return &TradeStream{
		url:            url,
		apiKey:         apiKey,
		apiSecret:      apiSecret,
		dialer:         websocket.DefaultDialer,
		logger:         logger,
		reconnectDelay: 5 * time.Second,
	}
}

func (s *TradeStream) OnTradeUpdate(callback func(TradeUpdate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, callback)
}

type streamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type authorizationData struct {
	Status string `json:"status"`
	Action string `json:"action"`
}

type tradeUpdateData struct {
	Event string      `json:"event"`
	Order alpacaOrder `json:"order"`
}

// Run keeps the stream connected until ctx is done.
func (s *TradeStream) Run(ctx context.Context) error {
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("Trade stream disconnected", zap.Error(err), zap.Duration("retry_in", s.reconnectDelay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *TradeStream) runOnce(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteJSON(map[string]any{
		"action": "auth",
		"key":    s.apiKey,
		"secret": s.apiSecret,
	}); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := s.awaitAuthorization(conn); err != nil {
		return err
	}

	if err := conn.WriteJSON(map[string]any{
		"action": "listen",
		"data":   map[string]any{"streams": []string{"trade_updates"}},
	}); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.logger.Info("Trade stream connected", zap.String("url", s.url))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.handleMessage(message)
	}
}

func (s *TradeStream) awaitAuthorization(conn *websocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read auth response: %w", err)
		}
		var msg streamMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Stream != "authorization" {
			continue
		}
		var auth authorizationData
		if err := json.Unmarshal(msg.Data, &auth); err != nil {
			return fmt.Errorf("decode auth response: %w", err)
		}
		if auth.Status != "authorized" {
			return fmt.Errorf("stream authorization %s", auth.Status)
		}
		return nil
	}
}

func (s *TradeStream) handleMessage(message []byte) {
	var msg streamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.logger.Debug("Ignoring malformed stream message", zap.Error(err))
		return
	}
	if msg.Stream != "trade_updates" {
		return
	}

	var data tradeUpdateData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		s.logger.Warn("Failed to decode trade update", zap.Error(err))
		return
	}
	if data.Order.ID == "" {
		return
	}

	update := TradeUpdate{Event: data.Event, ExternalID: data.Order.ID, Status: data.Order.Status}

	s.mu.Lock()
	callbacks := append([]func(TradeUpdate){}, s.callbacks...)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(update)
	}
}
