package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsPingInterval   = 30 * time.Second
	wsReadDeadline   = 60 * time.Second
	wsReconnectDelay = 5 * time.Second
)

// Subscription is a live user-event stream. Close stops the read loop and the
// underlying connection.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

// Close terminates the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
}

// SubscribeUserEvents opens a websocket and delivers fills, order updates and
// position updates to the callback. The read loop reconnects on failure until
// the context is cancelled or the subscription is closed.
func (c *Client) SubscribeUserEvents(ctx context.Context, callback func(UserEvent)) (*Subscription, error) {
	if c.cfg.WebsocketURL == "" {
		return nil, fmt.Errorf("websocket url not configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	conn, err := c.dialAndSubscribe(ctx)
	if err != nil {
		cancel()
		close(sub.done)
		return nil, err
	}
	sub.setConn(conn)

	go c.readLoop(ctx, sub, callback)
	return sub, nil
}

func (s *Subscription) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (c *Client) dialAndSubscribe(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.RequestTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.WebsocketURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	subMsg := map[string]interface{}{
		"method": "subscribe",
		"subscription": map[string]string{
			"type": "userEvents",
			"key":  c.cfg.APIKey,
		},
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, sub *Subscription, callback func(UserEvent)) {
	defer close(sub.done)
	logger := c.logger.With().Str("component", "user_stream").Logger()

	for {
		if err := c.readUntilError(ctx, sub, callback, logger); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("User stream dropped, reconnecting")
		}

		if err := sleepCtx(ctx, wsReconnectDelay); err != nil {
			return
		}
		conn, err := c.dialAndSubscribe(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Reconnect failed")
			continue
		}
		sub.setConn(conn)
	}
}

func (c *Client) readUntilError(ctx context.Context, sub *Subscription, callback func(UserEvent), logger zerolog.Logger) error {
	sub.mu.Lock()
	conn := sub.conn
	sub.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no connection")
	}

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pingTicker.C:
				sub.mu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				sub.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return err
		}

		var event UserEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			logger.Warn().Err(err).Msg("Dropping malformed user event")
			continue
		}
		if event.Channel == "" {
			continue
		}
		callback(event)
	}
}
