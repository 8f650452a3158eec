package bybit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const pingInterval = 20 * time.Second

// WSClient handles a public WebSocket connection to Bybit and message routing.
type WSClient struct {
	url            string
	topics         []string
	reconnectDelay time.Duration
	handler        func([]byte)
	logger         *zap.Logger

	mu   sync.Mutex // guards conn and writes
	conn *websocket.Conn
}

// NewWSClient creates a new WebSocket client with the given URL and logger.
func NewWSClient(url string, reconnectDelay time.Duration, logger *zap.Logger) *WSClient {
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	return &WSClient{
		url:            url,
		reconnectDelay: reconnectDelay,
		logger:         logger,
	}
}

// SetMessageHandler sets the function to handle incoming messages.
func (c *WSClient) SetMessageHandler(h func([]byte)) {
	c.handler = h
}

// Connect establishes the WebSocket connection and subscribes to topics.
// It does not start the listener.
func (c *WSClient) Connect(ctx context.Context, topics []string) error {
	c.topics = append([]string(nil), topics...)
	if err := c.dialAndSubscribe(ctx); err != nil {
		c.logger.Error("Failed to connect to WebSocket", zap.String("url", c.url), zap.Error(err))
		return err
	}
	c.logger.Info("WebSocket connected", zap.String("url", c.url), zap.Strings("topics", c.topics))
	return nil
}

// Listen reads messages until ctx is done, reconnecting and resubscribing
// after read errors.
func (c *WSClient) Listen(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.mu.Unlock()
	})
	defer stop()

	go c.keepAlive(ctx)

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("WebSocket read error", zap.Error(err))

			// Retry reconnecting until the context ends
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.reconnectDelay):
				}
				if err := c.dialAndSubscribe(ctx); err != nil {
					c.logger.Warn("Retrying reconnect...", zap.Error(err))
					continue
				}
				c.logger.Info("Reconnected successfully")
				break
			}
			continue
		}

		if c.handler != nil {
			c.handler(msg)
		}
	}
}

// Close closes the current connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *WSClient) dialAndSubscribe(ctx context.Context) error {
	newConn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Close the old connection if it exists
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = newConn

	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": c.topics,
	}
	if err := c.conn.WriteJSON(subMsg); err != nil {
		return fmt.Errorf("websocket subscribe failed: %w", err)
	}
	return nil
}

// keepAlive sends the application-level ping Bybit expects every 20 seconds.
func (c *WSClient) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteJSON(map[string]string{"op": "ping"})
			c.mu.Unlock()
			if err != nil {
				c.logger.Debug("websocket ping failed", zap.Error(err))
			}
		}
	}
}
