// Package ingestion consumes market snapshot feeds and files and writes
// canonical snapshots to a store. The simulation engine never sees this
// package; it reads whatever ingestion stored.
package ingestion

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"lending-lab/internal/normalization"
	"lending-lab/internal/observability"
)

// FeedConfig configures feed client behavior.
type FeedConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff between attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is the timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultFeedConfig returns the default feed configuration.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// FrameSource produces raw feed frames. Satisfied by FeedClient and by test
// fakes.
type FrameSource interface {
	// Subscribe returns a channel of frames. The channel closes when the
	// context is cancelled or the source shuts down.
	Subscribe(ctx context.Context) (<-chan *normalization.Frame, error)
}

// FeedClient streams snapshot frames from a websocket feed. The feed sends
// one JSON frame per message; malformed messages are counted and skipped.
type FeedClient struct {
	endpoint string
	config   FeedConfig
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	done chan struct{}
	wg   sync.WaitGroup
}

var _ FrameSource = (*FeedClient)(nil)

// NewFeedClient creates a feed client and connects to the endpoint.
func NewFeedClient(ctx context.Context, endpoint string, config *FeedConfig, logger *log.Logger) (*FeedClient, error) {
	cfg := DefaultFeedConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}

	c := &FeedClient{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// connect establishes the websocket connection.
func (c *FeedClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", c.endpoint, err)
	}

	c.conn = conn
	return nil
}

// Subscribe starts the read loop and returns the frame channel. The channel
// closes when the context is cancelled or the client is closed.
func (c *FeedClient) Subscribe(ctx context.Context) (<-chan *normalization.Frame, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("feed client closed")
	}

	frames := make(chan *normalization.Frame, 100)
	c.wg.Add(1)
	go c.readLoop(ctx, frames)

	return frames, nil
}

// readLoop reads messages, parses frames, and reconnects with capped
// exponential backoff on connection errors.
func (c *FeedClient) readLoop(ctx context.Context, frames chan<- *normalization.Frame) {
	defer c.wg.Done()
	defer close(frames)

	reconnectDelay := c.config.ReconnectDelay

	for {
		if c.closed.Load() || ctx.Err() != nil {
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if !c.waitAndReconnect(ctx, &reconnectDelay) {
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || ctx.Err() != nil {
				return
			}
			c.logger.Printf("feed read: %v", err)
			c.dropConn()
			if !c.waitAndReconnect(ctx, &reconnectDelay) {
				return
			}
			continue
		}

		// Reset backoff on a successful read
		reconnectDelay = c.config.ReconnectDelay

		frame, err := normalization.ParseFrame(message)
		if err != nil {
			c.logger.Printf("feed frame: %v", err)
			continue
		}

		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

// waitAndReconnect sleeps the current backoff, doubles it up to the cap, and
// dials again. Returns false when the client is shutting down.
func (c *FeedClient) waitAndReconnect(ctx context.Context, delay *time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	case <-time.After(*delay):
	}

	*delay *= 2
	if *delay > c.config.MaxReconnectDelay {
		*delay = c.config.MaxReconnectDelay
	}

	observability.RecordFeedReconnect()
	if err := c.connect(ctx); err != nil {
		c.logger.Printf("feed reconnect: %v", err)
		return true // keep retrying on the next pass
	}
	c.logger.Printf("feed reconnected to %s", c.endpoint)
	return true
}

// dropConn closes and forgets the current connection.
func (c *FeedClient) dropConn() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// Close closes the connection and stops all loops.
func (c *FeedClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	return nil
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *FeedClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, the read loop handles reconnect
				}
			}
			c.connMu.Unlock()
		}
	}
}
