// Package stream owns the trade feed: frame decoding and the reconnecting
// WebSocket client that delivers decoded events to the pipeline.
package stream

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"polyswarm/internal/model"
)

// Handler receives each decoded trade event. It must not block: the client
// calls it from the read loop, so any further processing belongs behind the
// backpressure queue.
type Handler func(model.TradeEvent)

// Options tune the stream client.
type Options struct {
	URL              string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
}

type subscribeFrame struct {
	Action        string         `json:"action"`
	Subscriptions []subscription `json:"subscriptions"`
}

type subscription struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
}

// Client maintains the socket lifecycle: connect, subscribe, read, and
// reconnect with a flat delay on any failure. It runs until ctx cancellation;
// there is no retry cap.
type Client struct {
	opts    Options
	handler Handler
	logger  zerolog.Logger

	received atomic.Int64
	rejected atomic.Int64
}

// NewClient constructs a stream client delivering events to handler.
func NewClient(opts Options, handler Handler, logger zerolog.Logger) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	return &Client{
		opts:    opts,
		handler: handler,
		logger:  logger.With().Str("component", "stream").Logger(),
	}
}

// Run connects and listens forever, reconnecting after every close or error
// until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := c.connectAndListen(ctx); err != nil {
			c.logger.Error().Err(err).Msg("stream connection lost")
		}

		select {
		case <-ctx.Done():
			c.logger.Info().Msg("stream client stopped")
			return ctx.Err()
		case <-time.After(c.opts.ReconnectDelay):
			c.logger.Info().Msg("reconnecting to trade feed")
		}
	}
}

func (c *Client) connectAndListen(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	defer conn.Close()

	sub := subscribeFrame{
		Action: "subscribe",
		Subscriptions: []subscription{
			{Topic: "activity", Type: "orders_matched"},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.logger.Info().Str("url", c.opts.URL).Msg("subscribed to trade feed")

	// Close the socket when ctx is cancelled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go c.keepAlive(ctx, done, conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}

		c.received.Add(1)
		ev, ok := Decode(raw)
		if !ok {
			c.rejected.Add(1)
			continue
		}
		c.handler(ev)
	}
}

func (c *Client) keepAlive(ctx context.Context, done <-chan struct{}, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// Stats reports frames received and frames rejected by the decoder since
// startup.
func (c *Client) Stats() (received, rejected int64) {
	return c.received.Load(), c.rejected.Load()
}
