package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"call-signaling/internal/signaling"
)

var (
	ErrSlowConsumer = errors.New("transport: send queue full")
	ErrClosed       = errors.New("transport: connection closed")
)

// client adapts one WebSocket to signaling.Conn. Reads happen on the goroutine
// serving the upgrade; writes on writePump.
type client struct {
	id  string
	ws  *websocket.Conn
	cfg Config
	log *slog.Logger

	send chan []byte
	done chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string

	// onPing runs after every successful keepalive ping.
	onPing func()
}

func newClient(id string, ws *websocket.Conn, cfg Config, log *slog.Logger) *client {
	return &client{
		id:   id,
		ws:   ws,
		cfg:  cfg,
		log:  log,
		send: make(chan []byte, cfg.SendQueue),
		done: make(chan struct{}),
	}
}

func (c *client) ID() string { return c.id }

// Send queues msg without blocking. A full queue closes the connection.
func (c *client) Send(msg signaling.Outbound) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", msg.Event, err)
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		c.log.Warn("send queue full, closing connection", "queue", cap(c.send))
		c.shutdown(websocket.CloseTryAgainLater, "slow consumer")
		return ErrSlowConsumer
	}
}

// shutdown stops the writer. A non-zero code is sent as a close frame first.
func (c *client) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case b := <-c.send:
			if err := c.write(b); err != nil {
				c.shutdown(0, "")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.shutdown(0, "")
				return
			}
			if c.onPing != nil {
				c.onPing()
			}
		case <-c.done:
			if c.closeCode == 0 {
				return
			}
			if c.closeCode != websocket.CloseTryAgainLater {
				c.flush()
			}
			writeClose(c.ws, c.closeCode, c.closeReason, c.cfg.WriteTimeout)
			return
		}
	}
}

// flush writes whatever is already queued so a final callError reaches the
// client before the close frame.
func (c *client) flush() {
	for {
		select {
		case b := <-c.send:
			if err := c.write(b); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *client) write(b []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// readPump feeds frames to h until the connection ends and returns a short
// reason for metrics.
func (c *client) readPump(h Handler) string {
	c.ws.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(c.cfg.MessagesPerSecond), c.cfg.MessagesPerSecond)

	for {
		msgType, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(0, "")
			return readErrorReason(err)
		}
		if msgType != websocket.TextMessage {
			c.shutdown(websocket.CloseUnsupportedData, "expected text message")
			return "unsupported_data"
		}
		if !limiter.Allow() {
			c.shutdown(websocket.ClosePolicyViolation, "rate limit exceeded")
			return "rate_limited"
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		if err := h.HandleRaw(c, raw); errors.Is(err, signaling.ErrStopped) {
			c.shutdown(websocket.CloseGoingAway, "server shutting down")
			return "shutdown"
		}
	}
}

func readErrorReason(err error) string {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		// gorilla has already sent 1009 to the peer.
		return "too_large"
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		return "client_closed"
	case isTimeout(err):
		return "timeout"
	default:
		return "read_error"
	}
}

func writeClose(ws *websocket.Conn, code int, reason string, wait time.Duration) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
