package transport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"call-signaling/internal/metrics"
	"call-signaling/internal/signaling"
	"call-signaling/pkg/logger"
)

// Handler is the part of the coordinator the transport drives.
type Handler interface {
	HandleRaw(conn signaling.Conn, raw []byte) error
	Disconnect(conn signaling.Conn) error
}

// ConnLimiter caps concurrent connections per key (client IP).
type ConnLimiter interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Refresh(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}

type Server struct {
	cfg      Config
	handler  Handler
	limiter  ConnLimiter
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.Mutex
	clients map[string]*client
	closing bool
	wg      sync.WaitGroup
}

// NewServer builds the /ws handler. limiter may be nil.
func NewServer(cfg Config, h Handler, limiter ConnLimiter, log *slog.Logger) *Server {
	cfg = cfg.WithDefaults()
	s := &Server{cfg: cfg, handler: h, limiter: limiter, log: log, clients: make(map[string]*client)}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	metrics.RecordConnectionRefused("origin")
	return false
}

// Handle upgrades the request and serves the connection until it closes.
func (s *Server) Handle(c *gin.Context) {
	ip := c.ClientIP()
	log := logger.FromGin(c).With("remote_ip", ip)

	if s.limiter != nil {
		ok, err := s.limiter.Acquire(c.Request.Context(), ip)
		switch {
		case err != nil:
			// Fail open when the cap store is unreachable.
			log.Warn("connection cap unavailable", "err", err)
		case !ok:
			metrics.RecordConnectionRefused("ip_cap")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many connections"})
			return
		default:
			defer s.release(log, ip)
		}
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Debug("websocket upgrade failed", "err", err)
		return
	}

	id := uuid.NewString()
	cl := newClient(id, ws, s.cfg, log.With("conn_id", id))
	if s.limiter != nil {
		cl.onPing = func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
			defer cancel()
			if err := s.limiter.Refresh(ctx, ip); err != nil {
				cl.log.Debug("connection cap refresh failed", "err", err)
			}
		}
	}

	if !s.track(cl) {
		writeClose(ws, websocket.CloseGoingAway, "server shutting down", s.cfg.WriteTimeout)
		_ = ws.Close()
		return
	}
	defer s.untrack(cl)

	metrics.RecordConnectionOpened()
	cl.log.Info("websocket connected")

	go cl.writePump()
	reason := cl.readPump(s.handler)

	if err := s.handler.Disconnect(cl); err != nil {
		cl.log.Debug("disconnect after shutdown", "err", err)
	}
	cl.shutdown(0, "")
	metrics.RecordConnectionClosed(reason)
	cl.log.Info("websocket closed", "reason", reason)
}

func (s *Server) release(log *slog.Logger, ip string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.limiter.Release(ctx, ip); err != nil {
		log.Warn("connection cap release failed", "err", err)
	}
}

func (s *Server) track(cl *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.clients[cl.id] = cl
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(cl *client) {
	s.mu.Lock()
	delete(s.clients, cl.id)
	s.mu.Unlock()
	s.wg.Done()
}

// Shutdown sends 1001 to every open socket, refuses new ones and waits until
// their disconnects have been handed to the coordinator or ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	open := make([]*client, 0, len(s.clients))
	for _, cl := range s.clients {
		open = append(open, cl)
	}
	s.mu.Unlock()

	for _, cl := range open {
		cl.shutdown(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("websocket connections drained", "closed", len(open))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
