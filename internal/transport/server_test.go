package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"call-signaling/internal/signaling"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer runs a coordinator behind a real HTTP server and returns the
// ws:// URL of the signaling endpoint.
func startServer(t *testing.T, cfg Config, limiter ConnLimiter) string {
	t.Helper()
	url, _ := startServerWith(t, cfg, limiter)
	return url
}

func startServerWith(t *testing.T, cfg Config, limiter ConnLimiter) (string, *Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	coord := signaling.New(signaling.Options{Logger: discardLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = coord.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	ws := NewServer(cfg, coord, limiter, discardLogger())
	r := gin.New()
	r.GET("/ws", ws.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", ws
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	b, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var f frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func expect(t *testing.T, ws *websocket.Conn, event string) frame {
	t.Helper()
	f := read(t, ws)
	if f.Event != event {
		t.Fatalf("expected %s, got %s %s", event, f.Event, f.Data)
	}
	return f
}

func TestWebSocket_PresenceAndCallSetup(t *testing.T) {
	url := startServer(t, Config{}, nil)

	alice := dial(t, url)
	send(t, alice, "authenticate", map[string]string{"id": "u1", "name": "Alice"})
	if f := expect(t, alice, "onlineUsers"); string(f.Data) != "[]" {
		t.Fatalf("expected empty snapshot, got %s", f.Data)
	}

	bob := dial(t, url)
	send(t, bob, "authenticate", map[string]string{"id": "u2", "name": "Bob"})
	var online []string
	_ = json.Unmarshal(expect(t, bob, "onlineUsers").Data, &online)
	if !reflect.DeepEqual(online, []string{"u1"}) {
		t.Fatalf("expected [u1], got %v", online)
	}
	expect(t, alice, "userOnline")

	send(t, alice, "initiateCall", map[string]string{"participantId": "u2", "callType": "video"})
	var initiated struct {
		CallID string `json:"callId"`
		Status string `json:"status"`
	}
	_ = json.Unmarshal(expect(t, alice, "callInitiated").Data, &initiated)
	if initiated.Status != "calling" || initiated.CallID == "" {
		t.Fatalf("unexpected callInitiated %+v", initiated)
	}
	expect(t, bob, "incomingCall")

	send(t, alice, "webrtcOffer", map[string]any{"callId": initiated.CallID, "offer": map[string]string{"type": "offer", "sdp": "v=0"}})
	var offer struct {
		From  string          `json:"from"`
		Offer json.RawMessage `json:"offer"`
	}
	_ = json.Unmarshal(expect(t, bob, "webrtcOffer").Data, &offer)
	if offer.From != "u1" || !strings.Contains(string(offer.Offer), `"sdp":"v=0"`) {
		t.Fatalf("unexpected relayed offer %+v", offer)
	}

	_ = bob.Close()
	expect(t, alice, "userOffline")
	var ended struct {
		Reason  string `json:"reason"`
		EndedBy string `json:"endedBy"`
	}
	_ = json.Unmarshal(expect(t, alice, "callEnded").Data, &ended)
	if ended.Reason != "disconnection" || ended.EndedBy != "u2" {
		t.Fatalf("unexpected callEnded %+v", ended)
	}
}

func TestWebSocket_MalformedFrameGetsCallError(t *testing.T) {
	url := startServer(t, Config{}, nil)
	ws := dial(t, url)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var notice struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(expect(t, ws, "callError").Data, &notice)
	if notice.Message == "" {
		t.Fatalf("expected an error message")
	}

	// The connection stays usable.
	send(t, ws, "authenticate", map[string]string{"id": "u1"})
	expect(t, ws, "onlineUsers")
}

func TestWebSocket_OversizedFrameCloses(t *testing.T) {
	url := startServer(t, Config{MaxMessageBytes: 128}, nil)
	ws := dial(t, url)

	big := strings.Repeat("x", 512)
	send(t, ws, "authenticate", map[string]string{"id": "u1", "bio": big})

	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
		t.Fatalf("expected close 1009, got %v", err)
	}
}

func TestWebSocket_BinaryFrameCloses(t *testing.T) {
	url := startServer(t, Config{}, nil)
	ws := dial(t, url)

	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseUnsupportedData) {
		t.Fatalf("expected close 1003, got %v", err)
	}
}

func TestWebSocket_RateLimitCloses(t *testing.T) {
	url := startServer(t, Config{MessagesPerSecond: 1}, nil)
	ws := dial(t, url)

	send(t, ws, "authenticate", map[string]string{"id": "u1"})
	send(t, ws, "authenticate", map[string]string{"id": "u1"})

	expect(t, ws, "onlineUsers")
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected close 1008, got %v", err)
	}
}

func TestWebSocket_OriginAllowList(t *testing.T) {
	url := startServer(t, Config{AllowedOrigins: []string{"http://localhost:3000"}}, nil)

	h := http.Header{}
	h.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, h)
	if err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}

	h.Set("Origin", "http://localhost:3000")
	ws, _, err := websocket.DefaultDialer.Dial(url, h)
	if err != nil {
		t.Fatalf("expected allowed origin to connect: %v", err)
	}
	_ = ws.Close()
}

func TestWebSocket_PerIPCap(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	url := startServer(t, Config{}, RedisConnCap{RDB: rdb, Limit: 1, TTL: time.Minute})

	first := dial(t, url)
	send(t, first, "authenticate", map[string]string{"id": "u1"})
	expect(t, first, "onlineUsers")

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected second connection to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", resp)
	}

	_ = first.Close()
	deadline := time.Now().Add(3 * time.Second)
	for {
		ws, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			_ = ws.Close()
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("slot was not released after close: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestServer_ShutdownClosesSockets(t *testing.T) {
	url, srv := startServerWith(t, Config{}, nil)

	alice := dial(t, url)
	send(t, alice, "authenticate", map[string]string{"id": "u1"})
	expect(t, alice, "onlineUsers")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	_ = alice.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := alice.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected 1001 close, got %v", err)
	}

	late := dial(t, url)
	_ = late.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := late.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected new socket to be refused with 1001, got %v", err)
	}
}
