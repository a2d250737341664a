package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"call-signaling/internal/audit"
	"call-signaling/internal/auth"
	"call-signaling/internal/config"
	"call-signaling/internal/reporting"
	"call-signaling/internal/signaling"
	"call-signaling/internal/transport"

	"github.com/gin-gonic/gin"
)

func testRouter(t *testing.T, env string, withAuth bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	coord := signaling.New(signaling.Options{Logger: log})
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

	d := routerDeps{
		cfg:     config.Config{App: config.AppConfig{Env: env}},
		log:     log,
		coord:   coord,
		ws:      transport.NewServer(transport.Config{}, coord, nil, log),
		reports: reporting.NewService(audit.NewMemoryRepo()),
	}
	if withAuth {
		m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
		if err != nil {
			t.Fatalf("manager: %v", err)
		}
		d.auth = m
	}
	return newRouter(d)
}

func do(r http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_PublicRoutes(t *testing.T) {
	r := testRouter(t, "production", false)

	if w := do(r, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
	w := do(r, http.MethodGet, "/api/health", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"activeCalls":0`) {
		t.Fatalf("health: %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodGet, "/api/stats", "", ""); w.Code != http.StatusOK {
		t.Fatalf("stats: %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/metrics", "", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatalf("metrics: %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/auth/token", `{"user_id":"a","role":"admin"}`, ""); w.Code != http.StatusNotFound {
		t.Fatalf("admin API should be absent without auth, got %d", w.Code)
	}
}

func TestRouter_TokenRouteOnlyInDevelopment(t *testing.T) {
	r := testRouter(t, "production", true)
	if w := do(r, http.MethodPost, "/v1/auth/token", `{"user_id":"a","role":"admin"}`, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected token route to be absent in production, got %d", w.Code)
	}
}

func TestRouter_AdminRoutesRequireRole(t *testing.T) {
	r := testRouter(t, "local", true)

	token := func(role string) string {
		w := do(r, http.MethodPost, "/v1/auth/token", `{"user_id":"ops","role":"`+role+`"}`, "")
		if w.Code != http.StatusOK {
			t.Fatalf("issue %s: %d %s", role, w.Code, w.Body.String())
		}
		var pair auth.TokenPair
		_ = json.Unmarshal(w.Body.Bytes(), &pair)
		return pair.AccessToken
	}

	if w := do(r, http.MethodGet, "/v1/admin/calls/summary", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/v1/admin/calls/summary", "", token("viewer")); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/v1/admin/calls/summary", "", token("operator")); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for operator, got %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodGet, "/v1/admin/presence", "", token("viewer")); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without presence mirror, got %d", w.Code)
	}
	w := do(r, http.MethodGet, "/v1/admin/me", "", token("admin"))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"role":"admin"`) {
		t.Fatalf("me: %d %s", w.Code, w.Body.String())
	}
}
