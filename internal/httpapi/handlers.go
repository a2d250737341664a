package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"call-signaling/internal/auth"
	"call-signaling/internal/rbac"
	"call-signaling/internal/reporting"
	"call-signaling/internal/signaling"
	"call-signaling/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Snapshotter is the read-only view of the coordinator the HTTP surface needs.
type Snapshotter interface {
	Snapshot() (signaling.Snapshot, error)
}

// PresenceReader reads the cross-instance presence mirror.
type PresenceReader interface {
	OnlineUsers(ctx context.Context) ([]string, error)
	Profile(ctx context.Context, userID string) ([]byte, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls    Snapshotter
	Auth     *auth.Manager
	Reports  *reporting.Service
	Presence PresenceReader
	Now      func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// --- Status ---

type healthResponse struct {
	Status      string    `json:"status"`
	ActiveUsers int       `json:"activeUsers"`
	ActiveCalls int       `json:"activeCalls"`
	Timestamp   time.Time `json:"timestamp"`
}

// Health reports live connection and call counts. It never mutates state.
func (h Handlers) Health(c *gin.Context) {
	snap, err := h.Calls.Snapshot()
	if err != nil {
		logger.FromGin(c).Warn("health snapshot failed", "err", err)
		c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "UNAVAILABLE", Timestamp: h.now().UTC()})
		return
	}
	c.JSON(http.StatusOK, healthResponse{
		Status:      "OK",
		ActiveUsers: len(snap.OnlineUsers),
		ActiveCalls: len(snap.Calls),
		Timestamp:   snap.At.UTC(),
	})
}

type statsCall struct {
	ID            string    `json:"id"`
	CallerID      string    `json:"callerId"`
	ParticipantID string    `json:"participantId"`
	CallType      string    `json:"callType"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

type statsResponse struct {
	ActiveUsers []string    `json:"activeUsers"`
	ActiveCalls []statsCall `json:"activeCalls"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Stats lists online identities and live calls.
func (h Handlers) Stats(c *gin.Context) {
	snap, err := h.Calls.Snapshot()
	if err != nil {
		logger.FromGin(c).Warn("stats snapshot failed", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "coordinator unavailable"})
		return
	}
	out := statsResponse{
		ActiveUsers: snap.OnlineUsers,
		ActiveCalls: make([]statsCall, 0, len(snap.Calls)),
		Timestamp:   snap.At.UTC(),
	}
	if out.ActiveUsers == nil {
		out.ActiveUsers = []string{}
	}
	for _, s := range snap.Calls {
		out.ActiveCalls = append(out.ActiveCalls, statsCall{
			ID:            s.ID,
			CallerID:      s.CallerID,
			ParticipantID: s.ParticipantID,
			CallType:      string(s.Type),
			Status:        string(s.Status),
			CreatedAt:     s.CreatedAt.UTC(),
		})
	}
	c.JSON(http.StatusOK, out)
}

// --- Auth ---

type issueTokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// IssueToken issues an operator JWT pair without checking credentials. Only
// mounted in local and dev.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	if !rbac.IsKnownRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), req.UserID, req.Role)
	if err != nil {
		logger.FromGin(c).Error("token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- Admin ---

// CallsSummary aggregates call history. from/to are RFC 3339; the default
// window is the last 24 hours.
func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	to := h.now().UTC()
	from := to.Add(-24 * time.Hour)
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
	}

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range:    reporting.TimeRange{From: from, To: to},
		CallType: c.Query("call_type"),
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range or call_type"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("calls summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

type presenceEntry struct {
	UserID   string          `json:"userId"`
	UserData json.RawMessage `json:"userData,omitempty"`
}

// ListPresence lists identities online on any instance sharing the Redis mirror.
func (h Handlers) ListPresence(c *gin.Context) {
	if h.Presence == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "presence mirror not configured"})
		return
	}
	ids, err := h.Presence.OnlineUsers(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("presence lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "presence lookup failed"})
		return
	}
	out := make([]presenceEntry, 0, len(ids))
	for _, id := range ids {
		p, err := h.Presence.Profile(c.Request.Context(), id)
		if err != nil {
			logger.FromGin(c).Warn("presence profile missing", "user_id", id, "err", err)
		}
		out = append(out, presenceEntry{UserID: id, UserData: json.RawMessage(p)})
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}
