package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/estatedir/internal/realtime"
	"github.com/charlesng35/estatedir/pkg/errors"
	"github.com/charlesng35/estatedir/pkg/response"
)

// RealtimeHub serves websocket subscribers.
type RealtimeHub interface {
	Serve(userID string, streams []string, allowed map[string]struct{}, w http.ResponseWriter, r *http.Request, initial ...realtime.Message)
}

// RealtimeHandler upgrades authenticated requests into realtime streams. The route sits
// behind the auth middleware, which accepts the access token as a query parameter on
// websocket upgrades.
type RealtimeHandler struct {
	hub     RealtimeHub
	status  StatusSource
	allowed map[string]struct{}
}

// NewRealtimeHandler restricts subscriptions to the given streams.
func NewRealtimeHandler(hub RealtimeHub, status StatusSource, streams ...string) *RealtimeHandler {
	allowed := make(map[string]struct{}, len(streams))
	for _, stream := range streams {
		if stream = normalizeStream(stream); stream != "" {
			allowed[stream] = struct{}{}
		}
	}
	return &RealtimeHandler{hub: hub, status: status, allowed: allowed}
}

// GET /ws/sync
//
// Clients receive the current sync status first, then every change. Extra streams may be
// requested with ?streams=directory.
func (h *RealtimeHandler) Sync(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	streams := uniqueStreams(append([]string{realtime.StreamSync}, gatherStreams(c)...))
	for _, stream := range streams {
		if _, ok := h.allowed[stream]; len(h.allowed) > 0 && !ok {
			response.Error(c, errors.ErrNotFound.WithMessage("unknown stream "+stream))
			return
		}
	}

	var initial []realtime.Message
	if h.status != nil {
		initial = append(initial, realtime.Message{
			Stream: realtime.StreamSync,
			Event:  realtime.EventStatus,
			Data:   h.status.Status(),
		})
	}

	h.hub.Serve(userID, streams, h.allowed, c.Writer, c.Request, initial...)
}

func gatherStreams(c *gin.Context) []string {
	var streams []string
	for _, queryStream := range c.QueryArray("stream") {
		streams = append(streams, normalizeStream(queryStream))
	}
	if raw := c.Query("streams"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			streams = append(streams, normalizeStream(part))
		}
	}
	return streams
}

func normalizeStream(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func uniqueStreams(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
