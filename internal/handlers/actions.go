package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/charlesng35/estatedir/internal/models"
	"github.com/charlesng35/estatedir/internal/realtime"
	"github.com/charlesng35/estatedir/internal/syncer"
	"github.com/charlesng35/estatedir/pkg/logger"
	"github.com/charlesng35/estatedir/pkg/response"
)

// ActionQueue stores actions recorded while offline.
type ActionQueue interface {
	Enqueue(ctx context.Context, action models.PendingAction) (models.PendingAction, error)
	Actions(ctx context.Context, limit int) ([]models.PendingAction, error)
}

// SyncCoordinator replays queued actions.
type SyncCoordinator interface {
	Status() syncer.Status
	SyncNow(ctx context.Context) syncer.Result
	RefreshPending(ctx context.Context) error
}

const (
	defaultActionLimit = 50
	maxActionLimit     = 500
)

// UserNotifier delivers realtime events to the connections of a single user.
type UserNotifier interface {
	BroadcastToUser(stream, userID string, message realtime.Message)
}

// ActionsHandler exposes the offline action queue and the sync coordinator.
type ActionsHandler struct {
	queue    ActionQueue
	sync     SyncCoordinator
	notifier UserNotifier
}

// NewActionsHandler builds a handler; notifier may be nil.
func NewActionsHandler(queue ActionQueue, sync SyncCoordinator, notifier UserNotifier) *ActionsHandler {
	return &ActionsHandler{queue: queue, sync: sync, notifier: notifier}
}

type enqueueActionRequest struct {
	Type   string          `json:"type" validate:"required,max=64"`
	Data   json.RawMessage `json:"data"`
	URL    string          `json:"url" validate:"required_with=Method,replayurl"`
	Method string          `json:"method" validate:"required_with=URL,httpmethod"`
}

// POST /api/actions
func (h *ActionsHandler) Enqueue(c *gin.Context) {
	var req enqueueActionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	action := models.PendingAction{
		Type:   req.Type,
		URL:    req.URL,
		Method: req.Method,
	}
	if len(req.Data) > 0 && string(req.Data) != "null" {
		action.Data = datatypes.JSON(req.Data)
	}

	stored, err := h.queue.Enqueue(ctx, action)
	if err != nil {
		fail(c, err)
		return
	}

	if err := h.sync.RefreshPending(ctx); err != nil {
		logger.WithModule("http").Warn("refresh pending count failed", zap.Error(err))
	}
	if h.notifier != nil {
		h.notifier.BroadcastToUser(realtime.StreamSync, currentUserID(c), realtime.Message{
			Event: realtime.EventQueued,
			Data:  stored,
		})
	}

	response.Success(c, http.StatusAccepted, stored)
}

// GET /api/actions?limit=N
func (h *ActionsHandler) List(c *gin.Context) {
	limit := parseIntQuery(c, "limit", defaultActionLimit)
	if limit <= 0 {
		limit = defaultActionLimit
	}
	if limit > maxActionLimit {
		limit = maxActionLimit
	}

	actions, err := h.queue.Actions(requestContext(c), limit)
	if err != nil {
		fail(c, err)
		return
	}
	if actions == nil {
		actions = []models.PendingAction{}
	}
	response.SuccessWithMeta(c, http.StatusOK, actions, &response.Meta{Total: len(actions)})
}

// GET /api/sync/status
func (h *ActionsHandler) Status(c *gin.Context) {
	response.Success(c, http.StatusOK, h.sync.Status())
}

// POST /api/sync/now
func (h *ActionsHandler) SyncNow(c *gin.Context) {
	result := h.sync.SyncNow(requestContext(c))
	response.Success(c, http.StatusOK, gin.H{
		"result": result,
		"status": h.sync.Status(),
	})
}
