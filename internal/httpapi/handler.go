package httpapi

import (
	"net/http"
	"time"

	"waooaw-plant/pkg/db/pagination"
	"waooaw-plant/pkg/errutil"
	"waooaw-plant/pkg/health"
	"waooaw-plant/services/scheduler"

	"github.com/gin-gonic/gin"
)

// Handler exposes the operator surface: scheduler pause/resume and the dead
// letter queue. Customer-facing traffic never comes through here.
type Handler struct {
	health     health.Service
	state      *scheduler.StateService
	dlq        *scheduler.DLQService
	dispatcher *scheduler.Dispatcher
}

func NewHandler(hs health.Service, state *scheduler.StateService, dlq *scheduler.DLQService, dispatcher *scheduler.Dispatcher) *Handler {
	return &Handler{health: hs, state: state, dlq: dlq, dispatcher: dispatcher}
}

func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health.Liveness)
	r.GET("/readyz", h.health.Readiness)

	admin := r.Group("/admin")
	{
		admin.GET("/scheduler/state", h.getState)
		admin.POST("/scheduler/pause", h.pause)
		admin.POST("/scheduler/resume", h.resume)
		admin.POST("/scheduler/trigger", h.trigger)
		admin.GET("/scheduler/actions", h.actions)

		admin.GET("/dlq", h.listDLQ)
		admin.POST("/dlq/:id/retry", h.retryDLQ)
		admin.POST("/dlq/cleanup", h.cleanupDLQ)
	}
}

func (h *Handler) getState(c *gin.Context) {
	state, err := h.state.Get(c.Request.Context())
	if err != nil {
		errutil.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type operatorRequest struct {
	Operator string `json:"operator" binding:"required"`
	Reason   string `json:"reason"`
}

func (h *Handler) pause(c *gin.Context) {
	var req operatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errutil.AbortWithError(c, errutil.BadRequest("invalid request body", err))
		return
	}

	state, err := h.state.Pause(c.Request.Context(), req.Operator, req.Reason)
	if err != nil {
		errutil.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) resume(c *gin.Context) {
	var req operatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errutil.AbortWithError(c, errutil.BadRequest("invalid request body", err))
		return
	}

	state, err := h.state.Resume(c.Request.Context(), req.Operator)
	if err != nil {
		errutil.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// trigger runs one dispatch pass outside the regular tick, audited like
// pause and resume.
func (h *Handler) trigger(c *gin.Context) {
	var req operatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errutil.AbortWithError(c, errutil.BadRequest("invalid request body", err))
		return
	}

	ctx := c.Request.Context()
	if err := h.state.LogTrigger(ctx, req.Operator, req.Reason); err != nil {
		errutil.AbortWithError(c, err)
		return
	}
	h.dispatcher.Tick(ctx, time.Now())

	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}

func (h *Handler) actions(c *gin.Context) {
	logs, err := h.state.Actions(c.Request.Context(), 100)
	if err != nil {
		errutil.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": logs})
}

func (h *Handler) listDLQ(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		errutil.AbortWithError(c, errutil.BadRequest("invalid pagination parameters", err))
		return
	}

	var cursor *pagination.Cursor
	if page.Cursor != "" {
		decoded, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			errutil.AbortWithError(c, errutil.BadRequest("invalid pagination cursor", err))
			return
		}
		cursor = decoded
	}

	entries, info, err := h.dlq.ListActivePage(c.Request.Context(), time.Now(), cursor, page.Limit)
	if err != nil {
		errutil.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "page_info": info})
}

func (h *Handler) retryDLQ(c *gin.Context) {
	entry, err := h.dlq.RecordRetryAttempt(c.Request.Context(), c.Param("id"))
	if err != nil {
		errutil.AbortWithError(c, err)
		return
	}
	if entry == nil {
		errutil.AbortWithError(c, errutil.NotFound("dead letter entry not found or expired", nil))
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) cleanupDLQ(c *gin.Context) {
	deleted, err := h.dlq.CleanupExpired(c.Request.Context(), time.Now())
	if err != nil {
		errutil.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
