// Package daemon serves the local control API and the sync event stream of fieldsyncd.
package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gridops/fieldsync/internal/app"
	apperrors "github.com/gridops/fieldsync/internal/errors"
	"github.com/gridops/fieldsync/internal/logging"
	"github.com/gridops/fieldsync/internal/models"
	"github.com/gridops/fieldsync/internal/version"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

// Endpoint serves the control API over one App.
type Endpoint struct {
	ctx context.Context // outlives requests; background drains run under it
	app *app.App
	hub *Hub
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(ctx context.Context, a *app.App, hub *Hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	ep := &Endpoint{ctx: ctx, app: a, hub: hub}
	r.GET("/health", ep.Health)
	r.GET("/ws", gin.WrapH(hub))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", ep.Status)
		v1.GET("/queue", ep.ListQueue)
		v1.POST("/queue/retry-all", ep.RetryAll)
		v1.POST("/queue/:id/retry", ep.Retry)
		v1.GET("/conflicts", ep.ListConflicts)
		v1.GET("/conflicts/:id", ep.GetConflict)
		v1.POST("/conflicts/:id/resolve", ep.ResolveConflict)
		v1.POST("/drain", ep.Drain)
		v1.GET("/drain/errors", ep.DrainErrors)
		v1.POST("/photos/process", ep.ProcessPhotos)
		v1.GET("/photos/pending", ep.PendingPhotos)
		v1.PUT("/connectivity", ep.SetConnectivity)
	}
	return r
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperrors.CodeOf(err) {
	case apperrors.ErrValidation:
		status = http.StatusBadRequest
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrSyncInProgress:
		status = http.StatusConflict
	case apperrors.ErrOfflineRequired:
		status = http.StatusServiceUnavailable
	}
	if apperrors.IsNotFound(err) {
		status = http.StatusNotFound
	}
	c.JSON(status, ErrorResponse{Code: apperrors.CodeOf(err), Message: err.Error()})
}

// Health handles GET /health.
func (ep *Endpoint) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"online":  ep.app.Monitor.Online(),
		"version": version.String(),
		"clients": ep.hub.ClientCount(),
	})
}

// Status handles GET /api/v1/status.
func (ep *Endpoint) Status(c *gin.Context) {
	ctx := c.Request.Context()
	st, err := ep.app.Scheduler.GetStatus(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	conflicts, err := ep.app.Ledger.ListUnresolved(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"scheduler":            st,
		"unresolved_conflicts": len(conflicts),
		"engine_status":        ep.app.Engine.Status(),
	})
}

// ListQueue handles GET /api/v1/queue. ?status= filters; without it only unsynced items are listed.
func (ep *Endpoint) ListQueue(c *gin.Context) {
	ctx := c.Request.Context()
	status := c.Query("status")

	var (
		items []models.SyncQueueItem
		err   error
	)
	if status == "" {
		items, err = ep.app.Queue.ListPending(ctx)
	} else {
		items, err = ep.app.Queue.List(ctx)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]models.SyncQueueItem, 0, len(items))
	for _, item := range items {
		if status != "" && status != "all" && string(item.Status) != status {
			continue
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, out)
}

// Retry handles POST /api/v1/queue/:id/retry.
func (ep *Endpoint) Retry(c *gin.Context) {
	if err := ep.app.Queue.Retry(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RetryAll handles POST /api/v1/queue/retry-all.
func (ep *Endpoint) RetryAll(c *gin.Context) {
	n, err := ep.app.Queue.RetryAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": n})
}

// ListConflicts handles GET /api/v1/conflicts.
func (ep *Endpoint) ListConflicts(c *gin.Context) {
	conflicts, err := ep.app.Ledger.ListUnresolved(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if conflicts == nil {
		conflicts = []models.SyncConflict{}
	}
	c.JSON(http.StatusOK, conflicts)
}

// GetConflict handles GET /api/v1/conflicts/:id.
func (ep *Endpoint) GetConflict(c *gin.Context) {
	conflict, err := ep.app.Ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conflict)
}

// ResolveRequest is the body of a conflict resolution.
type ResolveRequest struct {
	Strategy models.ResolutionStrategy `json:"strategy" binding:"required"`
	Payload  json.RawMessage           `json:"payload,omitempty"`
}

// ResolveConflict handles POST /api/v1/conflicts/:id/resolve.
func (ep *Endpoint) ResolveConflict(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request body: "+err.Error()))
		return
	}
	if req.Strategy == models.ResolutionMerged && len(req.Payload) == 0 {
		respondError(c, apperrors.Validation("MERGED requires a payload"))
		return
	}
	if err := ep.app.Ledger.Resolve(c.Request.Context(), c.Param("id"), req.Strategy, req.Payload); err != nil {
		respondError(c, err)
		return
	}

	// a LOCAL or MERGED resolution re-enables the queued write
	if req.Strategy != models.ResolutionServer && ep.app.Monitor.Online() {
		ep.app.Scheduler.TriggerSync(ep.ctx)
	}
	c.Status(http.StatusNoContent)
}

// Drain handles POST /api/v1/drain. ?wait=false starts the drain in the background.
func (ep *Endpoint) Drain(c *gin.Context) {
	if c.Query("wait") == "false" {
		if !ep.app.Scheduler.TriggerSync(ep.ctx) {
			respondError(c, apperrors.New(apperrors.ErrSyncInProgress, "drain already in progress"))
			return
		}
		c.Status(http.StatusAccepted)
		return
	}

	result, err := ep.app.Scheduler.SyncNow(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DrainErrors handles GET /api/v1/drain/errors.
func (ep *Endpoint) DrainErrors(c *gin.Context) {
	c.JSON(http.StatusOK, ep.app.Engine.GetErrorHistory())
}

// ProcessPhotos handles POST /api/v1/photos/process.
func (ep *Endpoint) ProcessPhotos(c *gin.Context) {
	if !ep.app.Monitor.Online() {
		respondError(c, apperrors.OfflineRequired("photo upload requires a connection"))
		return
	}
	result, err := ep.app.Scheduler.ProcessPhotosNow(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// PendingPhotos handles GET /api/v1/photos/pending.
func (ep *Endpoint) PendingPhotos(c *gin.Context) {
	photos, err := ep.app.Photos.ListPending(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if photos == nil {
		photos = []models.LocalPhoto{}
	}
	c.JSON(http.StatusOK, photos)
}

// ConnectivityRequest forces the connectivity state, e.g. from the device's network callback.
type ConnectivityRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// SetConnectivity handles PUT /api/v1/connectivity.
func (ep *Endpoint) SetConnectivity(c *gin.Context) {
	var req ConnectivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request body: "+err.Error()))
		return
	}
	changed := ep.app.Monitor.Set(*req.Online)
	c.JSON(http.StatusOK, gin.H{"online": *req.Online, "changed": changed})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logging.Warn("Request failed", fields)
			return
		}
		logging.Debug("Request served", fields)
	}
}
