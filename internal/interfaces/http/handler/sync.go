// Package handler exposes the operational surface: sync trigger, sync
// status, and per-source health.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appsync "github.com/esports/backend/internal/application/sync"
	"github.com/esports/backend/internal/domain/stats"
	"github.com/esports/backend/internal/interfaces/http/dto"
)

// SyncService is the orchestrator surface the handler depends on.
type SyncService interface {
	TriggerSyncNow() error
	Status() appsync.Status
	History() []appsync.PassSummary
	SourceStatuses() []stats.SourceStatus
}

// SyncHandler handles sync-related API endpoints
type SyncHandler struct {
	service SyncService
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(service SyncService) *SyncHandler {
	return &SyncHandler{service: service}
}

// RegisterRoutes registers the sync routes on the API group.
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/sync/trigger", h.TriggerSync)
	rg.GET("/sync/status", h.GetSyncStatus)
	rg.GET("/sources/status", h.GetSourceStatuses)
}

// TriggerResponse represents the trigger acknowledgement
type TriggerResponse struct {
	Triggered bool `json:"triggered"`
}

// TriggerSync starts a background sync pass. A pass already in flight
// yields 409, never a second concurrent pass.
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	if err := h.service.TriggerSyncNow(); err != nil {
		if errors.Is(err, appsync.ErrSyncRunning) {
			c.JSON(http.StatusConflict, dto.NewErrorResponse("SYNC_RUNNING", "a sync pass is already running"))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("SYNC_TRIGGER_FAILED", err.Error()))
		return
	}
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(TriggerResponse{Triggered: true}))
}

// SyncStatusResponse represents the current job state plus recent history
type SyncStatusResponse struct {
	Status  appsync.Status        `json:"status"`
	History []appsync.PassSummary `json:"history"`
}

// GetSyncStatus returns the inspectable job state and retained pass history.
func (h *SyncHandler) GetSyncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(SyncStatusResponse{
		Status:  h.service.Status(),
		History: h.service.History(),
	}))
}

// SourceStatusData represents one source's health snapshot
type SourceStatusData struct {
	Source        string     `json:"source"`
	Available     bool       `json:"available"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	RequestCount  int64      `json:"request_count"`
}

// GetSourceStatuses returns every adapter's health snapshot.
func (h *SyncHandler) GetSourceStatuses(c *gin.Context) {
	statuses := h.service.SourceStatuses()
	data := make([]SourceStatusData, 0, len(statuses))
	for _, status := range statuses {
		item := SourceStatusData{
			Source:       status.Source.String(),
			Available:    status.Available,
			RequestCount: status.RequestCount,
		}
		if !status.LastSuccessAt.IsZero() {
			lastSuccessAt := status.LastSuccessAt
			item.LastSuccessAt = &lastSuccessAt
		}
		data = append(data, item)
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}
