package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/registry"
)

// WorkerHandler implements the worker pool registry's (C8) HTTP surface:
// register, heartbeat, deregister (§6).
type WorkerHandler struct {
	reg *registry.Registry
}

func NewWorkerHandler(reg *registry.Registry) *WorkerHandler {
	return &WorkerHandler{reg: reg}
}

type registerWorkerRequest struct {
	Name           string   `json:"name" binding:"required"`
	CapabilityTags []string `json:"capability_tags" binding:"required"`
	MaxConcurrency int      `json:"max_concurrency"`
}

func (h *WorkerHandler) Register(c *gin.Context) {
	var req registerWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error(), "code": "validation_error"}})
		return
	}
	if err := h.reg.Register(c.Request.Context(), req.Name, req.CapabilityTags, req.MaxConcurrency); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error(), "code": "system_error"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": req.Name, "status": domain.WorkerOnline})
}

func (h *WorkerHandler) Deregister(c *gin.Context) {
	name := c.Param("name")
	if err := h.reg.Remove(c.Request.Context(), name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error(), "code": "system_error"}})
		return
	}
	c.Status(http.StatusNoContent)
}

type heartbeatRequest struct {
	LeasedJobKeys []domain.JobKey `json:"leased_job_keys"`
}

func (h *WorkerHandler) Heartbeat(c *gin.Context) {
	name := c.Param("name")
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error(), "code": "validation_error"}})
		return
	}
	if err := h.reg.Heartbeat(c.Request.Context(), name, req.LeasedJobKeys); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error(), "code": "system_error"}})
		return
	}
	c.Status(http.StatusOK)
}
