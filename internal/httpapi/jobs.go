package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/queue"
)

// JobHandler implements the job queue's (C7) HTTP surface: lease and
// ack/nack/extend (§6).
type JobHandler struct {
	q queue.Queue
}

func NewJobHandler(q queue.Queue) *JobHandler {
	return &JobHandler{q: q}
}

const defaultLeaseSeconds = 120

// Lease handles GET /jobs/lease?tag=…&worker_id=…&duration_seconds=….
func (h *JobHandler) Lease(c *gin.Context) {
	tag := c.Query("tag")
	workerID := c.Query("worker_id")
	if tag == "" || workerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "tag and worker_id query parameters required", "code": "validation_error"}})
		return
	}
	duration := queryInt64(c, "duration_seconds", defaultLeaseSeconds)

	job, err := h.q.Lease(c.Request.Context(), tag, workerID, duration*1000) // queue durations are milliseconds
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error(), "code": "system_error"}})
		return
	}
	if job == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, job)
}

type jobActionRequest struct {
	CapabilityTag string `json:"capability_tag" binding:"required"`
	WorkerID      string `json:"worker_id" binding:"required"`
	Reason        string `json:"reason"`
	DurationSec   int64  `json:"duration_seconds"`
}

// Ack handles POST /jobs/{key}/ack.
func (h *JobHandler) Ack(c *gin.Context) {
	key, req, ok := h.bindJobAction(c)
	if !ok {
		return
	}
	if err := h.q.Ack(c.Request.Context(), req.CapabilityTag, key, req.WorkerID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error(), "code": "system_error"}})
		return
	}
	c.Status(http.StatusOK)
}

// Nack handles POST /jobs/{key}/nack.
func (h *JobHandler) Nack(c *gin.Context) {
	key, req, ok := h.bindJobAction(c)
	if !ok {
		return
	}
	if err := h.q.Nack(c.Request.Context(), req.CapabilityTag, key, req.WorkerID, req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error(), "code": "system_error"}})
		return
	}
	c.Status(http.StatusOK)
}

// Extend handles POST /jobs/{key}/extend.
func (h *JobHandler) Extend(c *gin.Context) {
	key, req, ok := h.bindJobAction(c)
	if !ok {
		return
	}
	duration := req.DurationSec
	if duration <= 0 {
		duration = defaultLeaseSeconds
	}
	if err := h.q.Extend(c.Request.Context(), req.CapabilityTag, key, req.WorkerID, duration*1000); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error(), "code": "system_error"}})
		return
	}
	c.Status(http.StatusOK)
}

func (h *JobHandler) bindJobAction(c *gin.Context) (key domain.JobKey, req jobActionRequest, ok bool) {
	key, err := parseJobKey(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error(), "code": "validation_error"}})
		return domain.JobKey{}, req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error(), "code": "validation_error"}})
		return domain.JobKey{}, req, false
	}
	return key, req, true
}

func queryInt64(c *gin.Context, name string, def int64) int64 {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}
