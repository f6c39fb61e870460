package httpapi

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/noetl/noetl/internal/broker"
	"github.com/noetl/noetl/internal/catalog"
	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/executions"
	"github.com/noetl/noetl/internal/platform/logger"
	"github.com/noetl/noetl/internal/stateproj"
)

// ExecutionHandler implements the execution-lifecycle slice of §6's
// Control API: create, status, cancel, list. It is the thinnest possible
// wrapper over catalog/executions/eventlog/stateproj — no business logic
// lives here that the broker or projector don't already own.
type ExecutionHandler struct {
	log        *logger.Logger
	catalog    *catalog.Catalog
	execs      *executions.Store
	events     eventlog.Store
	broker     *broker.Broker
}

func NewExecutionHandler(log *logger.Logger, cat *catalog.Catalog, execs *executions.Store, events eventlog.Store, brk *broker.Broker) *ExecutionHandler {
	return &ExecutionHandler{log: log.With("handler", "executions"), catalog: cat, execs: execs, events: events, broker: brk}
}

type createExecutionRequest struct {
	PlaybookRef struct {
		Path    string `json:"path" binding:"required"`
		Version string `json:"version"`
	} `json:"playbook_ref" binding:"required"`
	Payload map[string]any `json:"payload"`
	Merge   bool           `json:"merge"`
}

// Create handles POST /executions.
func (h *ExecutionHandler) Create(c *gin.Context) {
	var req createExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error(), "code": "validation_error"}})
		return
	}

	pb, err := h.catalog.Get(c.Request.Context(), req.PlaybookRef.Path, req.PlaybookRef.Version)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "playbook not found", "code": "not_found"}})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error(), "code": "system_error"}})
		return
	}

	id, err := h.execs.CreateRoot(c.Request.Context(), pb, req.Payload, req.Merge)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error(), "code": "system_error"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"execution_id": id})
}

// Status handles GET /executions/{id}/status, projecting the full §7
// status shape directly from the event log rather than trusting the
// execution row's cached status column.
func (h *ExecutionHandler) Status(c *gin.Context) {
	id, err := parseExecutionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error(), "code": "validation_error"}})
		return
	}

	path, version, err := h.execs.PlaybookRefFor(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, executions.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "execution not found", "code": "not_found"}})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error(), "code": "system_error"}})
		return
	}
	pb, err := h.catalog.Get(c.Request.Context(), path, version)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error(), "code": "system_error"}})
		return
	}
	evs, err := h.events.ReadSince(c.Request.Context(), id, -1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error(), "code": "system_error"}})
		return
	}
	state, err := stateproj.Project(pb, evs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error(), "code": "system_error"}})
		return
	}

	c.JSON(http.StatusOK, projectStatusResponse(state))
}

func projectStatusResponse(state *domain.ExecutionState) gin.H {
	var completed []string
	var currentStep string
	names := make([]string, 0, len(state.Steps))
	for name := range state.Steps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sp := state.Steps[name]
		switch sp.Status {
		case domain.StepCompleted:
			completed = append(completed, name)
		case domain.StepRunning, domain.StepEnqueued, domain.StepRetrying:
			if currentStep == "" {
				currentStep = name
			}
		}
	}

	resp := gin.H{
		"status":          state.Status,
		"current_step":    currentStep,
		"completed_steps": completed,
		"failed":          state.Status == domain.ExecFailed,
		"completed":       state.Status == domain.ExecCompleted,
		"variables":       state.Workload.ToInterface(),
	}
	if state.FirstError != "" {
		resp["error"] = state.FirstError
	}
	return resp
}

// Cancel handles POST /executions/{id}/cancel.
func (h *ExecutionHandler) Cancel(c *gin.Context) {
	id, err := parseExecutionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error(), "code": "validation_error"}})
		return
	}
	if err := h.broker.RequestCancellation(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error(), "code": "system_error"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"execution_id": id, "status": "cancellation_requested"})
}

// List handles GET /executions?path=….
func (h *ExecutionHandler) List(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "path query parameter required", "code": "validation_error"}})
		return
	}
	execs, err := h.execs.ListByPath(c.Request.Context(), path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error(), "code": "system_error"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs})
}
