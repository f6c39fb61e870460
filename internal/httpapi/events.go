package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noetl/noetl/internal/catalog"
	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/eventlog"
)

// EventHandler implements POST /events: the worker-originated append path
// described in §6. It exists so a worker running in a separate process
// (internal/worker.StoreEventPublisher's out-of-process counterpart) can
// append step_started/step_progress/step_completed/step_failed events
// without a direct database connection — the same compare-and-set
// semantics, just fronted by HTTP instead of an in-process eventlog.Store.
type EventHandler struct {
	store eventlog.Store
	cat   *catalog.Catalog // optional: large payloads spill to blob storage before appending
}

func NewEventHandler(store eventlog.Store, cat *catalog.Catalog) *EventHandler {
	return &EventHandler{store: store, cat: cat}
}

type appendEventRequest struct {
	ExecutionID int64          `json:"execution_id" binding:"required"`
	ExpectedSeq int64          `json:"expected_seq"`
	Kind        string         `json:"kind" binding:"required"`
	StepName    string         `json:"step_name"`
	Attempt     int            `json:"attempt"`
	LoopIndex   *int           `json:"loop_index"`
	Payload     map[string]any `json:"payload"`
}

func (h *EventHandler) Append(c *gin.Context) {
	var req appendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error(), "code": "validation_error"}})
		return
	}

	payload := req.Payload
	if h.cat != nil {
		key := fmt.Sprintf("events/%d/%s/%d", req.ExecutionID, req.StepName, req.ExpectedSeq)
		spilled, err := h.cat.SpillIfLarge(c.Request.Context(), key, payload)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error(), "code": "system_error"}})
			return
		}
		payload = spilled
	}

	kind := domain.EventKind(req.Kind)
	if kind == domain.EventStepStarted || kind.IsStepTerminal() {
		existing, err := h.store.ReadSince(c.Request.Context(), req.ExecutionID, -1)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error(), "code": "system_error"}})
			return
		}
		// A redelivered job's worker replays step_started/terminal for a
		// tuple that already reached a terminal outcome; fold instead of
		// appending a duplicate (§8 "redelivering a completed job does not
		// append a second step_completed").
		if eventlog.HasTerminalStep(existing, req.StepName, req.Attempt, req.LoopIndex) {
			c.JSON(http.StatusOK, gin.H{"seq": int64(len(existing)) - 1, "folded": true})
			return
		}
	}

	ev := domain.Event{
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		StepName:  req.StepName,
		Attempt:   req.Attempt,
		LoopIndex: req.LoopIndex,
		Payload:   payload,
	}
	seq, err := h.store.Append(c.Request.Context(), req.ExecutionID, req.ExpectedSeq, ev)
	if err != nil {
		if errors.Is(err, eventlog.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{
				"error":       gin.H{"message": "sequence conflict", "code": "conflict"},
				"current_seq": seq,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error(), "code": "system_error"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"seq": seq})
}
