package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/claimflow/engine/db"
	"github.com/claimflow/engine/services"
)

type AssignmentHandler struct {
	Service *services.AssignmentService
}

func NewAssignmentHandler(service *services.AssignmentService) *AssignmentHandler {
	return &AssignmentHandler{Service: service}
}

// AssignSingle assigns one unassigned work item to the best-scoring worker
func (h *AssignmentHandler) AssignSingle(c *gin.Context) {
	id := c.Param("id")

	result, err := h.Service.AssignSingle(id)
	if err != nil {
		writeAssignmentError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// AssignBatch assigns a batch of work items under an explicit policy and
// always returns a full per-item accounting
func (h *AssignmentHandler) AssignBatch(c *gin.Context) {
	var req db.AssignBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcomes, err := h.Service.AssignBatch(req.WorkItemIDs, req.Policy)
	if err != nil {
		writeAssignmentError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"outcomes": outcomes,
		"total":    len(outcomes),
	})
}

// ManualAssign commits an explicit worker choice for a work item
func (h *AssignmentHandler) ManualAssign(c *gin.Context) {
	id := c.Param("id")

	var req db.ManualAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.Service.ManualAssign(id, req.WorkerID)
	if err != nil {
		writeAssignmentError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Recall returns an assigned work item to the unassigned pool
func (h *AssignmentHandler) Recall(c *gin.Context) {
	id := c.Param("id")

	if err := h.Service.RecallItem(id); err != nil {
		writeAssignmentError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func writeAssignmentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNoEligibleWorker):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no eligible worker"})
	case errors.Is(err, services.ErrAssignmentConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent assignment conflict"})
	case errors.Is(err, sql.ErrNoRows):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case services.IsTransient(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
