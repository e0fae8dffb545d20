package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/claimflow/engine/services"
)

type WorkloadHandler struct {
	Workload   *services.WorkloadService
	Rebalancer *services.RebalanceService
}

func NewWorkloadHandler(workload *services.WorkloadService, rebalancer *services.RebalanceService) *WorkloadHandler {
	return &WorkloadHandler{Workload: workload, Rebalancer: rebalancer}
}

// ComputeWorkload returns the live utilization picture for a team
func (h *WorkloadHandler) ComputeWorkload(c *gin.Context) {
	teamID := c.Param("id")

	wl, err := h.Workload.ComputeWorkload(teamID)
	if err != nil {
		writeWorkloadError(c, err)
		return
	}
	c.JSON(http.StatusOK, wl)
}

// ScanOverload runs one overload scan across all teams
func (h *WorkloadHandler) ScanOverload(c *gin.Context) {
	alerts, err := h.Workload.ScanOverload()
	if err != nil {
		writeWorkloadError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"total":  len(alerts),
	})
}

// RebalanceTeam runs one bounded rebalancing pass over a team
func (h *WorkloadHandler) RebalanceTeam(c *gin.Context) {
	teamID := c.Param("id")

	result, err := h.Rebalancer.RebalanceTeam(teamID)
	if err != nil {
		writeWorkloadError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListOpenAlerts returns all unresolved overload alerts
func (h *WorkloadHandler) ListOpenAlerts(c *gin.Context) {
	alerts, err := h.Workload.ListOpenAlerts()
	if err != nil {
		writeWorkloadError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"total":  len(alerts),
	})
}

func writeWorkloadError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrScanInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "scan already in progress"})
	case errors.Is(err, sql.ErrNoRows):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case services.IsTransient(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
