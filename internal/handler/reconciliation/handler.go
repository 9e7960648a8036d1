// Package reconciliation exposes manual reconciliation triggers. The poller
// covers steady state; these endpoints are for operators.
package reconciliation

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/rxledger/internal/handler"
	"github.com/jwalitptl/rxledger/internal/repository"
	"github.com/jwalitptl/rxledger/internal/service/reconciler"
)

type Handler struct {
	service     *reconciler.Service
	checkpoints repository.CheckpointRepository
}

func NewHandler(service *reconciler.Service, checkpoints repository.CheckpointRepository) *Handler {
	return &Handler{service: service, checkpoints: checkpoints}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	rec := r.Group("/reconciliation")
	{
		rec.POST("/run", h.Run)
		rec.POST("/prescriptions/:id", h.ReconcileOne)
		rec.GET("/checkpoint", h.Checkpoint)
	}
}

// Run reconciles from the checkpoint, or an explicit from/to range when both
// query parameters are present.
func (h *Handler) Run(c *gin.Context) {
	fromStr, toStr := c.Query("from"), c.Query("to")
	if fromStr != "" && toStr != "" {
		from, err1 := strconv.ParseInt(fromStr, 10, 64)
		to, err2 := strconv.ParseInt(toStr, 10, 64)
		if err1 != nil || err2 != nil || from < 1 || to < from {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid block range"))
			return
		}
		summary, err := h.service.ReconcileFromEvents(c.Request.Context(), from, to)
		if err != nil {
			c.JSON(handler.StatusFor(err), handler.NewErrorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusOK, handler.NewSuccessResponse(summary))
		return
	}

	summary, err := h.service.RunFromCheckpoint(c.Request.Context())
	if err != nil {
		c.JSON(handler.StatusFor(err), handler.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(summary))
}

func (h *Handler) ReconcileOne(c *gin.Context) {
	result, err := h.service.ReconcileSinglePrescription(c.Request.Context(), c.Param("id"), "", 0, "")
	if err != nil {
		c.JSON(handler.StatusFor(err), handler.NewErrorResponse(err.Error()))
		return
	}

	outcome := "skipped"
	switch result {
	case reconciler.ResultInserted:
		outcome = "inserted"
	case reconciler.ResultUpdated:
		outcome = "updated"
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"result": outcome}))
}

func (h *Handler) Checkpoint(c *gin.Context) {
	block, err := h.checkpoints.Get(c.Request.Context())
	if err != nil {
		c.JSON(handler.StatusFor(err), handler.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"last_processed_block": block}))
}
