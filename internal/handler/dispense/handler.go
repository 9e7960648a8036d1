// Package dispense exposes the dispense flow and prescription lookups over
// HTTP.
package dispense

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/rxledger/internal/handler"
	"github.com/jwalitptl/rxledger/internal/model"
	"github.com/jwalitptl/rxledger/internal/service/dispense"
	"github.com/jwalitptl/rxledger/internal/service/prescription"
)

type Handler struct {
	service  *dispense.Service
	statuses *prescription.Service
}

func NewHandler(service *dispense.Service, statuses *prescription.Service) *Handler {
	return &Handler{service: service, statuses: statuses}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/dispense", h.Dispense)
	prescriptions := r.Group("/prescriptions")
	{
		prescriptions.GET("/:id", h.GetPrescription)
		prescriptions.POST("/:id/transition", h.Transition)
	}
}

func (h *Handler) Dispense(c *gin.Context) {
	var req model.DispenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request body"))
		return
	}

	result, err := h.service.Dispense(c.Request.Context(), &req)
	if err != nil {
		c.JSON(handler.StatusFor(err), handler.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) GetPrescription(c *gin.Context) {
	p, err := h.statuses.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(handler.StatusFor(err), handler.NewErrorResponse("prescription not found"))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

type transitionRequest struct {
	Target string `json:"target" binding:"required"`
}

// Transition applies a guarded status change directly. Administrative use:
// the dispense flow drives its own transitions.
func (h *Handler) Transition(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request body"))
		return
	}

	result, err := h.statuses.TransitionStatus(
		c.Request.Context(),
		c.Param("id"),
		model.PrescriptionStatus(req.Target),
		model.TransitionEffects{},
	)
	if err != nil {
		c.JSON(handler.StatusFor(err), handler.NewErrorResponse(err.Error()))
		return
	}
	if !result.Applied {
		c.JSON(http.StatusConflict, handler.NewSuccessResponse(result))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}
