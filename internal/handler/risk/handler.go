// Package risk exposes read-only dispense frequency scores.
package risk

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/rxledger/internal/handler"
	"github.com/jwalitptl/rxledger/internal/service/risk"
)

type Handler struct {
	service *risk.Service
}

func NewHandler(service *risk.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/risk/patients/:ref", h.PatientScore)
}

func (h *Handler) PatientScore(c *gin.Context) {
	assessment, err := h.service.Score(c.Request.Context(), "patient", c.Param("ref"))
	if err != nil {
		c.JSON(handler.StatusFor(err), handler.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(assessment))
}
