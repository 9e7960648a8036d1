// Package inventory exposes batch registration and integrity verification.
package inventory

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/rxledger/internal/handler"
	"github.com/jwalitptl/rxledger/internal/model"
	"github.com/jwalitptl/rxledger/internal/service/merkle"
	"github.com/jwalitptl/rxledger/internal/service/stock"
)

type Handler struct {
	stock  *stock.Service
	merkle *merkle.Service
}

func NewHandler(stockSvc *stock.Service, merkleSvc *merkle.Service) *Handler {
	return &Handler{stock: stockSvc, merkle: merkleSvc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/batches", h.RegisterBatch)
	inventory := r.Group("/inventory")
	{
		inventory.GET("/integrity", h.VerifyIntegrity)
		inventory.GET("/availability/:medicine", h.Availability)
	}
}

func (h *Handler) RegisterBatch(c *gin.Context) {
	var req model.RegisterBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request body"))
		return
	}

	batch, err := h.stock.RegisterBatch(c.Request.Context(), &req)
	if err != nil {
		c.JSON(handler.StatusFor(err), handler.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(batch))
}

func (h *Handler) VerifyIntegrity(c *gin.Context) {
	report, err := h.merkle.VerifyInventoryRoot(c.Request.Context())
	if err != nil {
		c.JSON(handler.StatusFor(err), handler.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(report))
}

func (h *Handler) Availability(c *gin.Context) {
	medicine := c.Param("medicine")
	total, err := h.stock.AvailableQuantity(c.Request.Context(), medicine)
	if err != nil {
		c.JSON(handler.StatusFor(err), handler.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"medicine": medicine,
		"quantity": total,
	}))
}
