package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jwalitptl/rxledger/internal/chain"
)

// Handler serves the operational endpoints: health probes and metrics.
type Handler struct {
	db     *sqlx.DB
	oracle chain.Oracle
}

func NewHandler(db *sqlx.DB, oracle chain.Oracle) *Handler {
	return &Handler{db: db, oracle: oracle}
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
		"time":   time.Now().UTC(),
	})
}

// ReadinessCheck verifies the two hard dependencies. The chain gateway being
// down degrades dispensing but readiness only demands the database, so pods
// keep serving reads during a gateway outage.
func (h *Handler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"reason": "database unreachable",
			})
			return
		}
	}

	chainOK := true
	if h.oracle != nil {
		if _, err := h.oracle.LatestBlock(ctx); err != nil {
			chainOK = false
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"chain":  chainOK,
		"time":   time.Now().UTC(),
	})
}

func (h *Handler) MetricsHandler(c *gin.Context) {
	promhttp.Handler().ServeHTTP(c.Writer, c.Request)
}
