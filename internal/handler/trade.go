package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetLatestCycle godoc
// @Summary      Get the most recent decision cycle
// @Description  Returns the full result of the last completed cycle: signals, orders, metadata and learning snapshots
// @Tags         cycle
// @Produce      json
// @Success      200  {object}  domain.CycleResult
// @Failure      404  {object}  map[string]string
// @Router       /api/cycle/latest [get]
func (h *Handler) GetLatestCycle(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-latest-cycle")
	defer span.End()

	result, ok := h.tradeService.LatestCycle(ctx)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cycle has completed yet"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetSignals godoc
// @Summary      Get ranked signals from the most recent cycle
// @Description  Returns the composite-scored signals, best first
// @Tags         cycle
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/signals [get]
func (h *Handler) GetSignals(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-signals")
	defer span.End()

	signals := h.tradeService.LatestSignals(ctx)
	c.JSON(http.StatusOK, gin.H{"signals": signals, "count": len(signals)})
}

// TriggerCycleRun godoc
// @Summary      Run one decision cycle manually
// @Description  Runs a full collect/score/decide cycle and returns its result
// @Tags         cycle
// @Produce      json
// @Success      200  {object}  domain.CycleResult
// @Failure      500  {object}  map[string]string
// @Router       /api/cycle/run [post]
func (h *Handler) TriggerCycleRun(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.trigger-cycle-run")
	defer span.End()

	result, err := h.tradeService.RunCycle(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}
