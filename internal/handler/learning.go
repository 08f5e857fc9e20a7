package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetFeaturePenalties godoc
// @Summary      Get learned feature penalties
// @Description  Returns the per-feature penalty multipliers learned from resolved calls
// @Tags         learning
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/learning/penalties [get]
func (h *Handler) GetFeaturePenalties(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-feature-penalties")
	defer span.End()

	c.JSON(http.StatusOK, gin.H{"feature_penalties": h.tradeService.FeaturePenalties()})
}

// GetSourceBias godoc
// @Summary      Get learned source bias
// @Description  Returns the per-source trust adjustments learned from market reactions and resolved calls
// @Tags         learning
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/learning/source-bias [get]
func (h *Handler) GetSourceBias(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-source-bias")
	defer span.End()

	c.JSON(http.StatusOK, gin.H{"source_bias": h.tradeService.SourceBias()})
}
