package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"automatic-succotash/internal/repository"

	"github.com/gin-gonic/gin"
)

// JournalReader lists recorded learning events. Set only when Postgres is
// configured; the endpoint reports unavailable otherwise.
type JournalReader interface {
	RecentEvents(ctx context.Context, symbol string, limit int) ([]repository.JournalEvent, error)
}

func (h *Handler) SetJournalReader(reader JournalReader) {
	h.journal = reader
}

// GetJournalEvents godoc
// @Summary      List recent learning journal events
// @Description  Returns call open/resolve and market-reaction events, newest first
// @Tags         learning
// @Produce      json
// @Param        symbol  query  string  false  "Filter by symbol"
// @Param        limit   query  int     false  "Number of events (default 50, max 200)"  default(50)
// @Success      200  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/journal [get]
func (h *Handler) GetJournalEvents(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal unavailable without persistence"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-journal-events")
	defer span.End()

	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	limit := 50
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	events, err := h.journal.RecentEvents(ctx, symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
