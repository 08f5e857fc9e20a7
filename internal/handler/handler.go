package handler

import (
	"context"

	"automatic-succotash/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// CycleService is the surface the HTTP layer needs from the trade service.
type CycleService interface {
	RunCycle(ctx context.Context) (domain.CycleResult, error)
	LatestCycle(ctx context.Context) (domain.CycleResult, bool)
	LatestSignals(ctx context.Context) []domain.Signal
	FeaturePenalties() map[string]float64
	SourceBias() map[string]float64
}

type Handler struct {
	tracer       trace.Tracer
	tradeService CycleService
	journal      JournalReader
	adminKey     string
}

func New(tracer trace.Tracer, tradeService CycleService, adminKey string) *Handler {
	return &Handler{
		tracer:       tracer,
		tradeService: tradeService,
		adminKey:     adminKey,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/api/cycle/latest", h.GetLatestCycle)
	r.GET("/api/signals", h.GetSignals)
	r.GET("/api/learning/penalties", h.GetFeaturePenalties)
	r.GET("/api/learning/source-bias", h.GetSourceBias)
	r.GET("/api/journal", h.GetJournalEvents)
	r.POST("/api/cycle/run", APIKeyAuth(h.adminKey), h.TriggerCycleRun)
}
