package service

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"automatic-succotash/internal/domain"
)

// CycleRunner executes one decision cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, executeOrders bool) (domain.CycleResult, error)
}

// CycleStore publishes and reads back the latest cycle result.
type CycleStore interface {
	Publish(ctx context.Context, result domain.CycleResult)
	Latest(ctx context.Context) (domain.CycleResult, bool)
}

// LearningReader exposes the learning state snapshots for the read surfaces.
type LearningReader interface {
	FeaturePenalties() map[string]float64
	SourceBias() map[string]float64
}

// TradeService serializes cycle runs and serves the read model to the HTTP
// and bot surfaces.
type TradeService struct {
	tracer        trace.Tracer
	runner        CycleRunner
	store         CycleStore
	learner       LearningReader
	executeOrders bool

	mu sync.Mutex
}

func NewTradeService(tracer trace.Tracer, runner CycleRunner, store CycleStore, learner LearningReader, executeOrders bool) *TradeService {
	return &TradeService{
		tracer:        tracer,
		runner:        runner,
		store:         store,
		learner:       learner,
		executeOrders: executeOrders,
	}
}

// RunCycle executes one cycle and publishes the result. The mutex keeps the
// learning stores single-writer when the ticker and the run endpoint race.
func (s *TradeService) RunCycle(ctx context.Context) (domain.CycleResult, error) {
	ctx, span := s.tracer.Start(ctx, "trade-service.run-cycle")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.runner.RunCycle(ctx, s.executeOrders)
	if err != nil {
		span.RecordError(err)
		return domain.CycleResult{}, err
	}
	if s.store != nil {
		s.store.Publish(ctx, result)
	}
	return result, nil
}

// LatestCycle returns the newest published cycle result, false when no
// cycle has completed yet.
func (s *TradeService) LatestCycle(ctx context.Context) (domain.CycleResult, bool) {
	_, span := s.tracer.Start(ctx, "trade-service.latest-cycle")
	defer span.End()

	if s.store == nil {
		return domain.CycleResult{}, false
	}
	return s.store.Latest(ctx)
}

// LatestSignals returns the ranked signals from the newest cycle.
func (s *TradeService) LatestSignals(ctx context.Context) []domain.Signal {
	result, ok := s.LatestCycle(ctx)
	if !ok {
		return nil
	}
	return result.Signals
}

// FeaturePenalties returns the live learned penalties, empty when learning
// is disabled.
func (s *TradeService) FeaturePenalties() map[string]float64 {
	if s.learner == nil {
		return map[string]float64{}
	}
	return s.learner.FeaturePenalties()
}

// SourceBias returns the live learned per-source bias, empty when learning
// is disabled.
func (s *TradeService) SourceBias() map[string]float64 {
	if s.learner == nil {
		return map[string]float64{}
	}
	return s.learner.SourceBias()
}
