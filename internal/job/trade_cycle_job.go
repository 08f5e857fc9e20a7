package job

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/trace"

	"automatic-succotash/internal/domain"
)

type TradeCycleRunner interface {
	RunCycle(ctx context.Context) (domain.CycleResult, error)
}

// TradeCycleJob drives the decision loop on a fixed interval. The first
// cycle runs immediately so the read surfaces have data at startup.
type TradeCycleJob struct {
	tracer       trace.Tracer
	runner       TradeCycleRunner
	pollInterval time.Duration
}

func NewTradeCycleJob(tracer trace.Tracer, runner TradeCycleRunner, pollInterval time.Duration) *TradeCycleJob {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Minute
	}
	return &TradeCycleJob{tracer: tracer, runner: runner, pollInterval: pollInterval}
}

func (j *TradeCycleJob) Start(ctx context.Context) {
	if j.runner == nil {
		log.Println("Trade cycle job disabled: no runner")
		<-ctx.Done()
		return
	}

	j.runOnce(ctx)
	ticker := time.NewTicker(j.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *TradeCycleJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "trade-cycle-job.run-once")
	defer span.End()

	result, err := j.runner.RunCycle(ctx)
	if err != nil {
		log.Printf("Trade cycle error: %v", err)
		return
	}
	log.Printf(
		"Trade cycle complete signals=%d orders=%d equity=%.2f no_trade_reason=%q",
		result.Decision.SignalsGenerated,
		result.Decision.OrdersProposed,
		result.Decision.AccountEquity,
		result.Decision.NoTradeReason,
	)
}
