package job

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"automatic-succotash/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

func TestTradeCycleJobRunsAtLeastOnce(t *testing.T) {
	var calls int32
	runner := &tradeCycleRunnerTestStub{calls: &calls}
	job := NewTradeCycleJob(trace.NewNoopTracerProvider().Tracer("test"), runner, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if atomic.LoadInt32(&calls) == 0 {
		t.Fatal("expected at least one trade cycle run")
	}
}

func TestTradeCycleJobNilRunnerWaitsForContext(t *testing.T) {
	job := NewTradeCycleJob(trace.NewNoopTracerProvider().Tracer("test"), nil, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected job to stop when context is cancelled")
	}
}

type tradeCycleRunnerTestStub struct {
	calls *int32
}

func (s *tradeCycleRunnerTestStub) RunCycle(ctx context.Context) (domain.CycleResult, error) {
	atomic.AddInt32(s.calls, 1)
	return domain.CycleResult{}, nil
}
