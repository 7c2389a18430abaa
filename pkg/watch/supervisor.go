package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/kubetopo/kubetopo/pkg/telemetry"
)

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 2 * time.Minute

	// a loop that survives this long counts as healthy and resets backoff
	healthyRunThreshold = time.Minute
)

// RunFunc is one supervised watch loop. It returns when its stream ends or
// the context is cancelled.
type RunFunc func(ctx context.Context) error

// Supervisor runs one goroutine per resource kind and keeps each alive
// independently: a failed or panicked loop is restarted with exponential
// backoff while the others keep running. The restarted stream replays current
// state as ADDED events, which converge through the synchronizer's MERGE
// semantics.
type Supervisor struct {
	logger         *zap.Logger
	inst           *telemetry.Instrumentation
	initialBackoff time.Duration
	maxBackoff     time.Duration
	wg             sync.WaitGroup
}

// NewSupervisor creates a Supervisor with default backoff settings.
func NewSupervisor(logger *zap.Logger, inst *telemetry.Instrumentation) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		logger:         logger,
		inst:           inst,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
}

// Go starts a supervised loop. It returns immediately; use Wait to block
// until all loops have stopped after context cancellation.
func (s *Supervisor) Go(ctx context.Context, name string, run RunFunc) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.supervise(ctx, name, run)
	}()
}

// Wait blocks until every supervised loop has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, name string, run RunFunc) {
	backoff := s.initialBackoff

	for {
		start := time.Now()
		err := s.runIsolated(ctx, name, run)

		if ctx.Err() != nil {
			s.logger.Info("Watch loop stopped", zap.String("kind", name))
			return
		}

		s.logger.Error("Watch loop exited, restarting",
			zap.String("kind", name),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if s.inst != nil {
			s.inst.WatchRestarts.Add(ctx, 1,
				metric.WithAttributes(attribute.String("kind", name)))
		}

		if time.Since(start) > healthyRunThreshold {
			backoff = s.initialBackoff
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Watch loop stopped", zap.String("kind", name))
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// runIsolated converts a panic in one loop into an ordinary error so the
// crash stays contained to its own resource kind.
func (s *Supervisor) runIsolated(ctx context.Context, name string, run RunFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s watch loop panicked: %v", name, r)
		}
	}()
	return run(ctx)
}
