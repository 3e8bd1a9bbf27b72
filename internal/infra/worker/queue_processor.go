package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pixwave/internal/domain"
	"pixwave/internal/domain/model"
	"pixwave/internal/domain/ports/adapter"
	"pixwave/internal/domain/ports/repository"
	"pixwave/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// QueueProcessor is the single background worker that drains the generation
// queue. One loop per process: Start is idempotent, ticks never overlap, and
// a failing request never halts the loop.
type QueueProcessor struct {
	requests repository.GenerationRequestRepository
	users    repository.UserRepository
	gen      adapter.ImageGeneratorAdapter
	tm       repository.TransactionManager
	interval time.Duration
	log      *zerolog.Logger

	started atomic.Bool
	busy    atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewQueueProcessor(
	requests repository.GenerationRequestRepository,
	users repository.UserRepository,
	gen adapter.ImageGeneratorAdapter,
	tm repository.TransactionManager,
	interval time.Duration,
	log *zerolog.Logger,
) *QueueProcessor {
	if interval <= 0 {
		interval = time.Second
	}
	return &QueueProcessor{
		requests: requests,
		users:    users,
		gen:      gen,
		tm:       tm,
		interval: interval,
		log:      log,
	}
}

// Start launches the polling loop. Calling it again while running is a no-op,
// so both the composition root and the lazy intake path may call it freely.
func (p *QueueProcessor) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.mu.Unlock()

	p.log.Info().Dur("interval", p.interval).Msg("queue processor started")
	go p.loop(ctx)
}

// EnsureStarted satisfies usecase.QueueStarter for the lazy-start contract.
func (p *QueueProcessor) EnsureStarted() {
	p.Start(context.Background())
}

// Stop cancels the loop and waits for it to finish. Idempotent.
func (p *QueueProcessor) Stop() {
	if !p.started.CompareAndSwap(true, false) {
		return
	}
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	cancel()
	<-done
	p.log.Info().Msg("queue processor stopped")
}

func (p *QueueProcessor) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// If the previous tick is still processing, skip this one
			// entirely: at most one claim-and-process cycle in flight.
			if !p.busy.CompareAndSwap(false, true) {
				continue
			}
			p.safeProcessOne(ctx)
			p.busy.Store(false)
		}
	}
}

// safeProcessOne shields the loop from panics inside a tick; one poisoned
// request must not stop the queue.
func (p *QueueProcessor) safeProcessOne(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error().Interface("panic", rec).Msg("queue tick panicked")
		}
	}()
	p.processOne(ctx)
}

func (p *QueueProcessor) processOne(ctx context.Context) {
	req, err := p.requests.ClaimOldestPending(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			p.log.Error().Err(err).Msg("failed to claim generation request")
		}
		return // queue empty, or an error occurred
	}

	p.log.Info().Str("request_id", req.ID).Str("user_id", req.UserID).Msg("processing generation request")
	start := time.Now()

	result, err := p.handleRequest(ctx, req)
	latency := time.Since(start)

	if err != nil {
		p.fail(req, err)
	} else {
		p.complete(req, result)
	}
	p.log.Info().Str("request_id", req.ID).Dur("duration", latency).Msg("generation request finished")
}

// handleRequest runs a single claimed request against the backend. A params
// decode failure is terminal, exactly like a backend failure.
func (p *QueueProcessor) handleRequest(ctx context.Context, req *model.GenerationRequest) (*adapter.ImageResult, error) {
	params, err := model.DecodeGenerationParams(req.Params)
	if err != nil {
		return nil, err
	}

	callStart := time.Now()
	result, err := p.gen.Generate(ctx, params)
	metrics.ObserveBackendLatency(time.Since(callStart).Seconds())
	if err != nil {
		return nil, fmt.Errorf("generation backend: %w", err)
	}
	return result, nil
}

func (p *QueueProcessor) complete(req *model.GenerationRequest, result *adapter.ImageResult) {
	// Finalization uses a background context: a cancelled worker context must
	// not leave a claimed request stuck in 'processing'.
	ctx := context.Background()
	if err := p.requests.MarkCompleted(ctx, repository.NoTX, req.ID, result.Bytes, result.ContentType); err != nil {
		p.log.Error().Err(err).Str("request_id", req.ID).Msg("failed to mark request completed")
		return
	}
	metrics.IncGenerationProcessed(string(model.GenerationStatusCompleted))
	p.log.Info().Str("request_id", req.ID).Int("bytes", len(result.Bytes)).Msg("generation completed")
}

// fail records the terminal failure and, when the request carried a real
// charge, refunds it in the same transaction. The request row is the only
// memory of the owed refund, so the two writes must land together.
func (p *QueueProcessor) fail(req *model.GenerationRequest, cause error) {
	ctx := context.Background()
	err := p.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := p.requests.MarkFailed(ctx, tx, req.ID, cause.Error()); err != nil {
			return err
		}
		if req.Refundable() && req.UserID != "" {
			if err := p.users.RefundCredits(ctx, tx, req.UserID, req.CreditCost); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		p.log.Error().Err(err).Str("request_id", req.ID).Msg("failed to finalize failed request")
		return
	}
	if req.Refundable() {
		metrics.AddCreditsRefunded(req.CreditCost)
	}
	metrics.IncGenerationProcessed(string(model.GenerationStatusFailed))
	p.log.Error().Err(cause).Str("request_id", req.ID).Msg("generation failed")
}
