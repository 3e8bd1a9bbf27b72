package usecase

import (
	"context"
	"fmt"

	"pixwave/internal/domain"
	"pixwave/internal/domain/model"
	"pixwave/internal/domain/ports/repository"
	"pixwave/internal/infra/logging"
	"pixwave/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ GenerationUseCase = (*generationUC)(nil)

// QueueStarter lazily ensures the background queue processor is running.
// Starting an already-running processor must be a no-op.
type QueueStarter interface {
	EnsureStarted()
}

// EnqueueInput is the intake payload from the web layer.
type EnqueueInput struct {
	PromptTags     string
	ModelName      string
	LoraNames      []string
	LoraWeights    []float64
	Aspect         string
	Seed           int64
	CfgScale       string
	ConsumeCredits bool
}

// RequestStatus is the poll response. Exactly one of Result/Error/queue info
// is meaningful depending on Status.
type RequestStatus struct {
	ID               string
	Status           model.GenerationStatus
	Result           []byte
	ContentType      string
	Error            string
	QueuePosition    int
	EstimatedSeconds int
}

type GenerationUseCase interface {
	// Enqueue debits credits first (unless disabled, not requested, or the
	// user is unlimited) and only then persists the request: a rejected
	// charge never leaves an orphaned pending request behind.
	Enqueue(ctx context.Context, userID string, in EnqueueInput) (*model.GenerationRequest, error)
	Status(ctx context.Context, requestID string) (*RequestStatus, error)
}

type generationUC struct {
	requests       repository.GenerationRequestRepository
	users          repository.UserRepository
	ledger         CreditLedger
	starter        QueueStarter
	perItemSeconds int
	log            *zerolog.Logger
}

func NewGenerationUseCase(
	requests repository.GenerationRequestRepository,
	users repository.UserRepository,
	ledger CreditLedger,
	starter QueueStarter,
	perItemSeconds int,
	logger *zerolog.Logger,
) *generationUC {
	if perItemSeconds <= 0 {
		perItemSeconds = 20
	}
	return &generationUC{
		requests:       requests,
		users:          users,
		ledger:         ledger,
		starter:        starter,
		perItemSeconds: perItemSeconds,
		log:            logger,
	}
}

func (g *generationUC) Enqueue(ctx context.Context, userID string, in EnqueueInput) (*model.GenerationRequest, error) {
	defer logging.TraceDuration(g.log, "GenerationUC.Enqueue")()

	params, err := model.NewGenerationParams(in.PromptTags, in.ModelName, in.LoraNames, in.LoraWeights, in.Aspect, in.Seed, in.CfgScale)
	if err != nil {
		return nil, err
	}

	if g.ledger.IsEnabled() && in.ConsumeCredits {
		if userID == "" {
			return nil, domain.ErrInvalidArgument
		}
		user, err := g.users.FindByID(ctx, repository.NoTX, userID)
		if err != nil {
			return nil, err
		}
		if user.Unlimited() {
			params.CreditCost = g.ledger.Cost()
			params.CostWaived = true
		} else {
			// Grant first so a user whose daily top-up is due can spend it on
			// this very request.
			if _, err := g.ledger.GrantDailyIfNeeded(ctx, userID); err != nil {
				return nil, err
			}
			cost := g.ledger.Cost()
			if _, err := g.ledger.TryConsume(ctx, userID, cost); err != nil {
				return nil, err
			}
			params.CreditCost = cost
		}
	}

	req, err := model.NewGenerationRequest(userID, params)
	if err != nil {
		return nil, err
	}
	if err := g.requests.Create(ctx, repository.NoTX, req); err != nil {
		// The debit already happened; hand the credits back rather than
		// leaving the user charged for a request that never existed.
		if req.Refundable() {
			if rerr := g.ledger.Refund(ctx, userID, req.CreditCost); rerr != nil {
				g.log.Error().Err(rerr).Str("user_id", userID).Msg("refund after failed enqueue")
			}
		}
		return nil, fmt.Errorf("create generation request: %w", err)
	}

	metrics.IncGenerationEnqueued()
	g.log.Info().Str("request_id", req.ID).Str("user_id", userID).Int64("cost", req.CreditCost).Bool("waived", req.CostWaived).Msg("generation request enqueued")

	if g.starter != nil {
		g.starter.EnsureStarted()
	}
	return req, nil
}

func (g *generationUC) Status(ctx context.Context, requestID string) (*RequestStatus, error) {
	defer logging.TraceDuration(g.log, "GenerationUC.Status")()

	req, err := g.requests.FindByID(ctx, repository.NoTX, requestID)
	if err != nil {
		return nil, err
	}

	st := &RequestStatus{ID: req.ID, Status: req.Status}
	switch req.Status {
	case model.GenerationStatusCompleted:
		st.Result = req.Result
		st.ContentType = req.ResultContentType
	case model.GenerationStatusFailed:
		st.Error = req.Error
	case model.GenerationStatusPending:
		ahead, err := g.requests.CountPendingBefore(ctx, repository.NoTX, req.CreatedAt, req.ID)
		if err != nil {
			return nil, err
		}
		st.QueuePosition = ahead + 1
		// Constant-multiplier heuristic, not measured throughput.
		st.EstimatedSeconds = st.QueuePosition * g.perItemSeconds
	case model.GenerationStatusProcessing:
		st.EstimatedSeconds = g.perItemSeconds
	}
	return st, nil
}
