package usecase

import (
	"context"

	"pixwave/internal/domain/model"
	"pixwave/internal/domain/ports/repository"
	"pixwave/internal/infra/logging"
	"pixwave/internal/infra/metrics"

	"github.com/rs/zerolog"
)

var _ StatsUseCase = (*statsUC)(nil)

// Stats is the admin dashboard snapshot.
type Stats struct {
	TotalUsers         int                            `json:"total_users"`
	RequestsByStatus   map[model.GenerationStatus]int `json:"requests_by_status"`
	OutstandingCredits int64                          `json:"outstanding_credits"`
}

type StatsUseCase interface {
	Totals(ctx context.Context) (*Stats, error)
}

type statsUC struct {
	users    repository.UserRepository
	requests repository.GenerationRequestRepository
	log      *zerolog.Logger
}

func NewStatsUseCase(users repository.UserRepository, requests repository.GenerationRequestRepository, logger *zerolog.Logger) *statsUC {
	return &statsUC{users: users, requests: requests, log: logger}
}

func (s *statsUC) Totals(ctx context.Context) (*Stats, error) {
	defer logging.TraceDuration(s.log, "StatsUC.Totals")()

	users, err := s.users.CountUsers(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	byStatus, err := s.requests.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	outstanding, err := s.users.SumFreeCredits(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}

	metrics.SetQueuePending(byStatus[model.GenerationStatusPending])
	return &Stats{
		TotalUsers:         users,
		RequestsByStatus:   byStatus,
		OutstandingCredits: outstanding,
	}, nil
}
