package repository

import (
	"context"
	"time"

	"pixwave/internal/domain/model"
)

// GenerationRequestRepository is the durable queue of generation requests.
type GenerationRequestRepository interface {
	Create(ctx context.Context, tx Tx, req *model.GenerationRequest) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.GenerationRequest, error)

	// ClaimOldestPending atomically fetches the oldest pending request
	// (created_at asc, id as tie-break) and marks it 'processing' so it is
	// never claimed twice. Returns domain.ErrNotFound when the queue is empty.
	ClaimOldestPending(ctx context.Context) (*model.GenerationRequest, error)

	// MarkCompleted / MarkFailed perform exactly one forward transition from
	// 'processing'; both return domain.ErrInvalidTransition if the request is
	// not in that state. MarkFailed accepts a Tx so the credit refund can be
	// committed atomically with the terminal state.
	MarkCompleted(ctx context.Context, tx Tx, id string, result []byte, contentType string) error
	MarkFailed(ctx context.Context, tx Tx, id string, reason string) error

	// CountPendingBefore counts pending requests strictly ahead of the given
	// (createdAt, id) pair in queue order.
	CountPendingBefore(ctx context.Context, tx Tx, createdAt time.Time, id string) (int, error)

	CountByStatus(ctx context.Context, tx Tx) (map[model.GenerationStatus]int, error)
}
