package repository

import (
	"context"

	"pixwave/internal/domain/model"
)

// UserRepository owns persistence for users and their free-credit balance.
//
// The three credit mutations are required to be single conditional UPDATEs at
// the storage layer: the repository, not the caller, is the atomicity
// boundary, so concurrent consumers can never both succeed against an
// insufficient balance and concurrent grant checks can never double-grant.
type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)

	// TryConsumeCredits decrements the balance by cost only if the current
	// balance covers it, returning the new balance. Returns
	// domain.ErrInsufficientCredits when it does not, domain.ErrNotFound for
	// an unknown user. A cost of zero returns the balance unchanged.
	TryConsumeCredits(ctx context.Context, tx Tx, userID string, cost int64) (int64, error)

	// RefundCredits unconditionally adds amount back. No-op for amount <= 0.
	RefundCredits(ctx context.Context, tx Tx, userID string, amount int64) error

	// GrantDailyCredits applies the daily grant iff the stored last-grant date
	// is before the current UTC day: balance becomes min(cap, balance+amount),
	// except that a balance already at or above cap is never reduced.
	// The day comparison and the update are one conditional statement, so N
	// concurrent invocations on the same day apply the grant exactly once.
	// Returns the (possibly unchanged) balance and whether a grant happened.
	GrantDailyCredits(ctx context.Context, tx Tx, userID string, amount, cap int64) (int64, bool, error)

	CountUsers(ctx context.Context, tx Tx) (int, error)
	SumFreeCredits(ctx context.Context, tx Tx) (int64, error)
}
