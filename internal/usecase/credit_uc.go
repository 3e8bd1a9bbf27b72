package usecase

import (
	"context"

	"pixwave/internal/config"
	"pixwave/internal/domain/ports/repository"
	"pixwave/internal/infra/logging"
	"pixwave/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ CreditLedger = (*creditLedger)(nil)

// CreditLedger gates and accounts for free-credit consumption. All mutations
// delegate to single conditional updates in the user repository; this layer
// adds the feature flag, the admin bypass policy and metrics.
//
// When the ledger is disabled every operation is a no-op that succeeds.
type CreditLedger interface {
	IsEnabled() bool
	// Cost is the configured debit per manual generation.
	Cost() int64
	// GrantDailyIfNeeded applies the once-per-UTC-day grant if due and returns
	// the current balance either way.
	GrantDailyIfNeeded(ctx context.Context, userID string) (int64, error)
	// TryConsume debits cost if the balance covers it and returns the new
	// balance. Rejections come back as domain.ErrInsufficientCredits or
	// domain.ErrNotFound.
	TryConsume(ctx context.Context, userID string, cost int64) (int64, error)
	// Refund unconditionally returns amount to the user. At most one refund
	// per failed request is issued by construction of the request state
	// machine; idempotency beyond that is not this method's concern.
	Refund(ctx context.Context, userID string, amount int64) error
}

type creditLedger struct {
	users repository.UserRepository
	cfg   config.CreditsConfig
	log   *zerolog.Logger
}

func NewCreditLedger(users repository.UserRepository, cfg config.CreditsConfig, logger *zerolog.Logger) *creditLedger {
	return &creditLedger{users: users, cfg: cfg, log: logger}
}

func (l *creditLedger) IsEnabled() bool { return l.cfg.Enabled }

func (l *creditLedger) Cost() int64 {
	if !l.cfg.Enabled {
		return 0
	}
	return l.cfg.CreditCost
}

func (l *creditLedger) GrantDailyIfNeeded(ctx context.Context, userID string) (int64, error) {
	if !l.cfg.Enabled {
		return 0, nil
	}
	defer logging.TraceDuration(l.log, "CreditLedger.GrantDailyIfNeeded")()

	balance, granted, err := l.users.GrantDailyCredits(ctx, repository.NoTX, userID, l.cfg.DailyFreeCredits, l.cfg.MaxFreeCreditLimit)
	if err != nil {
		return 0, err
	}
	if granted {
		metrics.AddCreditsGranted(l.cfg.DailyFreeCredits)
		l.log.Debug().Str("user_id", userID).Int64("balance", balance).Msg("daily credits granted")
	}
	return balance, nil
}

func (l *creditLedger) TryConsume(ctx context.Context, userID string, cost int64) (int64, error) {
	if !l.cfg.Enabled {
		return 0, nil
	}
	defer logging.TraceDuration(l.log, "CreditLedger.TryConsume")()

	balance, err := l.users.TryConsumeCredits(ctx, repository.NoTX, userID, cost)
	if err != nil {
		return 0, err
	}
	metrics.AddCreditsConsumed(cost)
	return balance, nil
}

func (l *creditLedger) Refund(ctx context.Context, userID string, amount int64) error {
	if !l.cfg.Enabled || amount <= 0 {
		return nil
	}
	defer logging.TraceDuration(l.log, "CreditLedger.Refund")()

	if err := l.users.RefundCredits(ctx, repository.NoTX, userID, amount); err != nil {
		return err
	}
	metrics.AddCreditsRefunded(amount)
	return nil
}
