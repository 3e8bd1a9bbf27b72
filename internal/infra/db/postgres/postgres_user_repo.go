package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"pixwave/internal/domain"
	"pixwave/internal/domain/model"
	"pixwave/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

func (r *PostgresUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (
  id, username, registered_at, last_active_at, is_admin,
  credits_free, credits_free_last_grant_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7
) ON CONFLICT (id) DO UPDATE SET
  username=$2, last_active_at=$4, is_admin=$5;
`
	var lastGrant *time.Time
	if !u.CreditsFreeLastGrantAt.IsZero() {
		lastGrant = &u.CreditsFreeLastGrantAt
	}
	_, err := execSQL(ctx, r.pool, tx, q,
		u.ID, u.Username, u.RegisteredAt, u.LastActiveAt, u.IsAdmin, u.CreditsFree, lastGrant)
	return err
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	const q = `
SELECT id, username, registered_at, last_active_at, is_admin,
       credits_free, credits_free_last_grant_at
  FROM users WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var u model.User
	var lastActive, lastGrant *time.Time
	if err := row.Scan(&u.ID, &u.Username, &u.RegisteredAt, &lastActive, &u.IsAdmin, &u.CreditsFree, &lastGrant); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if lastActive != nil {
		u.LastActiveAt = *lastActive
	}
	if lastGrant != nil {
		u.CreditsFreeLastGrantAt = *lastGrant
	}
	return &u, nil
}

// TryConsumeCredits is a single conditional UPDATE: the WHERE clause carries
// the balance check, so two racing consumers can never both win against an
// insufficient balance.
func (r *PostgresUserRepo) TryConsumeCredits(ctx context.Context, tx repository.Tx, userID string, cost int64) (int64, error) {
	if cost < 0 {
		return 0, domain.ErrInvalidArgument
	}
	if cost == 0 {
		u, err := r.FindByID(ctx, tx, userID)
		if err != nil {
			return 0, err
		}
		return u.CreditsFree, nil
	}

	const q = `
UPDATE users SET credits_free = credits_free - $2
 WHERE id = $1 AND credits_free >= $2
RETURNING credits_free;`
	row, err := pickRow(ctx, r.pool, tx, q, userID, cost)
	if err != nil {
		return 0, err
	}
	var balance int64
	if err := row.Scan(&balance); err == nil {
		return balance, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	// No row updated: distinguish an unknown user from a short balance.
	if _, err := r.FindByID(ctx, tx, userID); err != nil {
		return 0, err
	}
	return 0, domain.ErrInsufficientCredits
}

func (r *PostgresUserRepo) RefundCredits(ctx context.Context, tx repository.Tx, userID string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	const q = `UPDATE users SET credits_free = credits_free + $2 WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GrantDailyCredits keys the update on the UTC day boundary inside the WHERE
// clause. Concurrent invocations on the same day race on one row update and
// exactly one of them matches. A balance already at or above the cap is left
// alone; the grant never reduces it.
func (r *PostgresUserRepo) GrantDailyCredits(ctx context.Context, tx repository.Tx, userID string, amount, cap int64) (int64, bool, error) {
	if amount <= 0 {
		u, err := r.FindByID(ctx, tx, userID)
		if err != nil {
			return 0, false, err
		}
		return u.CreditsFree, false, nil
	}

	const q = `
UPDATE users
   SET credits_free = GREATEST(credits_free, LEAST($3, credits_free + $2)),
       credits_free_last_grant_at = now()
 WHERE id = $1
   AND (credits_free_last_grant_at IS NULL
        OR (credits_free_last_grant_at AT TIME ZONE 'UTC')::date < (now() AT TIME ZONE 'UTC')::date)
RETURNING credits_free;`
	row, err := pickRow(ctx, r.pool, tx, q, userID, amount, cap)
	if err != nil {
		return 0, false, err
	}
	var balance int64
	if err := row.Scan(&balance); err == nil {
		return balance, true, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, err
	}

	// Already granted today, or the user does not exist.
	u, err := r.FindByID(ctx, tx, userID)
	if err != nil {
		return 0, false, err
	}
	return u.CreditsFree, false, nil
}

func (r *PostgresUserRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM users;`)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (r *PostgresUserRepo) SumFreeCredits(ctx context.Context, tx repository.Tx) (int64, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COALESCE(SUM(credits_free), 0) FROM users;`)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("sum free credits: %w", err)
	}
	return n, nil
}
