package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"pixwave/internal/domain"
	"pixwave/internal/domain/model"
	"pixwave/internal/domain/ports/repository"
)

var _ repository.GenerationRequestRepository = (*generationRequestRepo)(nil)

type generationRequestRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewGenerationRequestRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *generationRequestRepo {
	return &generationRequestRepo{pool: pool, tm: tm}
}

const requestColumns = `
id, user_id, params, status, result, result_content_type, error,
credit_cost, cost_waived, created_at, updated_at`

func (r *generationRequestRepo) Create(ctx context.Context, tx repository.Tx, req *model.GenerationRequest) error {
	const q = `
INSERT INTO generation_requests
  (id, user_id, params, status, error, credit_cost, cost_waived, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`
	_, err := execSQL(ctx, r.pool, tx, q,
		req.ID, nullIfEmpty(req.UserID), req.Params, req.Status, req.Error,
		req.CreditCost, req.CostWaived, req.CreatedAt, req.UpdatedAt)
	return err
}

func (r *generationRequestRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.GenerationRequest, error) {
	const q = `SELECT ` + requestColumns + ` FROM generation_requests WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanRequest(row)
}

// ClaimOldestPending fetches the head of the queue and marks it 'processing'
// inside one transaction. FOR UPDATE SKIP LOCKED keeps the claim safe even if
// a second worker process ever runs against the same table.
func (r *generationRequestRepo) ClaimOldestPending(ctx context.Context) (*model.GenerationRequest, error) {
	var claimed *model.GenerationRequest

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const fetchQuery = `
SELECT ` + requestColumns + `
  FROM generation_requests
 WHERE status = 'pending'
 ORDER BY created_at, id
 LIMIT 1
   FOR UPDATE SKIP LOCKED;`

		row, err := pickRow(ctx, r.pool, tx, fetchQuery)
		if err != nil {
			return err
		}
		req, err := scanRequest(row)
		if err != nil {
			return err
		}

		const markQuery = `
UPDATE generation_requests
   SET status = 'processing', updated_at = now()
 WHERE id = $1 AND status = 'pending';`
		tag, err := execSQL(ctx, r.pool, tx, markQuery, req.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrInvalidTransition
		}

		req.Status = model.GenerationStatusProcessing
		claimed = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *generationRequestRepo) MarkCompleted(ctx context.Context, tx repository.Tx, id string, result []byte, contentType string) error {
	const q = `
UPDATE generation_requests
   SET status = 'completed', result = $2, result_content_type = $3, updated_at = now()
 WHERE id = $1 AND status = 'processing';`
	tag, err := execSQL(ctx, r.pool, tx, q, id, result, contentType)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *generationRequestRepo) MarkFailed(ctx context.Context, tx repository.Tx, id string, reason string) error {
	const q = `
UPDATE generation_requests
   SET status = 'failed', error = $2, updated_at = now()
 WHERE id = $1 AND status = 'processing';`
	tag, err := execSQL(ctx, r.pool, tx, q, id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *generationRequestRepo) CountPendingBefore(ctx context.Context, tx repository.Tx, createdAt time.Time, id string) (int, error) {
	const q = `
SELECT COUNT(*) FROM generation_requests
 WHERE status = 'pending' AND (created_at, id) < ($1, $2);`
	row, err := pickRow(ctx, r.pool, tx, q, createdAt, id)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *generationRequestRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.GenerationStatus]int, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, `SELECT status, COUNT(*) FROM generation_requests GROUP BY status;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.GenerationStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[model.GenerationStatus(status)] = n
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (*model.GenerationRequest, error) {
	var req model.GenerationRequest
	var statusStr string
	var userID, contentType *string
	err := row.Scan(
		&req.ID, &userID, &req.Params, &statusStr, &req.Result, &contentType,
		&req.Error, &req.CreditCost, &req.CostWaived, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if userID != nil {
		req.UserID = *userID
	}
	if contentType != nil {
		req.ResultContentType = *contentType
	}
	req.Status = model.GenerationStatus(statusStr)
	return &req, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
