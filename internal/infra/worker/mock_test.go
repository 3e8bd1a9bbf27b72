//go:build !integration

package worker_test

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"pixwave/internal/domain"
	"pixwave/internal/domain/model"
	"pixwave/internal/domain/ports/adapter"
	"pixwave/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// noopTxManager runs the callback without a real transaction; the mocks below
// are already atomic under their own mutexes.
type noopTxManager struct{}

func (noopTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// stubUserRepo tracks balances and refunds.
type stubUserRepo struct {
	mu       sync.Mutex
	balances map[string]int64
	refunds  int
}

var _ repository.UserRepository = (*stubUserRepo)(nil)

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{balances: make(map[string]int64)}
}

func (s *stubUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[u.ID] = u.CreditsFree
	return nil
}

func (s *stubUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balances[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &model.User{ID: id, Username: "stub", CreditsFree: bal}, nil
}

func (s *stubUserRepo) TryConsumeCredits(ctx context.Context, tx repository.Tx, userID string, cost int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balances[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if bal < cost {
		return 0, domain.ErrInsufficientCredits
	}
	s.balances[userID] = bal - cost
	return bal - cost, nil
}

func (s *stubUserRepo) RefundCredits(ctx context.Context, tx repository.Tx, userID string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.balances[userID]; !ok {
		return domain.ErrNotFound
	}
	s.balances[userID] += amount
	s.refunds++
	return nil
}

func (s *stubUserRepo) GrantDailyCredits(ctx context.Context, tx repository.Tx, userID string, amount, cap int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], false, nil
}

func (s *stubUserRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.balances), nil
}

func (s *stubUserRepo) SumFreeCredits(ctx context.Context, tx repository.Tx) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, b := range s.balances {
		sum += b
	}
	return sum, nil
}

func (s *stubUserRepo) balance(id string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[id]
}

func (s *stubUserRepo) refundCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refunds
}

// stubRequestRepo is an in-memory queue with the forward-only transition rules.
type stubRequestRepo struct {
	mu     sync.Mutex
	store  map[string]*model.GenerationRequest
	claims []string // claim order, for FIFO assertions
}

var _ repository.GenerationRequestRepository = (*stubRequestRepo)(nil)

func newStubRequestRepo() *stubRequestRepo {
	return &stubRequestRepo{store: make(map[string]*model.GenerationRequest)}
}

func (s *stubRequestRepo) Create(ctx context.Context, tx repository.Tx, req *model.GenerationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.store[req.ID] = &cp
	return nil
}

func (s *stubRequestRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.GenerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *stubRequestRepo) ClaimOldestPending(ctx context.Context) (*model.GenerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *model.GenerationRequest
	for _, req := range s.store {
		if req.Status != model.GenerationStatusPending {
			continue
		}
		if oldest == nil ||
			req.CreatedAt.Before(oldest.CreatedAt) ||
			(req.CreatedAt.Equal(oldest.CreatedAt) && req.ID < oldest.ID) {
			oldest = req
		}
	}
	if oldest == nil {
		return nil, domain.ErrNotFound
	}
	oldest.Status = model.GenerationStatusProcessing
	s.claims = append(s.claims, oldest.ID)
	cp := *oldest
	return &cp, nil
}

func (s *stubRequestRepo) MarkCompleted(ctx context.Context, tx repository.Tx, id string, result []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	if req.Status != model.GenerationStatusProcessing {
		return domain.ErrInvalidTransition
	}
	req.Status = model.GenerationStatusCompleted
	req.Result = result
	req.ResultContentType = contentType
	return nil
}

func (s *stubRequestRepo) MarkFailed(ctx context.Context, tx repository.Tx, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	if req.Status != model.GenerationStatusProcessing {
		return domain.ErrInvalidTransition
	}
	req.Status = model.GenerationStatusFailed
	req.Error = reason
	return nil
}

func (s *stubRequestRepo) CountPendingBefore(ctx context.Context, tx repository.Tx, createdAt time.Time, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, req := range s.store {
		if req.Status != model.GenerationStatusPending {
			continue
		}
		if req.CreatedAt.Before(createdAt) || (req.CreatedAt.Equal(createdAt) && req.ID < id) {
			n++
		}
	}
	return n, nil
}

func (s *stubRequestRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.GenerationStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.GenerationStatus]int)
	for _, req := range s.store {
		out[req.Status]++
	}
	return out, nil
}

func (s *stubRequestRepo) claimOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.claims...)
}

// stubGenerator answers with a canned result or error.
type stubGenerator struct {
	mu           sync.Mutex
	GenerateFunc func(ctx context.Context, params *model.GenerationParams) (*adapter.ImageResult, error)
	calls        int
}

var _ adapter.ImageGeneratorAdapter = (*stubGenerator)(nil)

func (g *stubGenerator) Generate(ctx context.Context, params *model.GenerationParams) (*adapter.ImageResult, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.GenerateFunc != nil {
		return g.GenerateFunc(ctx, params)
	}
	return &adapter.ImageResult{Bytes: []byte("png-bytes"), ContentType: "image/png"}, nil
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
