//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pixwave/internal/domain"
	"pixwave/internal/domain/model"
	"pixwave/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// =============================
// Repositories
// =============================

// MockUserRepo is an in-memory UserRepository whose credit mutations keep the
// same check-and-update atomicity contract as the SQL implementation (one
// mutex-guarded conditional step). NowFunc lets tests pin the clock for the
// daily-grant day comparison.
type MockUserRepo struct {
	mu      sync.Mutex
	store   map[string]*model.User
	NowFunc func() time.Time

	SaveFunc              func(ctx context.Context, tx repository.Tx, u *model.User) error
	FindByIDFunc          func(ctx context.Context, tx repository.Tx, id string) (*model.User, error)
	TryConsumeCreditsFunc func(ctx context.Context, tx repository.Tx, userID string, cost int64) (int64, error)
	RefundCreditsFunc     func(ctx context.Context, tx repository.Tx, userID string, amount int64) error
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{store: make(map[string]*model.User)}
}

func (m *MockUserRepo) now() time.Time {
	if m.NowFunc != nil {
		return m.NowFunc()
	}
	return time.Now()
}

func (m *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, u)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.store[u.ID] = &cp
	return nil
}

func (m *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockUserRepo) TryConsumeCredits(ctx context.Context, tx repository.Tx, userID string, cost int64) (int64, error) {
	if m.TryConsumeCreditsFunc != nil {
		return m.TryConsumeCreditsFunc(ctx, tx, userID, cost)
	}
	if cost < 0 {
		return 0, domain.ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if cost == 0 {
		return u.CreditsFree, nil
	}
	if u.CreditsFree < cost {
		return 0, domain.ErrInsufficientCredits
	}
	u.CreditsFree -= cost
	return u.CreditsFree, nil
}

func (m *MockUserRepo) RefundCredits(ctx context.Context, tx repository.Tx, userID string, amount int64) error {
	if m.RefundCreditsFunc != nil {
		return m.RefundCreditsFunc(ctx, tx, userID, amount)
	}
	if amount <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.CreditsFree += amount
	return nil
}

func (m *MockUserRepo) GrantDailyCredits(ctx context.Context, tx repository.Tx, userID string, amount, cap int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[userID]
	if !ok {
		return 0, false, domain.ErrNotFound
	}
	if amount <= 0 || !u.GrantDueAt(m.now()) {
		return u.CreditsFree, false, nil
	}
	next := u.CreditsFree + amount
	if next > cap {
		next = cap
	}
	if next < u.CreditsFree { // already above the cap; never reduce
		next = u.CreditsFree
	}
	u.CreditsFree = next
	u.CreditsFreeLastGrantAt = m.now()
	return u.CreditsFree, true, nil
}

func (m *MockUserRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store), nil
}

func (m *MockUserRepo) SumFreeCredits(ctx context.Context, tx repository.Tx) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, u := range m.store {
		sum += u.CreditsFree
	}
	return sum, nil
}

// Balance reads a user's balance directly, bypassing the repository contract.
func (m *MockUserRepo) Balance(userID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.store[userID]; ok {
		return u.CreditsFree
	}
	return -1
}

// =============================
// Generation request store
// =============================

// MockRequestRepo is an in-memory GenerationRequestRepository with the same
// forward-only transition rules as the SQL implementation.
type MockRequestRepo struct {
	mu    sync.Mutex
	store map[string]*model.GenerationRequest

	CreateFunc             func(ctx context.Context, tx repository.Tx, req *model.GenerationRequest) error
	CountPendingBeforeFunc func(ctx context.Context, tx repository.Tx, createdAt time.Time, id string) (int, error)
}

var _ repository.GenerationRequestRepository = (*MockRequestRepo)(nil)

func NewMockRequestRepo() *MockRequestRepo {
	return &MockRequestRepo{store: make(map[string]*model.GenerationRequest)}
}

func (m *MockRequestRepo) Create(ctx context.Context, tx repository.Tx, req *model.GenerationRequest) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, tx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.store[req.ID]; exists {
		return domain.ErrAlreadyExists
	}
	cp := *req
	m.store[req.ID] = &cp
	return nil
}

func (m *MockRequestRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.GenerationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *MockRequestRepo) ClaimOldestPending(ctx context.Context) (*model.GenerationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *model.GenerationRequest
	for _, req := range m.store {
		if req.Status != model.GenerationStatusPending {
			continue
		}
		if oldest == nil || queueBefore(req, oldest) {
			oldest = req
		}
	}
	if oldest == nil {
		return nil, domain.ErrNotFound
	}
	oldest.Status = model.GenerationStatusProcessing
	oldest.UpdatedAt = time.Now()
	cp := *oldest
	return &cp, nil
}

func queueBefore(a, b *model.GenerationRequest) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (m *MockRequestRepo) MarkCompleted(ctx context.Context, tx repository.Tx, id string, result []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	if req.Status != model.GenerationStatusProcessing {
		return domain.ErrInvalidTransition
	}
	req.Status = model.GenerationStatusCompleted
	req.Result = result
	req.ResultContentType = contentType
	req.UpdatedAt = time.Now()
	return nil
}

func (m *MockRequestRepo) MarkFailed(ctx context.Context, tx repository.Tx, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	if req.Status != model.GenerationStatusProcessing {
		return domain.ErrInvalidTransition
	}
	req.Status = model.GenerationStatusFailed
	req.Error = reason
	req.UpdatedAt = time.Now()
	return nil
}

func (m *MockRequestRepo) CountPendingBefore(ctx context.Context, tx repository.Tx, createdAt time.Time, id string) (int, error) {
	if m.CountPendingBeforeFunc != nil {
		return m.CountPendingBeforeFunc(ctx, tx, createdAt, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	probe := &model.GenerationRequest{CreatedAt: createdAt, ID: id}
	n := 0
	for _, req := range m.store {
		if req.Status == model.GenerationStatusPending && queueBefore(req, probe) {
			n++
		}
	}
	return n, nil
}

func (m *MockRequestRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.GenerationStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[model.GenerationStatus]int)
	for _, req := range m.store {
		out[req.Status]++
	}
	return out, nil
}

// =============================
// Misc
// =============================

// MockQueueStarter records how many times the intake path pinged the worker.
type MockQueueStarter struct {
	mu    sync.Mutex
	Calls int
}

func (m *MockQueueStarter) EnsureStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
}

func (m *MockQueueStarter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}
