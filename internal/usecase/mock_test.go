//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"speaking-exam-subscription/internal/domain"
	"speaking-exam-subscription/internal/domain/model"
	"speaking-exam-subscription/internal/domain/ports/adapter"
	"speaking-exam-subscription/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// ---- Mock TransactionManager ----

type noTx struct{}

type MockTxManager struct {
	Calls int
}

func (m *MockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.Calls++
	return fn(ctx, noTx{})
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// ---- Mock TransactionRepository ----

type MockTransactionRepo struct {
	mu   sync.Mutex
	rows map[string]*model.Transaction
	refs map[string]string // provider+ref -> id, mirrors the unique index

	SaveFunc                 func(ctx context.Context, tx repository.Tx, t *model.Transaction) error
	TransitionFunc           func(ctx context.Context, tx repository.Tx, id string, from, to model.TransactionStatus) (bool, error)
	SetProviderReferenceFunc func(ctx context.Context, tx repository.Tx, id string, ref string) error
}

var _ repository.TransactionRepository = (*MockTransactionRepo)(nil)

func NewMockTransactionRepo() *MockTransactionRepo {
	return &MockTransactionRepo{rows: map[string]*model.Transaction{}, refs: map[string]string{}}
}

func refKey(p model.Provider, ref string) string { return string(p) + "|" + ref }

func (m *MockTransactionRepo) Save(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.rows[t.ID] = &cp
	if t.ProviderReference != nil {
		m.refs[refKey(t.Provider, *t.ProviderReference)] = t.ID
	}
	return nil
}

func (m *MockTransactionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MockTransactionRepo) FindByProviderReference(ctx context.Context, tx repository.Tx, provider model.Provider, ref string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.refs[refKey(provider, ref)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m.rows[id]
	return &cp, nil
}

func (m *MockTransactionRepo) Transition(ctx context.Context, tx repository.Tx, id string, from, to model.TransactionStatus) (bool, error) {
	if m.TransitionFunc != nil {
		return m.TransitionFunc(ctx, tx, id, from, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if from.IsTerminal() {
		return false, domain.ErrInvalidArgument
	}
	if t.Status != from {
		return false, nil
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	return true, nil
}

func (m *MockTransactionRepo) SetProviderReference(ctx context.Context, tx repository.Tx, id string, ref string) error {
	if m.SetProviderReferenceFunc != nil {
		return m.SetProviderReferenceFunc(ctx, tx, id, ref)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	key := refKey(t.Provider, ref)
	if owner, taken := m.refs[key]; taken && owner != id {
		return domain.ErrAlreadyExists
	}
	m.refs[key] = id
	t.ProviderReference = &ref
	return nil
}

func (m *MockTransactionRepo) SetClickPrepareID(ctx context.Context, tx repository.Tx, id string, prepareID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.ClickPrepareID = &prepareID
	return nil
}

func (m *MockTransactionRepo) FindLatestPending(ctx context.Context, tx repository.Tx, userID string, provider model.Provider, planID string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.Transaction
	for _, t := range m.rows {
		if t.UserID != userID || t.Provider != provider || t.PlanID != planID || t.Status != model.TransactionStatusPending {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *MockTransactionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Transaction
	for _, t := range m.rows {
		if t.Status == model.TransactionStatusPending && t.CreatedAt.Before(olderThan) {
			cp := *t
			out = append(out, &cp)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Get returns the stored row for assertions.
func (m *MockTransactionRepo) Get(id string) *model.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.rows[id]; ok {
		cp := *t
		return &cp
	}
	return nil
}

// ---- Mock UserRepository ----

type MockUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User

	ClearExpiredCalls int
	ClearExpiredFunc  func(ctx context.Context, tx repository.Tx, userID string, now time.Time) (bool, error)
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{users: map[string]*model.User{}}
}

func (m *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockUserRepo) FindByProviderSubscriptionID(ctx context.Context, tx repository.Tx, ref string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Subscription.ProviderSubscriptionID != nil && *u.Subscription.ProviderSubscriptionID == ref {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockUserRepo) UpdateSubscription(ctx context.Context, tx repository.Tx, userID string, s model.SubscriptionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.Subscription = s
	return nil
}

func (m *MockUserRepo) ClearExpired(ctx context.Context, tx repository.Tx, userID string, now time.Time) (bool, error) {
	if m.ClearExpiredFunc != nil {
		return m.ClearExpiredFunc(ctx, tx, userID, now)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClearExpiredCalls++
	u, ok := m.users[userID]
	if !ok {
		return false, domain.ErrNotFound
	}
	s := u.Subscription
	if s.Tier == model.TierFree || s.ExpiresAt == nil || !s.ExpiresAt.Before(now) {
		return false, nil
	}
	u.Subscription = model.SubscriptionState{
		Tier:              model.TierFree,
		HasUsedTrial:      s.HasUsedTrial,
		CancelRequested:   s.CancelRequested,
		CancelRequestedAt: s.CancelRequestedAt,
	}
	return true, nil
}

func (m *MockUserRepo) SetCancelRequested(ctx context.Context, tx repository.Tx, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.Subscription.CancelRequested = true
	u.Subscription.CancelRequestedAt = &at
	return nil
}

// ---- Mock PlanRepository ----

type MockPlanRepo struct {
	mu    sync.Mutex
	plans map[string]*model.Plan
}

var _ repository.PlanRepository = (*MockPlanRepo)(nil)

func NewMockPlanRepo() *MockPlanRepo {
	return &MockPlanRepo{plans: map[string]*model.Plan{}}
}

func (m *MockPlanRepo) Save(ctx context.Context, tx repository.Tx, p *model.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.plans[p.ID] = &cp
	return nil
}

func (m *MockPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockPlanRepo) FindByGooglePlayProduct(ctx context.Context, tx repository.Tx, productID string) (*model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.plans {
		if p.GooglePlayProductID == productID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockPlanRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Plan, 0, len(m.plans))
	for _, p := range m.plans {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// ---- Mock UsageRepository ----

type MockUsageRepo struct {
	mu       sync.Mutex
	counters map[string]*model.UsageCounter

	CompareAndSwapFunc func(ctx context.Context, tx repository.Tx, userID string, category model.UsageCategory,
		prevCount int, prevResetAt time.Time, newCount int, newResetAt time.Time) (bool, error)
}

var _ repository.UsageRepository = (*MockUsageRepo)(nil)

func NewMockUsageRepo() *MockUsageRepo {
	return &MockUsageRepo{counters: map[string]*model.UsageCounter{}}
}

func usageKey(userID string, category model.UsageCategory) string {
	return userID + "|" + string(category)
}

func (m *MockUsageRepo) Find(ctx context.Context, tx repository.Tx, userID string, category model.UsageCategory) (*model.UsageCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[usageKey(userID, category)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MockUsageRepo) Create(ctx context.Context, tx repository.Tx, c *model.UsageCounter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := usageKey(c.UserID, c.Category)
	if _, ok := m.counters[key]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *c
	m.counters[key] = &cp
	return nil
}

func (m *MockUsageRepo) CompareAndSwap(ctx context.Context, tx repository.Tx, userID string, category model.UsageCategory,
	prevCount int, prevResetAt time.Time, newCount int, newResetAt time.Time) (bool, error) {
	if m.CompareAndSwapFunc != nil {
		return m.CompareAndSwapFunc(ctx, tx, userID, category, prevCount, prevResetAt, newCount, newResetAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[usageKey(userID, category)]
	if !ok {
		return false, nil
	}
	if c.Count != prevCount || !c.LastResetAt.Equal(prevResetAt) {
		return false, nil
	}
	c.Count = newCount
	c.LastResetAt = newResetAt
	return true, nil
}

// ---- Mock PaymentGateway ----

type MockPaymentGateway struct {
	Provider model.Provider

	InitiateFunc    func(ctx context.Context, txn *model.Transaction, plan *model.Plan) (adapter.LaunchParams, error)
	FetchStatusFunc func(ctx context.Context, reference string) (adapter.ProviderState, error)

	mu              sync.Mutex
	FetchedRefs     []string
	InitiatedTxnIDs []string
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func (m *MockPaymentGateway) Name() model.Provider { return m.Provider }

func (m *MockPaymentGateway) Initiate(ctx context.Context, txn *model.Transaction, plan *model.Plan) (adapter.LaunchParams, error) {
	m.mu.Lock()
	m.InitiatedTxnIDs = append(m.InitiatedTxnIDs, txn.ID)
	m.mu.Unlock()
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx, txn, plan)
	}
	return adapter.LaunchParams{PayURL: "https://pay.example/" + txn.ID}, nil
}

func (m *MockPaymentGateway) FetchStatus(ctx context.Context, reference string) (adapter.ProviderState, error) {
	m.mu.Lock()
	m.FetchedRefs = append(m.FetchedRefs, reference)
	m.mu.Unlock()
	if m.FetchStatusFunc != nil {
		return m.FetchStatusFunc(ctx, reference)
	}
	return adapter.ProviderState{Status: adapter.RemoteStatusActive}, nil
}
