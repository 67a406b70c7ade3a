//go:build !integration

package web_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"speaking-exam-subscription/internal/domain"
	"speaking-exam-subscription/internal/domain/model"
	"speaking-exam-subscription/internal/domain/ports/adapter"
	"speaking-exam-subscription/internal/domain/ports/repository"
	"speaking-exam-subscription/internal/infra/web"
	"speaking-exam-subscription/internal/usecase"
)

const testJWTSecret = "test-jwt-secret"

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func bearerFor(t *testing.T, userID string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + tok
}

type mockPayments struct {
	InitiateFunc  func(ctx context.Context, userID, planID string, provider model.Provider) (*model.Transaction, adapter.LaunchParams, error)
	VerifyFunc    func(ctx context.Context, userID string, provider model.Provider, token, planID string) (*model.Transaction, model.SubscriptionState, error)
	ReconcileFunc func(ctx context.Context, txn *model.Transaction) error
}

var _ usecase.PaymentUseCase = (*mockPayments)(nil)

func (m *mockPayments) Initiate(ctx context.Context, userID, planID string, provider model.Provider) (*model.Transaction, adapter.LaunchParams, error) {
	if m.InitiateFunc == nil {
		return nil, adapter.LaunchParams{}, domain.ErrOperationFailed
	}
	return m.InitiateFunc(ctx, userID, planID, provider)
}

func (m *mockPayments) Verify(ctx context.Context, userID string, provider model.Provider, token, planID string) (*model.Transaction, model.SubscriptionState, error) {
	if m.VerifyFunc == nil {
		return nil, model.SubscriptionState{}, domain.ErrOperationFailed
	}
	return m.VerifyFunc(ctx, userID, provider, token, planID)
}

func (m *mockPayments) Reconcile(ctx context.Context, txn *model.Transaction) error {
	if m.ReconcileFunc == nil {
		return nil
	}
	return m.ReconcileFunc(ctx, txn)
}

type mockQuota struct {
	CheckAndConsumeFunc func(ctx context.Context, userID string, category model.UsageCategory) (usecase.QuotaResult, error)
}

var _ usecase.QuotaUseCase = (*mockQuota)(nil)

func (m *mockQuota) CheckAndConsume(ctx context.Context, userID string, category model.UsageCategory) (usecase.QuotaResult, error) {
	return m.CheckAndConsumeFunc(ctx, userID, category)
}

type mockEntitlement struct {
	ResolveFunc func(ctx context.Context, userID string) (model.SubscriptionState, error)
}

var _ usecase.EntitlementUseCase = (*mockEntitlement)(nil)

func (m *mockEntitlement) Grant(ctx context.Context, tx repository.Tx, txn *model.Transaction, plan *model.Plan, kind usecase.GrantKind, providerSubID *string) (model.SubscriptionState, error) {
	return model.SubscriptionState{}, domain.ErrOperationFailed
}

func (m *mockEntitlement) Resolve(ctx context.Context, userID string) (model.SubscriptionState, error) {
	return m.ResolveFunc(ctx, userID)
}

func (m *mockEntitlement) RequestCancel(ctx context.Context, tx repository.Tx, userID string, at time.Time) error {
	return nil
}

func (m *mockEntitlement) Revoke(ctx context.Context, tx repository.Tx, userID string) error {
	return nil
}

type mockClickHook struct {
	HandleFunc func(ctx context.Context, req usecase.ClickRequest) usecase.ClickReply
	Requests   []usecase.ClickRequest
}

var _ usecase.ClickWebhookUseCase = (*mockClickHook)(nil)

func (m *mockClickHook) Handle(ctx context.Context, req usecase.ClickRequest) usecase.ClickReply {
	m.Requests = append(m.Requests, req)
	return m.HandleFunc(ctx, req)
}

type mockPlayHook struct {
	HandleFunc    func(ctx context.Context, n usecase.GooglePlayNotification) error
	Notifications []usecase.GooglePlayNotification
}

var _ usecase.GooglePlayWebhookUseCase = (*mockPlayHook)(nil)

func (m *mockPlayHook) Handle(ctx context.Context, n usecase.GooglePlayNotification) error {
	m.Notifications = append(m.Notifications, n)
	if m.HandleFunc == nil {
		return nil
	}
	return m.HandleFunc(ctx, n)
}

type serverDeps struct {
	payments    *mockPayments
	quota       *mockQuota
	entitlement *mockEntitlement
	clickHook   *mockClickHook
	playHook    *mockPlayHook
	srv         *web.Server
}

func newTestServer(t *testing.T) *serverDeps {
	t.Helper()
	d := &serverDeps{
		payments:    &mockPayments{},
		quota:       &mockQuota{},
		entitlement: &mockEntitlement{},
		clickHook:   &mockClickHook{},
		playHook:    &mockPlayHook{},
	}
	d.srv = web.NewServer(
		d.payments, d.quota, d.entitlement, d.clickHook, d.playHook,
		web.NewAuthManager(testJWTSecret), nil, newTestLogger(),
	)
	return d
}
