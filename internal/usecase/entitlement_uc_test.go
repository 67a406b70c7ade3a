//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"speaking-exam-subscription/internal/domain"
	"speaking-exam-subscription/internal/domain/model"
	"speaking-exam-subscription/internal/domain/ports/repository"
	"speaking-exam-subscription/internal/usecase"
)

func seedUser(t *testing.T, repo *MockUserRepo, id string, sub model.SubscriptionState) {
	t.Helper()
	u, err := model.NewUser(id, "user-"+id)
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	u.Subscription = sub
	if err := repo.Save(context.Background(), repository.NoTX, u); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func silverPlan() *model.Plan {
	return &model.Plan{ID: "silver_monthly", Name: "Silver", Tier: model.TierSilver, DurationDays: 30, PriceTiyin: 1_500_000, Currency: "UZS"}
}

func pendingTxn(t *testing.T, userID, planID string) *model.Transaction {
	t.Helper()
	txn, err := model.NewTransaction(userID, planID, model.ProviderClick, 1_500_000, "UZS")
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	return txn
}

// expiresAt must land within tolerance of want; the use case reads the real
// clock, so exact equality is not available.
func wantExpiry(t *testing.T, got *time.Time, want time.Time) {
	t.Helper()
	if got == nil {
		t.Fatal("expected an expiry, got nil")
	}
	if d := got.Sub(want); d < -2*time.Second || d > 2*time.Second {
		t.Fatalf("expiry = %v, want about %v (off by %v)", got, want, d)
	}
}

func TestEntitlementGrant(t *testing.T) {
	ctx := context.Background()
	plan := silverPlan()

	t.Run("fresh purchase starts from now", func(t *testing.T) {
		users := NewMockUserRepo()
		seedUser(t, users, "u1", model.SubscriptionState{Tier: model.TierFree, HasUsedTrial: true})
		uc := usecase.NewEntitlementUseCase(users, newTestLogger())

		sub, err := uc.Grant(ctx, repository.NoTX, pendingTxn(t, "u1", plan.ID), plan, usecase.GrantNew, nil)
		if err != nil {
			t.Fatalf("Grant: %v", err)
		}
		if sub.Tier != model.TierSilver {
			t.Fatalf("tier = %s, want silver", sub.Tier)
		}
		wantExpiry(t, sub.ExpiresAt, time.Now().Add(30*24*time.Hour))
	})

	t.Run("renewal extends from current expiry", func(t *testing.T) {
		users := NewMockUserRepo()
		cur := time.Now().Add(10 * 24 * time.Hour)
		seedUser(t, users, "u1", model.SubscriptionState{Tier: model.TierSilver, ExpiresAt: &cur, HasUsedTrial: true})
		uc := usecase.NewEntitlementUseCase(users, newTestLogger())

		sub, err := uc.Grant(ctx, repository.NoTX, pendingTxn(t, "u1", plan.ID), plan, usecase.GrantRenewal, nil)
		if err != nil {
			t.Fatalf("Grant: %v", err)
		}
		wantExpiry(t, sub.ExpiresAt, time.Now().Add(40*24*time.Hour))
	})

	t.Run("auto resolves to renewal for same running tier", func(t *testing.T) {
		users := NewMockUserRepo()
		cur := time.Now().Add(10 * 24 * time.Hour)
		seedUser(t, users, "u1", model.SubscriptionState{Tier: model.TierSilver, ExpiresAt: &cur, HasUsedTrial: true})
		uc := usecase.NewEntitlementUseCase(users, newTestLogger())

		sub, err := uc.Grant(ctx, repository.NoTX, pendingTxn(t, "u1", plan.ID), plan, usecase.GrantAuto, nil)
		if err != nil {
			t.Fatalf("Grant: %v", err)
		}
		wantExpiry(t, sub.ExpiresAt, time.Now().Add(40*24*time.Hour))
	})

	t.Run("auto treats lapsed tier as fresh", func(t *testing.T) {
		users := NewMockUserRepo()
		stale := time.Now().Add(-24 * time.Hour)
		seedUser(t, users, "u1", model.SubscriptionState{Tier: model.TierSilver, ExpiresAt: &stale, HasUsedTrial: true})
		uc := usecase.NewEntitlementUseCase(users, newTestLogger())

		sub, err := uc.Grant(ctx, repository.NoTX, pendingTxn(t, "u1", plan.ID), plan, usecase.GrantAuto, nil)
		if err != nil {
			t.Fatalf("Grant: %v", err)
		}
		wantExpiry(t, sub.ExpiresAt, time.Now().Add(30*24*time.Hour))
	})

	t.Run("trial bonus applies exactly once", func(t *testing.T) {
		users := NewMockUserRepo()
		seedUser(t, users, "u1", model.SubscriptionState{Tier: model.TierFree})
		uc := usecase.NewEntitlementUseCase(users, newTestLogger())
		trialPlan := silverPlan()
		trialPlan.TrialDays = 7

		sub, err := uc.Grant(ctx, repository.NoTX, pendingTxn(t, "u1", trialPlan.ID), trialPlan, usecase.GrantNew, nil)
		if err != nil {
			t.Fatalf("Grant: %v", err)
		}
		wantExpiry(t, sub.ExpiresAt, time.Now().Add(37*24*time.Hour))
		if !sub.HasUsedTrial {
			t.Fatal("HasUsedTrial not set after trial grant")
		}

		sub2, err := uc.Grant(ctx, repository.NoTX, pendingTxn(t, "u1", trialPlan.ID), trialPlan, usecase.GrantRenewal, nil)
		if err != nil {
			t.Fatalf("second Grant: %v", err)
		}
		// 37d + 30d, no second trial bonus.
		wantExpiry(t, sub2.ExpiresAt, time.Now().Add(67*24*time.Hour))
	})

	t.Run("grant supersedes a standing cancel notice", func(t *testing.T) {
		users := NewMockUserRepo()
		at := time.Now().Add(-time.Hour)
		cur := time.Now().Add(5 * 24 * time.Hour)
		seedUser(t, users, "u1", model.SubscriptionState{
			Tier: model.TierSilver, ExpiresAt: &cur, HasUsedTrial: true,
			CancelRequested: true, CancelRequestedAt: &at,
		})
		uc := usecase.NewEntitlementUseCase(users, newTestLogger())

		sub, err := uc.Grant(ctx, repository.NoTX, pendingTxn(t, "u1", plan.ID), plan, usecase.GrantRenewal, nil)
		if err != nil {
			t.Fatalf("Grant: %v", err)
		}
		if sub.CancelRequested {
			t.Fatal("cancel notice survived a paid grant")
		}
	})

	t.Run("grant records provider subscription id", func(t *testing.T) {
		users := NewMockUserRepo()
		seedUser(t, users, "u1", model.SubscriptionState{Tier: model.TierFree, HasUsedTrial: true})
		uc := usecase.NewEntitlementUseCase(users, newTestLogger())

		token := "play-token-1"
		sub, err := uc.Grant(ctx, repository.NoTX, pendingTxn(t, "u1", plan.ID), plan, usecase.GrantNew, &token)
		if err != nil {
			t.Fatalf("Grant: %v", err)
		}
		if sub.ProviderSubscriptionID == nil || *sub.ProviderSubscriptionID != token {
			t.Fatal("provider subscription id not stored")
		}
	})
}

func TestEntitlementResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("stale paid tier reverts to free exactly once", func(t *testing.T) {
		users := NewMockUserRepo()
		stale := time.Now().Add(-time.Hour)
		seedUser(t, users, "u1", model.SubscriptionState{Tier: model.TierGold, ExpiresAt: &stale, HasUsedTrial: true})
		uc := usecase.NewEntitlementUseCase(users, newTestLogger())

		sub, err := uc.Resolve(ctx, "u1")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if sub.Tier != model.TierFree || sub.ExpiresAt != nil {
			t.Fatalf("stale gold not normalized: %+v", sub)
		}
		if !sub.HasUsedTrial {
			t.Fatal("HasUsedTrial lost on expiry")
		}
		if users.ClearExpiredCalls != 1 {
			t.Fatalf("ClearExpired calls = %d, want 1", users.ClearExpiredCalls)
		}

		// Second read sees clean state and never touches the guard.
		if _, err := uc.Resolve(ctx, "u1"); err != nil {
			t.Fatalf("second Resolve: %v", err)
		}
		if users.ClearExpiredCalls != 1 {
			t.Fatalf("guard ran again on a clean read: calls = %d", users.ClearExpiredCalls)
		}
	})

	t.Run("running subscription passes through untouched", func(t *testing.T) {
		users := NewMockUserRepo()
		cur := time.Now().Add(24 * time.Hour)
		seedUser(t, users, "u1", model.SubscriptionState{Tier: model.TierSilver, ExpiresAt: &cur})
		uc := usecase.NewEntitlementUseCase(users, newTestLogger())

		sub, err := uc.Resolve(ctx, "u1")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if sub.Tier != model.TierSilver {
			t.Fatalf("tier = %s, want silver", sub.Tier)
		}
		if users.ClearExpiredCalls != 0 {
			t.Fatal("guard wrote on a non-stale read")
		}
	})
}

func TestEntitlementCancelAndRevoke(t *testing.T) {
	ctx := context.Background()

	t.Run("cancel keeps access until expiry", func(t *testing.T) {
		users := NewMockUserRepo()
		cur := time.Now().Add(10 * 24 * time.Hour)
		seedUser(t, users, "u1", model.SubscriptionState{Tier: model.TierGold, ExpiresAt: &cur})
		uc := usecase.NewEntitlementUseCase(users, newTestLogger())

		if err := uc.RequestCancel(ctx, repository.NoTX, "u1", time.Now()); err != nil {
			t.Fatalf("RequestCancel: %v", err)
		}
		u, _ := users.FindByID(ctx, repository.NoTX, "u1")
		if !u.Subscription.CancelRequested {
			t.Fatal("cancel flag not recorded")
		}
		if u.Subscription.Tier != model.TierGold || u.Subscription.ExpiresAt == nil {
			t.Fatal("cancel must not touch tier or expiry")
		}
	})

	t.Run("cancel without a running subscription is rejected", func(t *testing.T) {
		lapsed := time.Now().Add(-24 * time.Hour)
		for name, sub := range map[string]model.SubscriptionState{
			"free":   {Tier: model.TierFree},
			"lapsed": {Tier: model.TierGold, ExpiresAt: &lapsed},
		} {
			users := NewMockUserRepo()
			seedUser(t, users, "u1", sub)
			uc := usecase.NewEntitlementUseCase(users, newTestLogger())

			err := uc.RequestCancel(ctx, repository.NoTX, "u1", time.Now())
			if !errors.Is(err, domain.ErrNoActiveSubscription) {
				t.Fatalf("%s: err = %v, want ErrNoActiveSubscription", name, err)
			}
			u, _ := users.FindByID(ctx, repository.NoTX, "u1")
			if u.Subscription.CancelRequested {
				t.Fatalf("%s: cancel flag recorded for inactive subscription", name)
			}
		}
	})

	t.Run("revoke drops to free immediately", func(t *testing.T) {
		users := NewMockUserRepo()
		cur := time.Now().Add(10 * 24 * time.Hour)
		seedUser(t, users, "u1", model.SubscriptionState{Tier: model.TierGold, ExpiresAt: &cur, HasUsedTrial: true})
		uc := usecase.NewEntitlementUseCase(users, newTestLogger())

		if err := uc.Revoke(ctx, repository.NoTX, "u1"); err != nil {
			t.Fatalf("Revoke: %v", err)
		}
		u, _ := users.FindByID(ctx, repository.NoTX, "u1")
		if u.Subscription.Tier != model.TierFree || u.Subscription.ExpiresAt != nil {
			t.Fatalf("revoke did not reset subscription: %+v", u.Subscription)
		}
		if !u.Subscription.HasUsedTrial {
			t.Fatal("HasUsedTrial lost on revoke")
		}
	})
}
