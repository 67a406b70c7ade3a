package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"speaking-exam-subscription/internal/domain"
	"speaking-exam-subscription/internal/domain/model"
	"speaking-exam-subscription/internal/domain/ports/repository"
	"speaking-exam-subscription/internal/infra/metrics"
)

// GrantKind selects the expiry base: a renewal extends the running period,
// a fresh purchase starts from now. The provider's notification type is the
// source of truth; providers without one (Click) use GrantAuto.
type GrantKind string

const (
	GrantNew     GrantKind = "new"
	GrantRenewal GrantKind = "renewal"
	// GrantAuto treats a purchase as a renewal when the same paid tier is
	// still running, so a mid-cycle repurchase extends instead of restarting.
	GrantAuto GrantKind = "auto"
)

// Compile-time check
var _ EntitlementUseCase = (*entitlementUC)(nil)

type EntitlementUseCase interface {
	// Grant applies a confirmed transaction to the user's subscription state.
	// Must run inside the same DB transaction as the ledger transition.
	Grant(ctx context.Context, tx repository.Tx, txn *model.Transaction, plan *model.Plan, kind GrantKind, providerSubID *string) (model.SubscriptionState, error)

	// Resolve is the lifecycle guard: every entitlement-sensitive read goes
	// through here, lazily reverting a stale paid tier to free first.
	Resolve(ctx context.Context, userID string) (model.SubscriptionState, error)

	// RequestCancel records a provider cancellation notice; tier and expiry
	// are untouched, the subscription runs out at its expiry.
	RequestCancel(ctx context.Context, tx repository.Tx, userID string, at time.Time) error

	// Revoke reverts to free immediately (refund/revocation notice).
	Revoke(ctx context.Context, tx repository.Tx, userID string) error
}

type entitlementUC struct {
	users repository.UserRepository
	log   *zerolog.Logger
	now   func() time.Time
}

func NewEntitlementUseCase(users repository.UserRepository, logger *zerolog.Logger) *entitlementUC {
	return &entitlementUC{users: users, log: logger, now: time.Now}
}

func (uc *entitlementUC) Grant(ctx context.Context, tx repository.Tx, txn *model.Transaction, plan *model.Plan, kind GrantKind, providerSubID *string) (model.SubscriptionState, error) {
	if txn == nil || plan.IsZero() {
		return model.SubscriptionState{}, domain.ErrInvalidArgument
	}
	user, err := uc.users.FindByID(ctx, tx, txn.UserID)
	if err != nil {
		return model.SubscriptionState{}, err
	}

	now := uc.now()
	cur := user.Subscription.Normalized(now)

	if kind == GrantAuto {
		if cur.Tier == plan.Tier && cur.ExpiresAt != nil && cur.ExpiresAt.After(now) {
			kind = GrantRenewal
		} else {
			kind = GrantNew
		}
	}

	base := now
	if kind == GrantRenewal && cur.ExpiresAt != nil && cur.ExpiresAt.After(now) {
		// max(currentExpiresAt, now): a slightly stale read only
		// under-extends, it can never double-count a period.
		base = *cur.ExpiresAt
	}
	expires := base.Add(plan.Duration())

	next := model.SubscriptionState{
		Tier:         plan.Tier,
		ExpiresAt:    &expires,
		HasUsedTrial: cur.HasUsedTrial,
	}
	if !cur.HasUsedTrial && plan.TrialDays > 0 {
		expires = expires.Add(time.Duration(plan.TrialDays) * 24 * time.Hour)
		next.ExpiresAt = &expires
		next.HasUsedTrial = true
	}
	if providerSubID != nil {
		next.ProviderSubscriptionID = providerSubID
	} else {
		next.ProviderSubscriptionID = cur.ProviderSubscriptionID
	}
	// A paid grant supersedes any standing cancellation notice.

	if err := uc.users.UpdateSubscription(ctx, tx, user.ID, next); err != nil {
		return model.SubscriptionState{}, err
	}

	metrics.IncGrant(string(plan.Tier), string(kind))
	uc.log.Info().
		Str("user_id", user.ID).
		Str("plan_id", plan.ID).
		Str("tier", string(plan.Tier)).
		Str("kind", string(kind)).
		Time("expires_at", expires).
		Msg("entitlement granted")
	return next, nil
}

func (uc *entitlementUC) Resolve(ctx context.Context, userID string) (model.SubscriptionState, error) {
	user, err := uc.users.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return model.SubscriptionState{}, err
	}

	now := uc.now()
	if !user.Subscription.IsStale(now) {
		return user.Subscription, nil
	}

	flipped, err := uc.users.ClearExpired(ctx, repository.NoTX, userID, now)
	if err != nil {
		return model.SubscriptionState{}, err
	}
	if flipped {
		// Only the writer that actually flipped the row logs and counts;
		// concurrent stale reads fall through silently.
		metrics.IncSubscriptionExpired()
		uc.log.Info().
			Str("user_id", userID).
			Str("tier", string(user.Subscription.Tier)).
			Msg("expired subscription reverted to free")
	}
	return user.Subscription.Normalized(now), nil
}

func (uc *entitlementUC) RequestCancel(ctx context.Context, tx repository.Tx, userID string, at time.Time) error {
	user, err := uc.users.FindByID(ctx, tx, userID)
	if err != nil {
		return err
	}
	if !user.Subscription.IsPaid(at) {
		return domain.ErrNoActiveSubscription
	}
	if err := uc.users.SetCancelRequested(ctx, tx, userID, at); err != nil {
		return err
	}
	metrics.IncCancelNotice("cancel")
	uc.log.Info().Str("user_id", userID).Time("at", at).Msg("cancellation requested; effective at expiry")
	return nil
}

func (uc *entitlementUC) Revoke(ctx context.Context, tx repository.Tx, userID string) error {
	user, err := uc.users.FindByID(ctx, tx, userID)
	if err != nil {
		return err
	}
	next := model.SubscriptionState{
		Tier:              model.TierFree,
		HasUsedTrial:      user.Subscription.HasUsedTrial,
		CancelRequested:   user.Subscription.CancelRequested,
		CancelRequestedAt: user.Subscription.CancelRequestedAt,
	}
	if err := uc.users.UpdateSubscription(ctx, tx, userID, next); err != nil {
		return err
	}
	metrics.IncCancelNotice("revoke")
	uc.log.Warn().Str("user_id", userID).Msg("subscription revoked by provider")
	return nil
}
