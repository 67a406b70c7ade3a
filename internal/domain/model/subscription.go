package model

import "time"

// SubscriptionState is the entitlement view embedded in the user record.
// It is mutated only by the entitlement granter and the lifecycle guard.
type SubscriptionState struct {
	Tier                   Tier
	ExpiresAt              *time.Time // nil for free
	HasUsedTrial           bool
	CancelRequested        bool
	CancelRequestedAt      *time.Time
	ProviderSubscriptionID *string // e.g. Google Play purchase token
}

// IsStale reports whether a paid tier has outlived its expiry and must be
// normalized to free before any entitlement decision.
func (s SubscriptionState) IsStale(now time.Time) bool {
	return s.Tier != TierFree && s.ExpiresAt != nil && s.ExpiresAt.Before(now)
}

// IsPaid reports whether the state currently grants a paid tier.
// Callers must normalize stale state first; a stale gold is not paid.
func (s SubscriptionState) IsPaid(now time.Time) bool {
	return s.Tier != TierFree && !s.IsStale(now)
}

// Normalized returns the state as it should be read: stale paid tiers revert
// to free with expiry and provider link cleared, one-time flags preserved.
func (s SubscriptionState) Normalized(now time.Time) SubscriptionState {
	if !s.IsStale(now) {
		return s
	}
	return SubscriptionState{
		Tier:              TierFree,
		HasUsedTrial:      s.HasUsedTrial,
		CancelRequested:   s.CancelRequested,
		CancelRequestedAt: s.CancelRequestedAt,
	}
}
