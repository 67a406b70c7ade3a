package model

import (
	"time"

	"speaking-exam-subscription/internal/domain"
)

type Tier string

const (
	TierFree   Tier = "free"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

// Plan is an externally fixed plan definition: pricing and per-provider
// product mapping are managed outside this engine, we only consume them.
type Plan struct {
	ID                  string
	Name                string
	Tier                Tier
	DurationDays        int
	TrialDays           int   // one-time bonus for first-ever paid purchase
	PriceTiyin          int64 // UZS minor unit
	Currency            string
	GooglePlayProductID string // Play Billing subscriptionId
	CreatedAt           time.Time
}

func (p *Plan) IsZero() bool { return p == nil || p.ID == "" }

// Duration returns the paid period as a time.Duration.
func (p *Plan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

// NewPlan validates and constructs a plan.
func NewPlan(id, name string, tier Tier, durationDays int, priceTiyin int64) (*Plan, error) {
	if id == "" || name == "" || durationDays <= 0 || priceTiyin <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	if tier != TierSilver && tier != TierGold {
		return nil, domain.ErrInvalidArgument
	}
	return &Plan{
		ID:           id,
		Name:         name,
		Tier:         tier,
		DurationDays: durationDays,
		PriceTiyin:   priceTiyin,
		Currency:     "UZS",
		CreatedAt:    time.Now(),
	}, nil
}
