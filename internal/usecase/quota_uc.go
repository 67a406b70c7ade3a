package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"speaking-exam-subscription/internal/domain"
	"speaking-exam-subscription/internal/domain/model"
	"speaking-exam-subscription/internal/domain/ports/repository"
	"speaking-exam-subscription/internal/infra/metrics"
)

// casAttempts bounds the quota retry loop. Losing the swap twice in a row
// for one user is already rare; a third loss means something is wedged.
const casAttempts = 3

// QuotaLimits are the free-tier daily allowances per category.
type QuotaLimits struct {
	FullExamsPerDay    int
	PartPracticePerDay int
}

// QuotaResult is the answer to one consume attempt. Limit and Remaining are
// -1 for unmetered (paid) users.
type QuotaResult struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

// Compile-time check
var _ QuotaUseCase = (*quotaUC)(nil)

type QuotaUseCase interface {
	// CheckAndConsume atomically spends one unit of the user's daily quota.
	// The lifecycle guard runs first, so a lapsed paid tier is metered as
	// free, not waved through on stale tier data. A denied attempt returns
	// the populated result together with ErrQuotaExceeded.
	CheckAndConsume(ctx context.Context, userID string, category model.UsageCategory) (QuotaResult, error)
}

type quotaUC struct {
	usage       repository.UsageRepository
	entitlement EntitlementUseCase
	limits      QuotaLimits
	log         *zerolog.Logger
	now         func() time.Time
}

func NewQuotaUseCase(usage repository.UsageRepository, entitlement EntitlementUseCase, limits QuotaLimits, logger *zerolog.Logger) *quotaUC {
	return &quotaUC{
		usage:       usage,
		entitlement: entitlement,
		limits:      limits,
		log:         logger,
		now:         time.Now,
	}
}

func (u *quotaUC) limit(category model.UsageCategory) int {
	if category == model.UsageFullExam {
		return u.limits.FullExamsPerDay
	}
	return u.limits.PartPracticePerDay
}

func (u *quotaUC) CheckAndConsume(ctx context.Context, userID string, category model.UsageCategory) (QuotaResult, error) {
	sub, err := u.entitlement.Resolve(ctx, userID)
	if err != nil {
		return QuotaResult{}, err
	}

	now := u.now()
	resetAt := model.NextUTCMidnight(now)
	if sub.IsPaid(now) {
		metrics.IncQuotaCheck(string(category), "bypass")
		return QuotaResult{Allowed: true, Remaining: -1, Limit: -1, ResetAt: resetAt}, nil
	}

	limit := u.limit(category)
	for attempt := 0; attempt < casAttempts; attempt++ {
		counter, err := u.usage.Find(ctx, repository.NoTX, userID, category)
		if errors.Is(err, domain.ErrNotFound) {
			fresh := &model.UsageCounter{UserID: userID, Category: category, Count: 1, LastResetAt: now}
			if err := u.usage.Create(ctx, repository.NoTX, fresh); err != nil {
				if errors.Is(err, domain.ErrAlreadyExists) {
					continue // concurrent first use won the insert
				}
				return QuotaResult{}, err
			}
			metrics.IncQuotaCheck(string(category), "allowed")
			return QuotaResult{Allowed: true, Remaining: limit - 1, Limit: limit, ResetAt: resetAt}, nil
		}
		if err != nil {
			return QuotaResult{}, err
		}

		if !model.SameUTCDay(counter.LastResetAt, now) {
			// Rollover and the first consume of the new day are one swap.
			ok, err := u.usage.CompareAndSwap(ctx, repository.NoTX, userID, category,
				counter.Count, counter.LastResetAt, 1, now)
			if err != nil {
				return QuotaResult{}, err
			}
			if !ok {
				continue
			}
			metrics.IncQuotaRollover()
			metrics.IncQuotaCheck(string(category), "allowed")
			return QuotaResult{Allowed: true, Remaining: limit - 1, Limit: limit, ResetAt: resetAt}, nil
		}

		if counter.Count >= limit {
			metrics.IncQuotaCheck(string(category), "denied")
			return QuotaResult{Allowed: false, Remaining: 0, Limit: limit, ResetAt: resetAt}, domain.ErrQuotaExceeded
		}

		ok, err := u.usage.CompareAndSwap(ctx, repository.NoTX, userID, category,
			counter.Count, counter.LastResetAt, counter.Count+1, counter.LastResetAt)
		if err != nil {
			return QuotaResult{}, err
		}
		if ok {
			metrics.IncQuotaCheck(string(category), "allowed")
			return QuotaResult{Allowed: true, Remaining: limit - (counter.Count + 1), Limit: limit, ResetAt: resetAt}, nil
		}
	}

	u.log.Error().
		Str("user_id", userID).
		Str("category", string(category)).
		Msg("quota swap lost repeatedly")
	return QuotaResult{}, domain.ErrOperationFailed
}
