package repository

import (
	"context"
	"time"

	"speaking-exam-subscription/internal/domain/model"
)

// UsageRepository persists daily usage counters. The rollover decision lives
// in the use case; the repository only offers the atomic primitives, so a
// read-then-write race can never inflate a quota.
type UsageRepository interface {
	Find(ctx context.Context, tx Tx, userID string, category model.UsageCategory) (*model.UsageCounter, error)
	// Create inserts a fresh counter; domain.ErrAlreadyExists when a
	// concurrent writer got there first.
	Create(ctx context.Context, tx Tx, c *model.UsageCounter) error
	// CompareAndSwap writes (newCount, newResetAt) only if the row still
	// holds (prevCount, prevResetAt). Returns false on a lost race.
	CompareAndSwap(ctx context.Context, tx Tx, userID string, category model.UsageCategory,
		prevCount int, prevResetAt time.Time, newCount int, newResetAt time.Time) (bool, error)
}
