package repository

import (
	"context"
	"time"

	"speaking-exam-subscription/internal/domain/model"
)

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	// FindByProviderSubscriptionID resolves the account a provider push
	// notification (e.g. a Play purchase token) belongs to.
	FindByProviderSubscriptionID(ctx context.Context, tx Tx, ref string) (*model.User, error)

	// UpdateSubscription overwrites the embedded subscription state.
	UpdateSubscription(ctx context.Context, tx Tx, userID string, s model.SubscriptionState) error

	// ClearExpired reverts a stale paid tier to free in one conditional
	// write. Returns true only for the writer that actually flipped the row,
	// so concurrent stale reads normalize exactly once.
	ClearExpired(ctx context.Context, tx Tx, userID string, now time.Time) (bool, error)

	// SetCancelRequested records a provider cancellation notice without
	// touching tier or expiry.
	SetCancelRequested(ctx context.Context, tx Tx, userID string, at time.Time) error
}
