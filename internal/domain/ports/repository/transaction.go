package repository

import (
	"context"
	"time"

	"speaking-exam-subscription/internal/domain/model"
)

// TransactionRepository is the purchase ledger. Rows are append-mostly and
// never deleted; the conditional Transition is the sole idempotency gate.
type TransactionRepository interface {
	Save(ctx context.Context, tx Tx, t *model.Transaction) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Transaction, error)
	// FindByProviderReference returns the transaction a provider reference was
	// credited against, or domain.ErrNotFound.
	FindByProviderReference(ctx context.Context, tx Tx, provider model.Provider, ref string) (*model.Transaction, error)

	// Transition moves id from->to with a single conditional write. It
	// returns false (and no error) when the row is not currently in from,
	// which callers must treat as "already applied elsewhere".
	Transition(ctx context.Context, tx Tx, id string, from, to model.TransactionStatus) (bool, error)

	// SetProviderReference records the provider-assigned reference. The
	// unique (provider, provider_reference) index rejects double assignment.
	SetProviderReference(ctx context.Context, tx Tx, id string, ref string) error
	// SetClickPrepareID persists the merchant_prepare_id issued on prepare.
	SetClickPrepareID(ctx context.Context, tx Tx, id string, prepareID int64) error

	// FindLatestPending returns the newest PENDING attempt for the user,
	// provider and plan, or domain.ErrNotFound.
	FindLatestPending(ctx context.Context, tx Tx, userID string, provider model.Provider, planID string) (*model.Transaction, error)

	// ListPendingOlderThan feeds the reconciler.
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Transaction, error)
}
