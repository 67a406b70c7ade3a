package model

import (
	"time"

	"speaking-exam-subscription/internal/domain"

	"github.com/google/uuid"
)

type Provider string

const (
	ProviderClick      Provider = "click"
	ProviderPayme      Provider = "payme"
	ProviderGooglePlay Provider = "google_play"
)

func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderClick, ProviderPayme, ProviderGooglePlay:
		return Provider(s), nil
	}
	return "", domain.ErrUnknownProvider
}

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusPrepared  TransactionStatus = "prepared"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusCanceled  TransactionStatus = "canceled"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// IsTerminal reports whether no further status transition is allowed.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusCanceled
}

// Transaction is one purchase attempt in the ledger. Rows are created at
// initiation and only ever move forward; completed and canceled are terminal.
type Transaction struct {
	ID                string // UUID, the only identifier exposed to clients
	UserID            string
	PlanID            string
	Provider          Provider
	Amount            int64 // minor currency unit (tiyin)
	Currency          string
	ProviderReference *string // provider transaction id / receipt id / order id
	ClickPrepareID    *int64  // merchant_prepare_id issued on Click prepare
	Status            TransactionStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func NewTransaction(userID, planID string, provider Provider, amount int64, currency string) (*Transaction, error) {
	if userID == "" || planID == "" || amount <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	if currency == "" {
		currency = "UZS"
	}
	now := time.Now()
	return &Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		PlanID:    planID,
		Provider:  provider,
		Amount:    amount,
		Currency:  currency,
		Status:    TransactionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
