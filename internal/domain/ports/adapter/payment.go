package adapter

import (
	"context"
	"time"

	"speaking-exam-subscription/internal/domain/model"
)

// RemoteStatus normalizes a provider's purchase/receipt/subscription state.
type RemoteStatus string

const (
	RemoteStatusActive   RemoteStatus = "active"
	RemoteStatusExpired  RemoteStatus = "expired"
	RemoteStatusCanceled RemoteStatus = "canceled"
	RemoteStatusUnknown  RemoteStatus = "unknown"
)

// ProviderState is the normalized result of a remote status check.
type ProviderState struct {
	Status    RemoteStatus
	ExpiresAt *time.Time // provider-reported expiry, when it has one
	OrderID   string     // provider order id for this billing period, if any
	Renewal   bool       // provider reported this period as a renewal
}

// LaunchParams is whatever the provider's checkout/SDK needs to start the
// purchase: a signed pay URL, or a bundle of identifiers for an in-app SDK.
type LaunchParams struct {
	PayURL            string            `json:"pay_url,omitempty"`
	ProviderReference string            `json:"provider_reference,omitempty"`
	SDKParams         map[string]string `json:"sdk_params,omitempty"`
}

// GooglePlayReference packs the subscription product id together with the
// purchase token; purchases.subscriptions.get needs both path segments.
func GooglePlayReference(productID, purchaseToken string) string {
	return productID + ":" + purchaseToken
}

// PaymentGateway is the hex port a payment provider implements. Initiation
// only reserves the ledger row; it must never assume the purchase succeeds.
type PaymentGateway interface {
	Name() model.Provider

	// Initiate returns the launch artifact for a prepared PENDING transaction.
	Initiate(ctx context.Context, txn *model.Transaction, plan *model.Plan) (LaunchParams, error)

	// FetchStatus normalizes the provider's view of the given reference
	// (transaction id, receipt id or purchase token).
	FetchStatus(ctx context.Context, reference string) (ProviderState, error)
}
