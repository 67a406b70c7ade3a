package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid executor context")

	// Payment / webhook errors
	ErrSignatureInvalid    = errors.New("request signature verification failed")
	ErrAmountMismatch      = errors.New("reported amount does not match transaction")
	ErrAlreadyProcessed    = errors.New("transaction already processed")
	ErrPaymentNotCompleted = errors.New("payment not completed at provider")
	ErrTransactionCanceled = errors.New("transaction is canceled")
	ErrUpstreamUnavailable = errors.New("provider API unavailable")
	ErrUnknownProvider     = errors.New("unknown payment provider")

	// Entitlement / quota errors
	ErrQuotaExceeded        = errors.New("daily usage quota exceeded")
	ErrNoActiveSubscription = errors.New("no active subscription")
)
