package usecase

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"speaking-exam-subscription/internal/domain"
	"speaking-exam-subscription/internal/domain/model"
	"speaking-exam-subscription/internal/domain/ports/adapter"
	"speaking-exam-subscription/internal/domain/ports/repository"
	"speaking-exam-subscription/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type PaymentUseCase interface {
	// Initiate reserves a PENDING ledger row and returns the provider's
	// launch artifact. It never assumes the purchase will succeed.
	Initiate(ctx context.Context, userID, planID string, provider model.Provider) (*model.Transaction, adapter.LaunchParams, error)

	// Verify handles the client-submitted confirmation flow (Payme receipt
	// id, Google Play purchase token): check remote status, then grant
	// through the ledger's idempotency gate.
	Verify(ctx context.Context, userID string, provider model.Provider, token, planID string) (*model.Transaction, model.SubscriptionState, error)

	// Reconcile re-checks one stale PENDING transaction against the
	// provider and finalizes it either way. Used by the background scan.
	Reconcile(ctx context.Context, txn *model.Transaction) error
}

type paymentUC struct {
	ledger      repository.TransactionRepository
	plans       repository.PlanRepository
	entitlement EntitlementUseCase
	gateways    map[model.Provider]adapter.PaymentGateway
	tm          repository.TransactionManager
	log         *zerolog.Logger
}

func NewPaymentUseCase(
	ledger repository.TransactionRepository,
	plans repository.PlanRepository,
	entitlement EntitlementUseCase,
	gateways map[model.Provider]adapter.PaymentGateway,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *paymentUC {
	return &paymentUC{
		ledger:      ledger,
		plans:       plans,
		entitlement: entitlement,
		gateways:    gateways,
		tm:          tm,
		log:         logger,
	}
}

func (u *paymentUC) gateway(p model.Provider) (adapter.PaymentGateway, error) {
	gw, ok := u.gateways[p]
	if !ok {
		return nil, domain.ErrUnknownProvider
	}
	return gw, nil
}

func (u *paymentUC) Initiate(ctx context.Context, userID, planID string, provider model.Provider) (*model.Transaction, adapter.LaunchParams, error) {
	gw, err := u.gateway(provider)
	if err != nil {
		return nil, adapter.LaunchParams{}, err
	}
	plan, err := u.plans.FindByID(ctx, repository.NoTX, planID)
	if err != nil {
		return nil, adapter.LaunchParams{}, err
	}

	txn, err := model.NewTransaction(userID, plan.ID, provider, plan.PriceTiyin, plan.Currency)
	if err != nil {
		return nil, adapter.LaunchParams{}, err
	}

	params, err := gw.Initiate(ctx, txn, plan)
	if err != nil {
		return nil, adapter.LaunchParams{}, err
	}
	if params.ProviderReference != "" {
		ref := params.ProviderReference
		txn.ProviderReference = &ref
	}

	if err := u.ledger.Save(ctx, repository.NoTX, txn); err != nil {
		return nil, adapter.LaunchParams{}, err
	}
	metrics.IncPayment(string(provider), string(txn.Status))
	u.log.Info().
		Str("transaction_id", txn.ID).
		Str("user_id", userID).
		Str("plan_id", plan.ID).
		Str("provider", string(provider)).
		Int64("amount", txn.Amount).
		Msg("payment initiated")
	return txn, params, nil
}

func (u *paymentUC) Verify(ctx context.Context, userID string, provider model.Provider, token, planID string) (*model.Transaction, model.SubscriptionState, error) {
	gw, err := u.gateway(provider)
	if err != nil {
		return nil, model.SubscriptionState{}, err
	}
	plan, err := u.plans.FindByID(ctx, repository.NoTX, planID)
	if err != nil {
		return nil, model.SubscriptionState{}, err
	}

	reference := token
	var providerSubID *string
	if provider == model.ProviderGooglePlay {
		reference = adapter.GooglePlayReference(plan.GooglePlayProductID, token)
		providerSubID = &token
	}

	state, err := gw.FetchStatus(ctx, reference)
	if err != nil {
		return nil, model.SubscriptionState{}, err
	}
	switch state.Status {
	case adapter.RemoteStatusActive:
	case adapter.RemoteStatusCanceled, adapter.RemoteStatusExpired:
		return nil, model.SubscriptionState{}, domain.ErrTransactionCanceled
	default:
		return nil, model.SubscriptionState{}, domain.ErrPaymentNotCompleted
	}

	// The reference credited into the ledger: the provider's per-period
	// order id when it has one, otherwise the token/receipt itself.
	creditRef := token
	if state.OrderID != "" {
		creditRef = state.OrderID
	}
	kind := GrantNew
	if state.Renewal {
		kind = GrantRenewal
	}

	var (
		outTxn   *model.Transaction
		outState model.SubscriptionState
	)
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		txn, err := u.findOrCreateVerified(ctx, tx, userID, provider, plan, creditRef)
		if err != nil {
			return err
		}
		if txn.UserID != userID {
			return domain.ErrNotFound
		}

		ok, err := u.ledger.Transition(ctx, tx, txn.ID, model.TransactionStatusPending, model.TransactionStatusCompleted)
		if err != nil {
			return err
		}
		if !ok {
			// Duplicate submission: idempotent success, nothing re-granted.
			current, err := u.ledger.FindByID(ctx, tx, txn.ID)
			if err != nil {
				return err
			}
			if current.Status != model.TransactionStatusCompleted {
				return domain.ErrTransactionCanceled
			}
			outTxn = current
			sub, err := u.entitlement.Resolve(ctx, userID)
			if err != nil {
				return err
			}
			outState = sub
			return nil
		}

		sub, err := u.entitlement.Grant(ctx, tx, txn, plan, kind, providerSubID)
		if err != nil {
			return err
		}
		txn.Status = model.TransactionStatusCompleted
		metrics.IncPayment(string(provider), string(txn.Status))
		metrics.AddPaymentRevenue(txn.Currency, txn.Amount)
		outTxn = txn
		outState = sub
		return nil
	})
	if errors.Is(err, domain.ErrAlreadyProcessed) {
		return u.resolveProcessed(ctx, userID, provider, creditRef)
	}
	if err != nil {
		return nil, model.SubscriptionState{}, err
	}
	return outTxn, outState, nil
}

// resolveProcessed answers a verify that lost the provider-reference race:
// the winner's committed row is read back outside the aborted transaction
// and, when completed, served as an idempotent success.
func (u *paymentUC) resolveProcessed(ctx context.Context, userID string, provider model.Provider, creditRef string) (*model.Transaction, model.SubscriptionState, error) {
	txn, err := u.ledger.FindByProviderReference(ctx, repository.NoTX, provider, creditRef)
	if err != nil {
		return nil, model.SubscriptionState{}, err
	}
	if txn.UserID != userID {
		return nil, model.SubscriptionState{}, domain.ErrNotFound
	}
	if txn.Status != model.TransactionStatusCompleted {
		return nil, model.SubscriptionState{}, domain.ErrTransactionCanceled
	}
	sub, err := u.entitlement.Resolve(ctx, userID)
	if err != nil {
		return nil, model.SubscriptionState{}, err
	}
	return txn, sub, nil
}

// findOrCreateVerified resolves the ledger row a verified purchase belongs
// to: the row already credited for this reference, else the user's pending
// initiation, else a fresh row (purchase completed without initiate, e.g. a
// Play renewal restored on a new device).
func (u *paymentUC) findOrCreateVerified(ctx context.Context, tx repository.Tx, userID string, provider model.Provider, plan *model.Plan, creditRef string) (*model.Transaction, error) {
	if txn, err := u.ledger.FindByProviderReference(ctx, tx, provider, creditRef); err == nil {
		return txn, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	txn, err := u.ledger.FindLatestPending(ctx, tx, userID, provider, plan.ID)
	if errors.Is(err, domain.ErrNotFound) {
		txn, err = model.NewTransaction(userID, plan.ID, provider, plan.PriceTiyin, plan.Currency)
		if err != nil {
			return nil, err
		}
		if err := u.ledger.Save(ctx, tx, txn); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if err := u.ledger.SetProviderReference(ctx, tx, txn.ID, creditRef); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// A concurrent verify credited this reference first. The unique
			// index has already aborted this DB transaction, so the winner
			// must be resolved outside it; signal the caller.
			return nil, domain.ErrAlreadyProcessed
		}
		return nil, err
	}
	txn.ProviderReference = &creditRef
	return txn, nil
}

func (u *paymentUC) Reconcile(ctx context.Context, txn *model.Transaction) error {
	gw, err := u.gateway(txn.Provider)
	if err != nil {
		return err
	}
	if txn.ProviderReference == nil {
		return domain.ErrNotFound
	}

	reference := *txn.ProviderReference
	if txn.Provider == model.ProviderGooglePlay {
		plan, err := u.plans.FindByID(ctx, repository.NoTX, txn.PlanID)
		if err != nil {
			return err
		}
		reference = adapter.GooglePlayReference(plan.GooglePlayProductID, reference)
	}

	state, err := gw.FetchStatus(ctx, reference)
	if err != nil {
		return err
	}

	switch state.Status {
	case adapter.RemoteStatusActive:
		plan, err := u.plans.FindByID(ctx, repository.NoTX, txn.PlanID)
		if err != nil {
			return err
		}
		return u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			ok, err := u.ledger.Transition(ctx, tx, txn.ID, model.TransactionStatusPending, model.TransactionStatusCompleted)
			if err != nil || !ok {
				return err
			}
			kind := GrantAuto
			if state.Renewal {
				kind = GrantRenewal
			}
			if _, err := u.entitlement.Grant(ctx, tx, txn, plan, kind, nil); err != nil {
				return err
			}
			metrics.IncPayment(string(txn.Provider), string(model.TransactionStatusCompleted))
			metrics.AddPaymentRevenue(txn.Currency, txn.Amount)
			return nil
		})
	case adapter.RemoteStatusCanceled, adapter.RemoteStatusExpired:
		_, err := u.ledger.Transition(ctx, repository.NoTX, txn.ID, model.TransactionStatusPending, model.TransactionStatusCanceled)
		if err == nil {
			metrics.IncPayment(string(txn.Provider), string(model.TransactionStatusCanceled))
		}
		return err
	default:
		return domain.ErrPaymentNotCompleted
	}
}
