package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"speaking-exam-subscription/internal/domain"
	"speaking-exam-subscription/internal/domain/model"
	"speaking-exam-subscription/internal/domain/ports/repository"
	"speaking-exam-subscription/internal/usecase"
)

// PaymentReconciler periodically scans for stale pending transactions and
// tries to finalize them against the provider. This covers webhooks that
// never arrived and processes that crashed between verify and grant.
type PaymentReconciler struct {
	uc         usecase.PaymentUseCase
	ledger     repository.TransactionRepository
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old a pending row must be to retry
	failAfter  time.Duration // when a referenceless row is written off
	log        *zerolog.Logger
}

func NewPaymentReconciler(
	uc usecase.PaymentUseCase,
	ledger repository.TransactionRepository,
	interval, staleAfter, failAfter time.Duration,
	logger *zerolog.Logger,
) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if failAfter <= 0 {
		failAfter = 24 * time.Hour
	}
	return &PaymentReconciler{
		uc:         uc,
		ledger:     ledger,
		interval:   interval,
		staleAfter: staleAfter,
		failAfter:  failAfter,
		log:        logger,
	}
}

func (w *PaymentReconciler) Start(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *PaymentReconciler) tick(ctx context.Context) {
	now := time.Now()
	pending, err := w.ledger.ListPendingOlderThan(ctx, repository.NoTX, now.Add(-w.staleAfter), 200)
	if err != nil {
		w.log.Error().Err(err).Msg("payment-reconciler: list pending failed")
		return
	}
	for _, txn := range pending {
		if txn.ProviderReference == nil {
			// Never reached the provider, nothing to ask about. Old enough
			// rows are written off so the scan stays bounded.
			if now.Sub(txn.CreatedAt) > w.failAfter {
				w.expire(ctx, txn)
			}
			continue
		}
		err := w.uc.Reconcile(ctx, txn)
		switch {
		case err == nil:
			w.log.Info().Str("transaction_id", txn.ID).Msg("payment-reconciler: reconciled")
		case errors.Is(err, domain.ErrPaymentNotCompleted):
			// Still in flight on the provider's side; next tick retries.
		default:
			w.log.Warn().Err(err).Str("transaction_id", txn.ID).Msg("payment-reconciler: reconcile failed")
		}
	}
}

func (w *PaymentReconciler) expire(ctx context.Context, txn *model.Transaction) {
	ok, err := w.ledger.Transition(ctx, repository.NoTX, txn.ID, txn.Status, model.TransactionStatusFailed)
	if err != nil {
		w.log.Error().Err(err).Str("transaction_id", txn.ID).Msg("payment-reconciler: write-off failed")
		return
	}
	if ok {
		w.log.Info().Str("transaction_id", txn.ID).Msg("payment-reconciler: abandoned transaction written off")
	}
}
