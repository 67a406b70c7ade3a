package usecase

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"speaking-exam-subscription/internal/domain"
	"speaking-exam-subscription/internal/domain/model"
	"speaking-exam-subscription/internal/domain/ports/repository"
	"speaking-exam-subscription/internal/infra/adapters/payment"
	"speaking-exam-subscription/internal/infra/metrics"
)

// Click reply codes. These are wire contract: Click matches on the exact
// negative integer, so they must never be renumbered.
const (
	ClickReplySuccess         = 0
	ClickReplySignFailed      = -1
	ClickReplyIncorrectAmount = -2
	ClickReplyActionNotFound  = -3
	ClickReplyAlreadyPaid     = -4
	ClickReplyUserNotFound    = -5
	ClickReplyTxnNotFound     = -6
	ClickReplyUpdateFailed    = -7
	ClickReplyBadRequest      = -8
	ClickReplyTxnCanceled     = -9
)

// ClickRequest carries Click's POST form fields. Numeric fields stay strings:
// the signature covers their wire representation, not their parsed value.
type ClickRequest struct {
	ClickTransID      string
	ServiceID         string
	MerchantTransID   string
	MerchantPrepareID string
	Amount            string
	Action            string
	ErrorCode         int
	SignTime          string
	SignString        string
}

// ClickReply is the synchronous JSON answer Click expects on both phases.
type ClickReply struct {
	ClickTransID      string `json:"click_trans_id"`
	MerchantTransID   string `json:"merchant_trans_id"`
	MerchantPrepareID *int64 `json:"merchant_prepare_id,omitempty"`
	MerchantConfirmID *int64 `json:"merchant_confirm_id,omitempty"`
	Error             int    `json:"error"`
	ErrorNote         string `json:"error_note"`
}

// clickNext is the two-phase transition table: ledger status x wire action ->
// the status this request drives the row toward. A missing entry is a
// structurally invalid request (complete before prepare, prepare after
// cancel); diagonal entries are the idempotent replays Click's retry policy
// requires to succeed.
var clickNext = map[model.TransactionStatus]map[string]model.TransactionStatus{
	model.TransactionStatusPending: {
		payment.ClickActionPrepare: model.TransactionStatusPrepared,
	},
	model.TransactionStatusPrepared: {
		payment.ClickActionPrepare:  model.TransactionStatusPrepared,
		payment.ClickActionComplete: model.TransactionStatusCompleted,
	},
	model.TransactionStatusCompleted: {
		payment.ClickActionComplete: model.TransactionStatusCompleted,
	},
}

// Compile-time check
var _ ClickWebhookUseCase = (*clickWebhookUC)(nil)

type ClickWebhookUseCase interface {
	// Handle runs one prepare or complete request through the state machine
	// and always produces a reply; transport errors are expressed as Click
	// codes, never as HTTP failures.
	Handle(ctx context.Context, req ClickRequest) ClickReply
}

type clickWebhookUC struct {
	ledger      repository.TransactionRepository
	plans       repository.PlanRepository
	entitlement EntitlementUseCase
	tm          repository.TransactionManager
	secretKey   string
	log         *zerolog.Logger
	now         func() time.Time
}

func NewClickWebhookUseCase(
	ledger repository.TransactionRepository,
	plans repository.PlanRepository,
	entitlement EntitlementUseCase,
	tm repository.TransactionManager,
	secretKey string,
	logger *zerolog.Logger,
) *clickWebhookUC {
	return &clickWebhookUC{
		ledger:      ledger,
		plans:       plans,
		entitlement: entitlement,
		tm:          tm,
		secretKey:   secretKey,
		log:         logger,
		now:         time.Now,
	}
}

func (u *clickWebhookUC) Handle(ctx context.Context, req ClickRequest) ClickReply {
	reply := ClickReply{ClickTransID: req.ClickTransID, MerchantTransID: req.MerchantTransID}

	if req.Action != payment.ClickActionPrepare && req.Action != payment.ClickActionComplete {
		return u.fail(reply, req, ClickReplyActionNotFound, "Action not found")
	}
	if !payment.VerifyClickSign(payment.ClickSignParams{
		ClickTransID:      req.ClickTransID,
		ServiceID:         req.ServiceID,
		SecretKey:         u.secretKey,
		MerchantTransID:   req.MerchantTransID,
		MerchantPrepareID: req.MerchantPrepareID,
		Amount:            req.Amount,
		Action:            req.Action,
		SignTime:          req.SignTime,
	}, req.SignString) {
		return u.fail(reply, req, ClickReplySignFailed, "SIGN CHECK FAILED!")
	}

	txn, err := u.ledger.FindByID(ctx, repository.NoTX, req.MerchantTransID)
	if errors.Is(err, domain.ErrNotFound) {
		return u.fail(reply, req, ClickReplyUserNotFound, "User does not exist")
	}
	if err != nil {
		u.log.Error().Err(err).Str("merchant_trans_id", req.MerchantTransID).Msg("click webhook: ledger lookup failed")
		return u.fail(reply, req, ClickReplyUpdateFailed, "Failed to update transaction")
	}

	// Click reports a payer-side abort through the error field; release the
	// row so a later initiate starts clean.
	if req.ErrorCode < 0 {
		u.cancel(ctx, txn)
		return u.fail(reply, req, ClickReplyTxnCanceled, "Transaction canceled")
	}

	if payment.FormatClickAmount(txn.Amount) != req.Amount {
		u.log.Warn().Err(domain.ErrAmountMismatch).
			Str("transaction_id", txn.ID).
			Str("amount", req.Amount).
			Msg("click webhook: amount differs from ledger row")
		return u.fail(reply, req, ClickReplyIncorrectAmount, "Incorrect parameter amount")
	}

	if _, ok := clickNext[txn.Status][req.Action]; !ok {
		switch {
		case req.Action == payment.ClickActionPrepare && txn.Status == model.TransactionStatusCompleted:
			return u.fail(reply, req, ClickReplyAlreadyPaid, "Already paid")
		case txn.Status == model.TransactionStatusCanceled || txn.Status == model.TransactionStatusFailed:
			return u.fail(reply, req, ClickReplyTxnCanceled, "Transaction canceled")
		default:
			// complete before prepare: the prepare id Click echoes cannot
			// exist yet, so the transaction it names does not either.
			return u.fail(reply, req, ClickReplyTxnNotFound, "Transaction does not exist")
		}
	}

	if req.Action == payment.ClickActionPrepare {
		return u.prepare(ctx, txn, req, reply)
	}
	return u.complete(ctx, txn, req, reply)
}

func (u *clickWebhookUC) prepare(ctx context.Context, txn *model.Transaction, req ClickRequest, reply ClickReply) ClickReply {
	if txn.Status == model.TransactionStatusPrepared && txn.ClickPrepareID != nil {
		// Duplicate prepare replays the original reply verbatim.
		reply.MerchantPrepareID = txn.ClickPrepareID
		return u.succeed(reply, req)
	}

	prepareID := u.now().UnixNano()
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ok, err := u.ledger.Transition(ctx, tx, txn.ID, model.TransactionStatusPending, model.TransactionStatusPrepared)
		if err != nil {
			return err
		}
		if !ok {
			// A concurrent prepare won the gate; surface its id instead.
			current, err := u.ledger.FindByID(ctx, tx, txn.ID)
			if err != nil {
				return err
			}
			if current.Status != model.TransactionStatusPrepared || current.ClickPrepareID == nil {
				return domain.ErrTransactionCanceled
			}
			prepareID = *current.ClickPrepareID
			return nil
		}
		if err := u.ledger.SetClickPrepareID(ctx, tx, txn.ID, prepareID); err != nil {
			return err
		}
		// A click_trans_id can only belong to one ledger row; a unique
		// violation here means Click replayed a foreign transaction id and
		// the whole prepare must fail.
		return u.ledger.SetProviderReference(ctx, tx, txn.ID, req.ClickTransID)
	})
	if errors.Is(err, domain.ErrTransactionCanceled) {
		return u.fail(reply, req, ClickReplyTxnCanceled, "Transaction canceled")
	}
	if err != nil {
		u.log.Error().Err(err).Str("transaction_id", txn.ID).Msg("click prepare failed")
		return u.fail(reply, req, ClickReplyUpdateFailed, "Failed to update transaction")
	}

	reply.MerchantPrepareID = &prepareID
	return u.succeed(reply, req)
}

func (u *clickWebhookUC) complete(ctx context.Context, txn *model.Transaction, req ClickRequest, reply ClickReply) ClickReply {
	echoed, err := strconv.ParseInt(req.MerchantPrepareID, 10, 64)
	if err != nil {
		return u.fail(reply, req, ClickReplyBadRequest, "Error in request from click")
	}
	if txn.ClickPrepareID == nil || *txn.ClickPrepareID != echoed {
		return u.fail(reply, req, ClickReplyTxnNotFound, "Transaction does not exist")
	}

	if txn.Status == model.TransactionStatusCompleted {
		reply.MerchantConfirmID = txn.ClickPrepareID
		return u.succeed(reply, req)
	}

	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ok, err := u.ledger.Transition(ctx, tx, txn.ID, model.TransactionStatusPrepared, model.TransactionStatusCompleted)
		if err != nil {
			return err
		}
		if !ok {
			// Lost the gate to a concurrent complete: success only if that
			// writer actually finished the payment.
			current, err := u.ledger.FindByID(ctx, tx, txn.ID)
			if err != nil {
				return err
			}
			if current.Status != model.TransactionStatusCompleted {
				return domain.ErrTransactionCanceled
			}
			return nil
		}
		plan, err := u.plans.FindByID(ctx, tx, txn.PlanID)
		if err != nil {
			return err
		}
		if _, err := u.entitlement.Grant(ctx, tx, txn, plan, GrantAuto, nil); err != nil {
			return err
		}
		metrics.IncPayment(string(txn.Provider), string(model.TransactionStatusCompleted))
		metrics.AddPaymentRevenue(txn.Currency, txn.Amount)
		return nil
	})
	if errors.Is(err, domain.ErrTransactionCanceled) {
		return u.fail(reply, req, ClickReplyTxnCanceled, "Transaction canceled")
	}
	if err != nil {
		u.log.Error().Err(err).Str("transaction_id", txn.ID).Msg("click complete failed")
		return u.fail(reply, req, ClickReplyUpdateFailed, "Failed to update transaction")
	}

	reply.MerchantConfirmID = txn.ClickPrepareID
	return u.succeed(reply, req)
}

func (u *clickWebhookUC) cancel(ctx context.Context, txn *model.Transaction) {
	for _, from := range []model.TransactionStatus{model.TransactionStatusPending, model.TransactionStatusPrepared} {
		ok, err := u.ledger.Transition(ctx, repository.NoTX, txn.ID, from, model.TransactionStatusCanceled)
		if err != nil {
			u.log.Error().Err(err).Str("transaction_id", txn.ID).Msg("click cancel transition failed")
			return
		}
		if ok {
			metrics.IncPayment(string(txn.Provider), string(model.TransactionStatusCanceled))
			return
		}
	}
}

func (u *clickWebhookUC) succeed(reply ClickReply, req ClickRequest) ClickReply {
	reply.Error = ClickReplySuccess
	reply.ErrorNote = "Success"
	metrics.IncClickReply(req.Action, reply.Error)
	return reply
}

func (u *clickWebhookUC) fail(reply ClickReply, req ClickRequest, code int, note string) ClickReply {
	reply.Error = code
	reply.ErrorNote = note
	metrics.IncClickReply(req.Action, code)
	u.log.Warn().
		Str("click_trans_id", req.ClickTransID).
		Str("merchant_trans_id", req.MerchantTransID).
		Str("action", req.Action).
		Int("code", code).
		Msg("click webhook rejected")
	return reply
}
