package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"speaking-exam-subscription/internal/domain"
	"speaking-exam-subscription/internal/domain/model"
	"speaking-exam-subscription/internal/domain/ports/repository"
)

var _ repository.TransactionRepository = (*transactionRepo)(nil)

// transactionRepo persists the purchase ledger. The schema carries a unique
// index on (provider, provider_reference) WHERE provider_reference IS NOT NULL;
// that index plus the conditional Transition below are the idempotency guard.
type transactionRepo struct{ pool *pgxpool.Pool }

func NewTransactionRepo(pool *pgxpool.Pool) *transactionRepo {
	return &transactionRepo{pool: pool}
}

const txnColumns = `id, user_id, plan_id, provider, amount, currency, provider_reference, click_prepare_id, status, created_at, updated_at`

func scanTxn(row pgx.Row) (*model.Transaction, error) {
	t := &model.Transaction{}
	if err := row.Scan(&t.ID, &t.UserID, &t.PlanID, &t.Provider, &t.Amount, &t.Currency,
		&t.ProviderReference, &t.ClickPrepareID, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return t, nil
}

func (r *transactionRepo) Save(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	const q = `
INSERT INTO transactions (` + txnColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
  provider_reference=$7, click_prepare_id=$8, status=$9, updated_at=$11;`

	_, err := execSQL(ctx, r.pool, tx, q, t.ID, t.UserID, t.PlanID, t.Provider, t.Amount, t.Currency,
		t.ProviderReference, t.ClickPrepareID, t.Status, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *transactionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Transaction, error) {
	q := `SELECT ` + txnColumns + ` FROM transactions WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	return scanTxn(row)
}

func (r *transactionRepo) FindByProviderReference(ctx context.Context, tx repository.Tx, provider model.Provider, ref string) (*model.Transaction, error) {
	q := `SELECT ` + txnColumns + ` FROM transactions WHERE provider=$1 AND provider_reference=$2 LIMIT 1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", provider, ref)
	if err != nil {
		return nil, err
	}
	return scanTxn(row)
}

// Transition is the idempotency gate: a single conditional write that moves
// the row forward only when it still sits in the expected status. Terminal
// rows are never regressed regardless of the caller's intent.
func (r *transactionRepo) Transition(ctx context.Context, tx repository.Tx, id string, from, to model.TransactionStatus) (bool, error) {
	if from.IsTerminal() {
		return false, domain.ErrInvalidArgument
	}
	const q = `
UPDATE transactions
   SET status = $3, updated_at = NOW()
 WHERE id = $1
   AND status = $2;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, from, to)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *transactionRepo) SetProviderReference(ctx context.Context, tx repository.Tx, id string, ref string) error {
	const q = `UPDATE transactions SET provider_reference=$2, updated_at=NOW() WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, ref)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// unique (provider, provider_reference): another row already
			// credited this reference
			return domain.ErrAlreadyExists
		}
		return domain.ErrOperationFailed
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *transactionRepo) SetClickPrepareID(ctx context.Context, tx repository.Tx, id string, prepareID int64) error {
	const q = `UPDATE transactions SET click_prepare_id=$2, updated_at=NOW() WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, prepareID)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *transactionRepo) FindLatestPending(ctx context.Context, tx repository.Tx, userID string, provider model.Provider, planID string) (*model.Transaction, error) {
	q := `SELECT ` + txnColumns + ` FROM transactions
 WHERE user_id=$1 AND provider=$2 AND plan_id=$3 AND status='pending'
 ORDER BY created_at DESC LIMIT 1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", userID, provider, planID)
	if err != nil {
		return nil, err
	}
	return scanTxn(row)
}

func (r *transactionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + txnColumns + ` FROM transactions WHERE status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
