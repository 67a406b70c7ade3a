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

var _ repository.UsageRepository = (*usageRepo)(nil)

type usageRepo struct{ pool *pgxpool.Pool }

func NewUsageRepo(pool *pgxpool.Pool) *usageRepo {
	return &usageRepo{pool: pool}
}

func (r *usageRepo) Find(ctx context.Context, tx repository.Tx, userID string, category model.UsageCategory) (*model.UsageCounter, error) {
	const q = `SELECT user_id, category, count, last_reset_at FROM usage_counters WHERE user_id=$1 AND category=$2;`
	row, err := pickRow(ctx, r.pool, tx, q, userID, category)
	if err != nil {
		return nil, err
	}
	c := &model.UsageCounter{}
	if err := row.Scan(&c.UserID, &c.Category, &c.Count, &c.LastResetAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return c, nil
}

func (r *usageRepo) Create(ctx context.Context, tx repository.Tx, c *model.UsageCounter) error {
	const q = `INSERT INTO usage_counters (user_id, category, count, last_reset_at) VALUES ($1,$2,$3,$4);`
	_, err := execSQL(ctx, r.pool, tx, q, c.UserID, c.Category, c.Count, c.LastResetAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return domain.ErrOperationFailed
	}
	return nil
}

// CompareAndSwap keys the write on the previous (count, last_reset_at) pair.
// A concurrent consumer that advanced the row first makes this a no-op, and
// the use case re-reads and retries.
func (r *usageRepo) CompareAndSwap(ctx context.Context, tx repository.Tx, userID string, category model.UsageCategory,
	prevCount int, prevResetAt time.Time, newCount int, newResetAt time.Time) (bool, error) {
	const q = `
UPDATE usage_counters
   SET count = $5, last_reset_at = $6
 WHERE user_id = $1
   AND category = $2
   AND count = $3
   AND last_reset_at = $4;`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, category, prevCount, prevResetAt, newCount, newResetAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}
