package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"speaking-exam-subscription/internal/domain"
	"speaking-exam-subscription/internal/domain/model"
	"speaking-exam-subscription/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*userRepo)(nil)

type userRepo struct{ pool *pgxpool.Pool }

func NewUserRepo(pool *pgxpool.Pool) *userRepo {
	return &userRepo{pool: pool}
}

const userColumns = `id, username, registered_at, last_active_at, tier, expires_at, has_used_trial, cancel_requested, cancel_requested_at, provider_subscription_id`

func scanUser(row pgx.Row) (*model.User, error) {
	u := &model.User{}
	if err := row.Scan(&u.ID, &u.Username, &u.RegisteredAt, &u.LastActiveAt,
		&u.Subscription.Tier, &u.Subscription.ExpiresAt, &u.Subscription.HasUsedTrial,
		&u.Subscription.CancelRequested, &u.Subscription.CancelRequestedAt,
		&u.Subscription.ProviderSubscriptionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return u, nil
}

func (r *userRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (` + userColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
  username=$2, last_active_at=$4, tier=$5, expires_at=$6, has_used_trial=$7,
  cancel_requested=$8, cancel_requested_at=$9, provider_subscription_id=$10;`

	s := u.Subscription
	_, err := execSQL(ctx, r.pool, tx, q, u.ID, u.Username, u.RegisteredAt, u.LastActiveAt,
		s.Tier, s.ExpiresAt, s.HasUsedTrial, s.CancelRequested, s.CancelRequestedAt, s.ProviderSubscriptionID)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *userRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	return scanUser(row)
}

func (r *userRepo) FindByProviderSubscriptionID(ctx context.Context, tx repository.Tx, ref string) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE provider_subscription_id=$1 LIMIT 1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", ref)
	if err != nil {
		return nil, err
	}
	return scanUser(row)
}

func (r *userRepo) UpdateSubscription(ctx context.Context, tx repository.Tx, userID string, s model.SubscriptionState) error {
	const q = `
UPDATE users
   SET tier=$2, expires_at=$3, has_used_trial=$4, cancel_requested=$5,
       cancel_requested_at=$6, provider_subscription_id=$7
 WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, s.Tier, s.ExpiresAt, s.HasUsedTrial,
		s.CancelRequested, s.CancelRequestedAt, s.ProviderSubscriptionID)
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

// ClearExpired reverts a stale paid tier to free. The WHERE clause makes the
// write conditional, so of N concurrent stale reads exactly one observes
// RowsAffected=1; trial and cancel flags survive the reversion.
func (r *userRepo) ClearExpired(ctx context.Context, tx repository.Tx, userID string, now time.Time) (bool, error) {
	const q = `
UPDATE users
   SET tier='free', expires_at=NULL, provider_subscription_id=NULL
 WHERE id=$1
   AND tier <> 'free'
   AND expires_at IS NOT NULL
   AND expires_at < $2;`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, now)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *userRepo) SetCancelRequested(ctx context.Context, tx repository.Tx, userID string, at time.Time) error {
	const q = `UPDATE users SET cancel_requested=TRUE, cancel_requested_at=$2 WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, at)
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
