package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque executor handle. Repositories accept nil (pool), a
// *pgxpool.Pool, a *pgxpool.Conn, or a pgx.Tx; anything else is rejected
// with domain.ErrInvalidExecContext.
type Tx any

// NoTX is passed where a call site explicitly opts out of a transaction.
var NoTX Tx = nil

// TransactionManager runs fn inside a database transaction. fn receives the
// tx handle to thread through repository calls; an error rolls back.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
