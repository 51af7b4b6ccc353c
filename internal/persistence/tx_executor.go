package persistence

import (
	"context"
	"database/sql"
	"math"
	prand "math/rand"
	"time"

	"github.com/btcsuite/btclog"
)

const (
	// DefaultNumTxRetries is the default number of times a transaction is
	// retried if it fails with a repeatable error.
	DefaultNumTxRetries = 10

	// DefaultInitialRetryDelay is the default initial delay between
	// retries, randomised between -50% and +50% and doubled on each
	// subsequent attempt up to DefaultMaxRetryDelay.
	DefaultInitialRetryDelay = 40 * time.Millisecond

	// DefaultMaxRetryDelay caps the backoff delay between retries.
	DefaultMaxRetryDelay = 3 * time.Second
)

// TxOptions controls what type of database transaction is created.
type TxOptions interface {
	ReadOnly() bool
}

// BaseTxOptions is the concrete TxOptions every driver understands.
type BaseTxOptions struct {
	readOnly bool
}

// ReadOnly implements TxOptions.
func (o *BaseTxOptions) ReadOnly() bool { return o.readOnly }

// ReadTxOption returns a read-only TxOptions.
func ReadTxOption() *BaseTxOptions { return &BaseTxOptions{readOnly: true} }

// WriteTxOption returns a read-write TxOptions.
func WriteTxOption() *BaseTxOptions { return &BaseTxOptions{readOnly: false} }

// QueryCreator builds a Q (typically a thin query wrapper) given a live
// *sql.Tx.
type QueryCreator[Q any] func(*sql.Tx) Q

// BatchedQuerier can begin a new transaction given a set of TxOptions.
type BatchedQuerier interface {
	BeginTx(ctx context.Context, opts TxOptions) (*sql.Tx, error)
}

// BatchedTx executes a body against Q in a single atomic transaction.
type BatchedTx[Q any] interface {
	ExecTx(ctx context.Context, txOptions TxOptions,
		txBody func(Q) error) error
}

type txExecutorOptions struct {
	numRetries        int
	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration
}

func defaultTxExecutorOptions() *txExecutorOptions {
	return &txExecutorOptions{
		numRetries:        DefaultNumTxRetries,
		initialRetryDelay: DefaultInitialRetryDelay,
		maxRetryDelay:     DefaultMaxRetryDelay,
	}
}

func (t *txExecutorOptions) randRetryDelay(attempt int) time.Duration {
	halfDelay := t.initialRetryDelay / 2
	randDelay := prand.Int63n(int64(t.initialRetryDelay)) //nolint:gosec

	initialDelay := halfDelay + time.Duration(randDelay)
	if attempt == 0 {
		return initialDelay
	}

	factor := time.Duration(math.Pow(2, math.Min(float64(attempt), 32)))
	actualDelay := initialDelay * factor

	if actualDelay > t.maxRetryDelay {
		return t.maxRetryDelay
	}

	return actualDelay
}

// TxExecutorOption configures a TransactionExecutor.
type TxExecutorOption func(*txExecutorOptions)

// WithTxRetries overrides the number of retry attempts.
func WithTxRetries(n int) TxExecutorOption {
	return func(o *txExecutorOptions) { o.numRetries = n }
}

// WithTxRetryDelay overrides the initial retry backoff.
func WithTxRetryDelay(d time.Duration) TxExecutorOption {
	return func(o *txExecutorOptions) { o.initialRetryDelay = d }
}

// TransactionExecutor runs a txBody against a generic Query type inside a
// retrying, backed-off database transaction.
type TransactionExecutor[Query any] struct {
	BatchedQuerier

	createQuery QueryCreator[Query]
	opts        *txExecutorOptions
	log         btclog.Logger
}

// NewTransactionExecutor builds a TransactionExecutor wrapping db.
func NewTransactionExecutor[Query any](db BatchedQuerier,
	createQuery QueryCreator[Query], log btclog.Logger,
	opts ...TxExecutorOption) *TransactionExecutor[Query] {

	txOpts := defaultTxExecutorOptions()
	for _, optFunc := range opts {
		optFunc(txOpts)
	}

	return &TransactionExecutor[Query]{
		BatchedQuerier: db,
		createQuery:    createQuery,
		opts:           txOpts,
		log:            log,
	}
}

// ExecTx implements BatchedTx.
func (t *TransactionExecutor[Q]) ExecTx(ctx context.Context,
	txOptions TxOptions, txBody func(Q) error) error {

	waitBeforeRetry := func(attempt int) {
		delay := t.opts.randRetryDelay(attempt)
		t.log.Debugf("Retrying transaction due to serialization or "+
			"deadlock error, attempt=%v delay=%v", attempt, delay)
		time.Sleep(delay)
	}

	for i := 0; i < t.opts.numRetries; i++ {
		tx, err := t.BeginTx(ctx, txOptions)
		if err != nil {
			dbErr := MapSQLError(err)
			if IsSerializationOrDeadlockError(dbErr) {
				waitBeforeRetry(i)
				continue
			}

			return dbErr
		}

		//nolint:errcheck
		defer tx.Rollback()

		if err := txBody(t.createQuery(tx)); err != nil {
			dbErr := MapSQLError(err)
			if IsSerializationOrDeadlockError(dbErr) {
				_ = tx.Rollback()
				waitBeforeRetry(i)
				continue
			}

			return dbErr
		}

		if err := tx.Commit(); err != nil {
			dbErr := MapSQLError(err)
			if IsSerializationOrDeadlockError(dbErr) {
				_ = tx.Rollback()
				waitBeforeRetry(i)
				continue
			}

			return dbErr
		}

		return nil
	}

	return ErrRetriesExceeded
}
