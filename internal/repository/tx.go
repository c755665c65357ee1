// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"time"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// DefaultMaxAttempts bounds transaction retries when no limit is configured.
const DefaultMaxAttempts = 5

// Transactor runs units of work in database transactions, retrying
// serialization failures and deadlocks with exponential backoff.
type Transactor struct {
	db          *gorm.DB
	maxAttempts uint
	// backoff settings; tests shrink them
	initialInterval time.Duration
	maxInterval     time.Duration
}

// NewTransactor returns a Transactor over db. maxAttempts below 1 uses DefaultMaxAttempts.
func NewTransactor(db *gorm.DB, maxAttempts int) *Transactor {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Transactor{
		db:              db,
		maxAttempts:     uint(maxAttempts),
		initialInterval: 20 * time.Millisecond,
		maxInterval:     500 * time.Millisecond,
	}
}

// DB returns the underlying connection for reads outside a transaction.
func (t *Transactor) DB(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx)
}

// Run executes fn in a transaction. fn may run more than once and must not
// have side effects outside tx. Retry exhaustion yields a TransactionFailed
// AppError; connection failures yield NetworkUnavailable. AppErrors returned
// by fn roll back the transaction and are returned unchanged.
func (t *Transactor) Run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.initialInterval
	bo.MaxInterval = t.maxInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			observability.TxRetries.Inc()
		}
		err := t.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return struct{}{}, nil
		}
		if isRetryable(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(t.maxAttempts))
	if err == nil {
		return nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return classify(err)
}

func classify(err error) error {
	var appErr *models.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isRetryable(err):
		observability.TxFailures.WithLabelValues("conflict").Inc()
		return models.NewTransactionFailedError(err)
	case isConnectionError(err):
		observability.TxFailures.WithLabelValues("network").Inc()
		return models.NewNetworkUnavailableError(err)
	default:
		observability.TxFailures.WithLabelValues("error").Inc()
		return models.NewInternalError(err)
	}
}

// readError maps a read failure. Missing records become NotFound for resource.
func readError(err error, resource string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if isConnectionError(err) {
		return models.NewNetworkUnavailableError(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return models.NewInternalError(err)
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08: connection exception
		return strings.HasPrefix(pgErr.Code, "08")
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
