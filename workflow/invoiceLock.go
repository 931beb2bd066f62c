package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/trading_backend/config"
	"bitbucket.org/mmdatafocus/trading_backend/models"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// InvoiceLocker serializes writers of one invoice across service instances.
// The returned release func must always be called.
type InvoiceLocker interface {
	Lock(ctx context.Context, invoiceId int) (release func(), err error)
}

// RedisInvoiceLocker holds "invoiceLock:<id>" in redis for the life of a transaction.
// Redis failures other than contention are logged and the caller proceeds on
// database row locks alone.
type RedisInvoiceLocker struct {
	Client *redislock.Client
	Logger *logrus.Logger
	TTL    time.Duration
	// Retry bounds how long Lock waits for a busy invoice.
	RetryInterval time.Duration
	RetryCount    int
}

func NewRedisInvoiceLocker(client *redislock.Client, logger *logrus.Logger, ttl time.Duration) *RedisInvoiceLocker {
	return &RedisInvoiceLocker{
		Client:        client,
		Logger:        logger,
		TTL:           ttl,
		RetryInterval: 100 * time.Millisecond,
		RetryCount:    30,
	}
}

func invoiceLockKey(invoiceId int) string {
	return fmt.Sprintf("invoiceLock:%d", invoiceId)
}

func (l *RedisInvoiceLocker) Lock(ctx context.Context, invoiceId int) (func(), error) {
	noop := func() {}
	if l == nil || l.Client == nil {
		return noop, nil
	}
	key := invoiceLockKey(invoiceId)
	lock, err := l.Client.Obtain(ctx, key, l.TTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.RetryInterval), l.RetryCount),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return noop, &models.ConflictError{Reason: fmt.Sprintf("invoice %d is being modified by another request, retry", invoiceId)}
	}
	if err != nil {
		if ctx.Err() != nil {
			return noop, ctx.Err()
		}
		config.LogError(l.Logger, "InvoiceLock", "Lock", "obtaining invoice lock, continuing without it", key, err)
		return noop, nil
	}
	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			config.LogError(l.Logger, "InvoiceLock", "Release", "releasing invoice lock", key, err)
		}
	}, nil
}
