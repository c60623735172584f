package transport

import (
	"context"
	"net"
	"time"

	verrors "vmux/internal/errors"
	"vmux/internal/metrics"
	"vmux/internal/retry"
	"vmux/util"
)

// RetryDialer retries failed physical dials with exponential backoff
// and stops hammering a dead peer through a circuit breaker.  Only
// errors classified retryable by errors.IsRetryable are retried.
type RetryDialer struct {
	Dialer  Dialer
	Backoff *retry.Backoff
	Breaker *retry.Breaker // optional
	Metrics *metrics.Collector
	Logger  *util.Logger
}

// NewRetryDialer wraps d with attempts tries and a breaker that opens
// after attempts*2 consecutive failures.
func NewRetryDialer(d Dialer, attempts int, logger *util.Logger, m *metrics.Collector) *RetryDialer {
	return &RetryDialer{
		Dialer:  d,
		Backoff: retry.Attempts(attempts),
		Breaker: &retry.Breaker{MaxFailures: attempts * 2},
		Metrics: m,
		Logger:  logger,
	}
}

// Dial connects to address, retrying transient failures.
func (d *RetryDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	b := *d.Backoff
	b.Retryable = verrors.IsRetryable
	b.OnRetry = func(attempt int, err error, wait time.Duration) {
		d.Metrics.DialRetry()
		if d.Logger != nil {
			d.Logger.Verbose("dial %s attempt %d failed: %v (retrying in %v)", address, attempt, err, wait.Truncate(time.Millisecond))
		}
	}

	var conn net.Conn
	err := b.Do(ctx, func(ctx context.Context, _ int) error {
		dial := func() error {
			c, err := d.Dialer.Dial(ctx, network, address)
			if err != nil {
				return err
			}
			conn = c
			return nil
		}
		if d.Breaker == nil {
			return dial()
		}
		err := d.Breaker.Execute(dial)
		if verrors.Is(err, verrors.ErrCircuitOpen) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		d.Metrics.RecordError(err.Error())
		return nil, err
	}
	return conn, nil
}

// Close closes the wrapped dialer.
func (d *RetryDialer) Close() error { return d.Dialer.Close() }
