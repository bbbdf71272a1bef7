package network

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultRetryInterval is the first wait between read attempts. Later waits
// grow exponentially.
const DefaultRetryInterval = 200 * time.Millisecond

// RetryReader retries transport failures on the read side of a chain
// backend. Rejections, missing transactions and malformed answers are
// returned at once. Broadcasts are not retried here.
type RetryReader struct {
	next     ChainReader
	retries  uint64
	interval time.Duration
}

// ChainReader is the read side of a chain backend.
type ChainReader interface {
	UnspentLister
	TxStatusProvider
}

// Compile-time interface check.
var _ ChainReader = (*RetryReader)(nil)

// NewRetryReader wraps next so that each read is retried up to retries
// times. A non-positive interval selects DefaultRetryInterval.
func NewRetryReader(next ChainReader, retries int, interval time.Duration) *RetryReader {
	initPrometheusMetrics()

	if retries < 0 {
		retries = 0
	}
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	return &RetryReader{next: next, retries: uint64(retries), interval: interval}
}

// ListUnspent retries next.ListUnspent while it fails with ErrTransport.
func (r *RetryReader) ListUnspent(ctx context.Context, address string) ([]*UTXO, error) {
	return retryRead(ctx, r, "list_unspent", func() ([]*UTXO, error) {
		return r.next.ListUnspent(ctx, address)
	})
}

// GetTxStatus retries next.GetTxStatus while it fails with ErrTransport.
func (r *RetryReader) GetTxStatus(ctx context.Context, txid string) (*TxStatus, error) {
	return retryRead(ctx, r, "tx_status", func() (*TxStatus, error) {
		return r.next.GetTxStatus(ctx, txid)
	})
}

func (r *RetryReader) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.interval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, r.retries), ctx)
}

func retryRead[T any](ctx context.Context, r *RetryReader, op string, read func() (T, error)) (T, error) {
	var out T
	err := backoff.RetryNotify(func() error {
		v, err := read()
		if err != nil {
			if !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}, r.policy(ctx), func(error, time.Duration) {
		prometheusChainRetries.WithLabelValues(op).Inc()
	})
	return out, err
}
