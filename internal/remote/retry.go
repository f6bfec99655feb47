package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kalambet/jobtrack/internal/tracker"
)

// RetryPolicy bounds how long a remote call may keep failing.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// AttemptTimeout caps each individual call. Zero means no per-attempt limit.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy is used when a field of the configured policy is zero.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     4,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	AttemptTimeout:  20 * time.Second,
}

// Retrying wraps a Remote with exponential backoff. Transient failures are
// retried until the attempt budget runs out, at which point the call fails
// with tracker.ErrRemoteUnavailable. ErrRemoteMissing, ErrRejected and
// cancellation are returned immediately.
type Retrying struct {
	next   Remote
	policy RetryPolicy
	log    *slog.Logger
}

// WithRetry wraps r.
func WithRetry(r Remote, p RetryPolicy, log *slog.Logger) *Retrying {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = max(DefaultRetryPolicy.MaxInterval, p.InitialInterval)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Retrying{next: r, policy: p, log: log}
}

// PushRecord implements Remote.
func (r *Retrying) PushRecord(ctx context.Context, rec tracker.CompanyRecord) (string, error) {
	var ref string
	err := r.do(ctx, "push "+rec.Name, func(ctx context.Context) error {
		var err error
		ref, err = r.next.PushRecord(ctx, rec)
		return err
	})
	return ref, err
}

// FetchRecord implements Remote.
func (r *Retrying) FetchRecord(ctx context.Context, ref string) (*Snapshot, error) {
	var snap *Snapshot
	err := r.do(ctx, "fetch "+ref, func(ctx context.Context) error {
		var err error
		snap, err = r.next.FetchRecord(ctx, ref)
		return err
	})
	return snap, err
}

func (r *Retrying) do(ctx context.Context, op string, fn func(context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.policy.InitialInterval
	eb.MaxInterval = r.policy.MaxInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.policy.MaxAttempts-1)), ctx)

	attempts := 0
	var last error
	err := backoff.RetryNotify(func() error {
		attempts++
		actx, cancel := ctx, context.CancelFunc(func() {})
		if r.policy.AttemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, r.policy.AttemptTimeout)
		}
		defer cancel()

		err := fn(actx)
		if err == nil {
			return nil
		}
		last = err
		if permanent(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		r.log.Warn("remote call failed, retrying", "op", op, "attempt", attempts, "wait", wait, "error", err)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	if permanent(last) {
		return last
	}
	return fmt.Errorf("%s: %w after %d attempts: %v", op, tracker.ErrRemoteUnavailable, attempts, last)
}

func permanent(err error) bool {
	return errors.Is(err, tracker.ErrRemoteMissing) || errors.Is(err, ErrRejected)
}
