package directory

import (
	"context"
	mathrand "math/rand"
	"time"

	"konsol.org/internal/obs"
)

// RetryPolicy bounds how often a transient directory failure is retried.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter is the fraction of the computed delay randomized in both
	// directions, e.g. 0.5 turns 400ms into 200..600ms.
	Jitter float64
}

// DefaultRetryPolicy matches the recommended bounds: three attempts with
// doubling delays and half-width jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.5,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.Multiplier <= 1.0 {
		p.Multiplier = 2.0
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0.5
	}
	return p
}

// Delay returns the backoff before the given 1-based retry attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
			break
		}
	}
	if p.Jitter > 0 {
		spread := d * p.Jitter
		d = d - spread + mathrand.Float64()*2*spread
	}
	return time.Duration(d)
}

// Retrier wraps a Client with bounded retries for transient failures.
// Permanent failures surface immediately. It never holds database state
// while sleeping; the orchestrator calls it strictly after its local commit.
type Retrier struct {
	client Client
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

var _ Client = (*Retrier)(nil)

// NewRetrier wraps client with the given policy.
func NewRetrier(client Client, policy RetryPolicy) *Retrier {
	return &Retrier{
		client: client,
		policy: policy.normalized(),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Retrier) UpdateRole(ctx context.Context, externalID, role string) error {
	return r.do(ctx, "update_role", func() error {
		return r.client.UpdateRole(ctx, externalID, role)
	})
}

func (r *Retrier) CreateMapping(ctx context.Context, account Account) (string, error) {
	var id string
	err := r.do(ctx, "create_mapping", func() error {
		var callErr error
		id, callErr = r.client.CreateMapping(ctx, account)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Ping is never retried; probes want the current answer.
func (r *Retrier) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}

func (r *Retrier) do(ctx context.Context, op string, call func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err := call()
		if err == nil {
			obs.RecordDirectorySync(op, "ok")
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			obs.RecordDirectorySync(op, "permanent")
			return err
		}
		obs.RecordDirectorySync(op, "transient")
		if attempt == r.policy.MaxAttempts {
			break
		}
		if err := r.sleep(ctx, r.policy.Delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}
