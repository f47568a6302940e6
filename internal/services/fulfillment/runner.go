package fulfillment

import (
	"context"
	"time"

	"github.com/sinhamoca/verificacao-sub002/internal/panel"
)

// RunConfig bounds one fulfillment run. Values come from configuration so
// tests can run with zero backoff.
type RunConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Attempt is the audited outcome of a single login + credit call. On success
// RawResponse holds the panel's reply verbatim; on failure it holds the error
// text.
type Attempt struct {
	Number      int
	Success     bool
	RawResponse string
	Err         error
}

// run drives the adapter through bounded login/apply-credit attempts. Every
// attempt starts from a brand-new session: panels in the wild hand out tokens
// and cookies that silently stop working, and re-authenticating is cheaper
// than diagnosing a stale session. All attempt outcomes are returned so each
// one can be persisted as an audit transaction; on exhaustion the last error
// is returned alongside them.
func run(ctx context.Context, adapter panel.Adapter, externalID string, credits int, cfg RunConfig) ([]Attempt, error) {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	attempts := make([]Attempt, 0, maxAttempts)
	var lastErr error

	for number := 1; number <= maxAttempts; number++ {
		result, err := runOnce(ctx, adapter, externalID, credits)
		if err == nil {
			attempts = append(attempts, Attempt{
				Number:      number,
				Success:     true,
				RawResponse: result.RawBody,
			})
			return attempts, nil
		}

		lastErr = err
		attempts = append(attempts, Attempt{
			Number:      number,
			RawResponse: err.Error(),
			Err:         err,
		})

		if number < maxAttempts && cfg.Backoff > 0 {
			if err := sleep(ctx, cfg.Backoff); err != nil {
				return attempts, err
			}
		}
	}

	return attempts, lastErr
}

func runOnce(ctx context.Context, adapter panel.Adapter, externalID string, credits int) (panel.Result, error) {
	session, err := adapter.Login(ctx)
	if err != nil {
		return panel.Result{}, err
	}

	return adapter.ApplyCredit(ctx, session, externalID, credits)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
