package dispatch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"CampaignPulse/internal/email"
	"CampaignPulse/internal/metrics"
)

type batchState int

const (
	batchPending batchState = iota
	batchAttempting
	batchRetryScheduled
	batchSucceeded
	batchExhausted
)

func (s batchState) String() string {
	switch s {
	case batchPending:
		return "pending"
	case batchAttempting:
		return "attempting"
	case batchRetryScheduled:
		return "retry_scheduled"
	case batchSucceeded:
		return "succeeded"
	case batchExhausted:
		return "exhausted"
	}
	return "unknown"
}

// batchRun is the retry state of one batch. A permanent provider error
// moves straight to batchExhausted.
type batchRun struct {
	state    batchState
	attempts int
	delay    time.Duration
	lastErr  error
	backoff  backoff.BackOff
}

func (e *Engine) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = e.BaseDelay << uint(e.MaxRetries)
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// deliver drives one batch through the provider until it succeeds, hits a
// permanent error, or has used MaxRetries retries. Once issued, a provider
// call runs to completion or timeout.
func (e *Engine) deliver(ctx context.Context, msg *email.Message) batchRun {
	run := batchRun{state: batchPending, backoff: e.newBackOff()}

	for {
		switch run.state {

		case batchPending:
			run.state = batchAttempting

		case batchRetryScheduled:
			e.sleep(run.delay)
			run.state = batchAttempting

		case batchAttempting:
			if e.Limiter != nil {
				if err := e.Limiter.Wait(ctx); err != nil {
					run.lastErr = err
					run.state = batchExhausted
					continue
				}
			}

			run.attempts++
			err := e.Provider.SendBatch(ctx, msg)

			switch {
			case err == nil:
				run.lastErr = nil
				run.state = batchSucceeded
				metrics.ProviderAttempts.WithLabelValues("success").Inc()
			case !email.IsTransient(err):
				run.lastErr = err
				run.state = batchExhausted
				metrics.ProviderAttempts.WithLabelValues("permanent").Inc()
			case run.attempts > e.MaxRetries:
				run.lastErr = err
				run.state = batchExhausted
				metrics.ProviderAttempts.WithLabelValues("transient").Inc()
			default:
				run.lastErr = err
				run.delay = run.backoff.NextBackOff()
				run.state = batchRetryScheduled
				metrics.ProviderAttempts.WithLabelValues("transient").Inc()
			}

		case batchSucceeded, batchExhausted:
			return run
		}
	}
}
