package router

import (
	"context"
	"fmt"
	"time"

	"agentrelay/internal/domain"

	"github.com/cenkalti/backoff/v4"
)

// attempt runs one strategy under the retry policy, appending an attempt to
// msg for every try. It returns nil on success or the last strategy error.
func (r *Router) attempt(ctx context.Context, s domain.Strategy, msg *domain.Message) error {
	var (
		try  int
		last error
	)
	op := func() error {
		try++
		err := safeSend(ctx, s, msg)
		outcome := domain.OutcomeSuccess
		attempt := domain.DeliveryAttempt{Strategy: s.Name(), Outcome: outcome, Try: try}
		if err != nil {
			outcome = domain.OutcomeFailure
			attempt.Outcome = outcome
			attempt.Error = err.Error()
		}
		msg.AppendAttempt(attempt)
		r.observeAttempt(msg, s.Name(), outcome, try, err)

		if err == nil {
			return nil
		}
		last = err
		if !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.RetryNotify(op, r.policy(ctx), func(err error, wait time.Duration) {
		r.logger.Debug("transient failure, retrying", "id", msg.ID, "strategy", s.Name(), "try", try, "wait", wait, "err", err)
	})
	if err == nil {
		return nil
	}
	// A canceled context surfaces as ctx.Err(); the strategy error is more useful.
	if last != nil {
		return last
	}
	return err
}

func (r *Router) policy(ctx context.Context) backoff.BackOffContext {
	var b backoff.BackOff = backoff.NewConstantBackOff(r.retryDelay)
	b = backoff.WithMaxRetries(b, uint64(r.maxRetries))
	return backoff.WithContext(b, ctx)
}

// safeSend converts a panicking strategy into a permanent failure.
func safeSend(ctx context.Context, s domain.Strategy, msg *domain.Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = domain.Permanent(s.Name(), fmt.Errorf("panic: %v", p))
		}
	}()
	return s.Send(ctx, msg)
}
