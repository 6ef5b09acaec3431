package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/notify-relay/internal/domain"
	"github.com/bissquit/notify-relay/internal/pkg/ctxlog"
	"golang.org/x/time/rate"
)

// RetryPolicy bounds delivery attempts for one message to one recipient.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy returns three attempts with 0.5s and 2s waits between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
	}
}

// Backoff returns the wait after failed attempt i (0-based): base*(i+1)^2.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	n := time.Duration(attempt + 1)
	return p.BaseDelay * n * n
}

// Executor runs a delivery with retries on transient failures.
type Executor struct {
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor. A non-positive MaxAttempts means one attempt.
func NewExecutor(policy RetryPolicy) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Executor{policy: policy, sleep: sleepContext}
}

// Do calls send until it succeeds, fails permanently or attempts run out.
// It returns the number of retries made.
func (e *Executor) Do(ctx context.Context, channel domain.ChannelType, send func(ctx context.Context) error) (int, error) {
	logger := ctxlog.FromContext(ctx)

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		err := send(ctx)
		if err == nil {
			recordDeliveryAttempt(channel, "success")
			return attempt, nil
		}

		if !IsRetryable(err) {
			recordDeliveryAttempt(channel, "permanent")
			return attempt, err
		}

		if attempt+1 >= e.policy.MaxAttempts {
			recordDeliveryAttempt(channel, "exhausted")
			return attempt, fmt.Errorf("max attempts exceeded: %w", err)
		}

		recordDeliveryAttempt(channel, "retry")

		delay := e.policy.Backoff(attempt)
		if d := RetryDelay(err); d > delay {
			delay = d
		}

		logger.Warn("send failed, retrying",
			"channel_type", channel,
			"attempt", attempt+1,
			"max_attempts", e.policy.MaxAttempts,
			"backoff", delay,
			"error", err,
		)

		if err := e.sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newThrottle spaces recipients of one group dispatch. The first
// reservation has no delay.
func newThrottle(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}
