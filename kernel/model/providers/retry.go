package providers

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/chalkline/agentkit/kernel/model"
)

var (
	defaultMaxRetries = 3
	retryBaseDelay    = 250 * time.Millisecond
	retryMaxDelay     = 4 * time.Second
)

// attemptFunc runs one provider request, pushing normalized events through
// emit. A false return from emit means the consumer stopped; the attempt
// must return promptly.
type attemptFunc func(ctx context.Context, emit func(*model.StreamEvent) bool) error

// retryStream re-issues a failed attempt with exponential backoff. Once
// any event reached the consumer the stream is committed: later errors
// pass through so the accumulator can reject the truncated message.
func retryStream(ctx context.Context, maxRetries int, attempt attemptFunc) iter.Seq2[*model.StreamEvent, error] {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return func(yield func(*model.StreamEvent, error) bool) {
		for retry := 0; ; retry++ {
			emitted := false
			stopped := false
			err := attempt(ctx, func(ev *model.StreamEvent) bool {
				emitted = true
				if !yield(ev, nil) {
					stopped = true
					return false
				}
				return true
			})
			if stopped || err == nil {
				return
			}
			if emitted || retry >= maxRetries ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				yield(nil, err)
				return
			}
			timer := time.NewTimer(retryDelayForAttempt(retry))
			select {
			case <-ctx.Done():
				timer.Stop()
				yield(nil, ctx.Err())
				return
			case <-timer.C:
			}
		}
	}
}

func retryDelayForAttempt(retry int) time.Duration {
	delay := retryBaseDelay
	for i := 0; i < retry; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}
