package generation

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go"

	"github.com/at-ishikawa/studycore/internal/inference"
)

// DefaultRetryDelays is the wait before the 2nd, 3rd and 4th attempt.
var DefaultRetryDelays = []time.Duration{500 * time.Millisecond, time.Second, 1500 * time.Millisecond}

// RetryPolicy bounds how often a generator call is repeated.
type RetryPolicy struct {
	Attempts int
	// Delays[n] is the wait after the (n+1)th failed attempt. The last
	// delay repeats when there are more attempts than delays.
	Delays    []time.Duration
	Retryable func(error) bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		Delays:    DefaultRetryDelays,
		Retryable: inference.IsRetryable,
	}
}

func (p RetryPolicy) delay(n uint) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if int(n) >= len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[n]
}

// Do calls fn until it succeeds, returns a non-retryable error, the context
// ends or the attempts run out. It returns the number of attempts made and
// the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = inference.IsRetryable
	}

	made := 0
	err := retry.Do(
		func() error {
			made++
			return fn(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			return p.delay(n)
		}),
		retry.OnRetry(func(n uint, err error) {
			slog.Default().Warn("generation attempt failed",
				"attempt", n+1,
				"error", err)
		}),
	)
	return made, err
}
