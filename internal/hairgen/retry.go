package hairgen

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SleepFunc waits for d or until ctx is done. Tests inject a fake.
type SleepFunc func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryPolicy wraps transient failures of submit and poll calls in bounded
// exponential backoff. Whether a failure is transient is decided by the
// classifier, never re-derived here, so the two can't disagree.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration

	classifier *Classifier
	sleep      SleepFunc
	logger     zerolog.Logger
}

func NewRetryPolicy(classifier *Classifier, sleep SleepFunc, logger zerolog.Logger) *RetryPolicy {
	if sleep == nil {
		sleep = realSleep
	}
	return &RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		classifier:     classifier,
		sleep:          sleep,
		logger:         logger,
	}
}

// Do runs fn up to MaxAttempts times, doubling the delay between attempts
// starting from InitialBackoff. Non-retryable failures return immediately.
// The returned error is always classified.
func (p *RetryPolicy) Do(ctx context.Context, service string, fn func() error) *ClassifiedError {
	backoff := p.InitialBackoff
	var last *ClassifiedError
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		last = p.classifier.Classify(err, service)
		if !last.Retryable || attempt == p.MaxAttempts {
			return last
		}
		p.logger.Debug().
			Str("service", service).
			Str("code", string(last.Code)).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("retry: transient failure, backing off")
		if sleepErr := p.sleep(ctx, backoff); sleepErr != nil {
			return p.classifier.Classify(sleepErr, service)
		}
		backoff *= 2
	}
	return last
}
