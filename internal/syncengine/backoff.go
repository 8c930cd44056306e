package syncengine

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffConfig shapes the delay before an operation that failed with a
// retryable error becomes due again.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the randomization factor, 0 for a deterministic schedule.
	Jitter float64
}

// schedule computes next_attempt_at delays from the retry count.
type schedule struct {
	config BackoffConfig
}

func newSchedule(config BackoffConfig) *schedule {
	if config.Initial <= 0 {
		config.Initial = 2 * time.Second
	}
	if config.Max < config.Initial {
		config.Max = config.Initial
	}
	if config.Multiplier < 1 {
		config.Multiplier = 2
	}
	return &schedule{config: config}
}

// Delay returns the wait after the given number of failed attempts.
func (s *schedule) Delay(retryCount int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     s.config.Initial,
		RandomizationFactor: s.config.Jitter,
		Multiplier:          s.config.Multiplier,
		MaxInterval:         s.config.Max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < retryCount; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
