package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryDelay returns the randomized exponential delay before retry number
// attempt (1-based), never above maxDelay.
func retryDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d > maxDelay {
		d = maxDelay
	}
	return d
}
