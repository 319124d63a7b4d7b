package session

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// newBackoff returns the reconnect schedule: min, 2*min, 4*min... capped
// at max, without jitter.
func newBackoff(min, max time.Duration) *backoff.ExponentialBackOff {
	if max < min {
		max = min
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}
