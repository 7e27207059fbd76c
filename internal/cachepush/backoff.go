package cachepush

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultBackoffBase = 30 * time.Second
	defaultBackoffMax  = time.Hour
)

// Backoff computes how long a failed push waits before it is eligible again.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait after the given number of failed attempts:
// Base, 2*Base, 4*Base and so on, capped at Max. There is no jitter, so the
// schedule is reproducible from the attempt count alone.
func (b Backoff) Delay(attempts int) time.Duration {
	base, max := b.Base, b.Max
	if base <= 0 {
		base = defaultBackoffBase
	}
	if max <= 0 {
		max = defaultBackoffMax
	}
	if attempts < 1 {
		attempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = max
	exp.MaxElapsedTime = 0
	exp.Reset()

	d := exp.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = exp.NextBackOff()
	}
	return d
}
