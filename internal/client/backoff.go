package client

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds reconnection: exponential delays with jitter, capped
// at MaxInterval, for at most MaxAttempts dials per outage.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the randomization factor in [0, 1].
	Jitter      float64
	MaxAttempts int
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		Jitter:          0.5,
		MaxAttempts:     5,
	}
}

// Validate rejects policies the session cannot run with.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return errors.New("retry policy: max attempts must be at least 1")
	case p.InitialInterval < 0 || p.MaxInterval < 0:
		return errors.New("retry policy: intervals must not be negative")
	case p.MaxInterval < p.InitialInterval:
		return errors.New("retry policy: max interval is below initial interval")
	case p.Multiplier < 1:
		return errors.New("retry policy: multiplier must be at least 1")
	case p.Jitter < 0 || p.Jitter > 1:
		return errors.New("retry policy: jitter must be within [0, 1]")
	}
	return nil
}

// delays yields successive reconnect delays.
type delays struct {
	b   *backoff.ExponentialBackOff
	max time.Duration
}

func (p RetryPolicy) delays() *delays {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.Reset()
	return &delays{b: b, max: p.MaxInterval}
}

func (d *delays) next() time.Duration {
	delay := d.b.NextBackOff()
	if delay == backoff.Stop || delay > d.max {
		return d.max
	}
	return delay
}

func (d *delays) reset() {
	d.b.Reset()
}
