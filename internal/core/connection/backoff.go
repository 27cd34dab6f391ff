package connection

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffKind selects how the reconnect delay grows.
type BackoffKind string

const (
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// linearBackOff grows the delay by base on every call, capped at max.
type linearBackOff struct {
	base time.Duration
	max  time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	d := b.base * time.Duration(b.n)
	if b.max > 0 && d > b.max {
		return b.max
	}
	return d
}

func (b *linearBackOff) Reset() { b.n = 0 }

// newBackOff builds the reconnect policy. The returned BackOff yields
// backoff.Stop once maxAttempts delays were handed out.
func newBackOff(opts Options) backoff.BackOff {
	var b backoff.BackOff
	switch opts.Backoff {
	case BackoffExponential:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = opts.ReconnectDelay
		eb.MaxInterval = opts.MaxReconnectDelay
		eb.Multiplier = 2
		eb.RandomizationFactor = 0.2
		eb.MaxElapsedTime = 0
		eb.Reset()
		b = eb
	default:
		b = &linearBackOff{base: opts.ReconnectDelay, max: opts.MaxReconnectDelay}
	}
	return backoff.WithMaxRetries(b, uint64(max(opts.MaxReconnectAttempts, 0)))
}
