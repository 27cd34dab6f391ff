package connection

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func TestNewBackOff_Linear(t *testing.T) {
	b := newBackOff(Options{
		MaxReconnectAttempts: 4,
		ReconnectDelay:       100 * time.Millisecond,
		MaxReconnectDelay:    250 * time.Millisecond,
		Backoff:              BackoffLinear,
	})

	got := []time.Duration{b.NextBackOff(), b.NextBackOff(), b.NextBackOff(), b.NextBackOff(), b.NextBackOff()}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		250 * time.Millisecond,
		250 * time.Millisecond,
		backoff.Stop,
	}, got)

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.NextBackOff())
}

func TestNewBackOff_Exponential(t *testing.T) {
	b := newBackOff(Options{
		MaxReconnectAttempts: 3,
		ReconnectDelay:       100 * time.Millisecond,
		MaxReconnectDelay:    time.Second,
		Backoff:              BackoffExponential,
	})

	first := b.NextBackOff()
	second := b.NextBackOff()
	third := b.NextBackOff()

	assert.InDelta(t, float64(100*time.Millisecond), float64(first), float64(20*time.Millisecond))
	assert.InDelta(t, float64(200*time.Millisecond), float64(second), float64(40*time.Millisecond))
	assert.InDelta(t, float64(400*time.Millisecond), float64(third), float64(80*time.Millisecond))
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestNewBackOff_NoRetries(t *testing.T) {
	b := newBackOff(Options{ReconnectDelay: time.Second})
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "unknown", Status(42).String())
}
