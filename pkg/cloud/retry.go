package cloud

import (
	"math/rand"
	"time"
)

// Retry policy for transport-level failures: linear backoff scaled by the
// attempt number plus bounded random jitter.
const (
	// defaultMaxAttempts is the total number of attempts per call.
	defaultMaxAttempts = 3

	// defaultRetryInterval is the linear backoff unit: the n-th retry
	// waits n times this interval.
	defaultRetryInterval = 1 * time.Second

	// retryJitterMax bounds the random jitter added to each wait.
	retryJitterMax = 500 * time.Millisecond
)

// RandomSource provides random values for jitter calculation. A
// deterministic source can be injected for testing.
type RandomSource interface {
	// Float64 returns a random float64 in [0.0, 1.0).
	Float64() float64
}

type defaultRandomSource struct{}

func (defaultRandomSource) Float64() float64 {
	return rand.Float64()
}

// DefaultRandomSource is the default jitter source using math/rand.
var DefaultRandomSource RandomSource = defaultRandomSource{}

// linearBackOff implements the backoff.BackOff contract with linearly
// growing waits: attempt*interval plus up to retryJitterMax of jitter.
type linearBackOff struct {
	interval time.Duration
	random   RandomSource
	attempt  int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	jitter := time.Duration(b.random.Float64() * float64(retryJitterMax))
	return time.Duration(b.attempt)*b.interval + jitter
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}
