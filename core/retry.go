package core

import (
	"math/rand"
	"sync"
	"time"
)

const (
	defaultRetryInitialBackoff = time.Second
	defaultRetryMaxBackoff     = 60 * time.Second
	defaultRetryMaxAttempts    = 3
)

// ExponentialBackoffPolicy doubles the delay per failed attempt, caps it at
// Ceiling, and spreads the result with symmetric jitter so a burst of
// failures does not come due for re-claim in lockstep.
type ExponentialBackoffPolicy struct {
	Initial        time.Duration
	Ceiling        time.Duration
	MaxAttempts    int
	JitterFraction float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewExponentialBackoffPolicy(cfg RetryConfig) *ExponentialBackoffPolicy {
	return &ExponentialBackoffPolicy{
		Initial:        cfg.InitialBackoff(),
		Ceiling:        cfg.MaxBackoff(),
		MaxAttempts:    cfg.MaxAttempts,
		JitterFraction: cfg.JitterFraction,
	}
}

// NextDelay returns the backoff delay after the given 1-based attempt. The
// unjittered ladder is Initial, 2*Initial, 4*Initial, ... capped at Ceiling.
func (p *ExponentialBackoffPolicy) NextDelay(attempt int) time.Duration {
	if p == nil {
		return defaultRetryInitialBackoff
	}
	if attempt < 1 {
		attempt = 1
	}
	initial := p.Initial
	if initial <= 0 {
		initial = defaultRetryInitialBackoff
	}
	ceiling := p.Ceiling
	if ceiling <= 0 {
		ceiling = defaultRetryMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= ceiling || delay < 0 {
			delay = ceiling
			break
		}
	}
	if delay > ceiling {
		delay = ceiling
	}
	return p.jitter(delay)
}

func (p *ExponentialBackoffPolicy) ShouldRetry(attempt int) bool {
	if p == nil {
		return false
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultRetryMaxAttempts
	}
	return attempt < maxAttempts
}

// jitter shifts delay by a random offset in [-JitterFraction, +JitterFraction]
// of its value. A zero fraction returns the delay unchanged.
func (p *ExponentialBackoffPolicy) jitter(delay time.Duration) time.Duration {
	fraction := p.JitterFraction
	if fraction <= 0 || fraction >= 1 || delay <= 0 {
		return delay
	}

	p.mu.Lock()
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	offset := (p.rng.Float64()*2 - 1) * fraction
	p.mu.Unlock()

	jittered := time.Duration(float64(delay) * (1 + offset))
	if jittered < 0 {
		return 0
	}
	return jittered
}

var _ RetryPolicy = (*ExponentialBackoffPolicy)(nil)
