package http

import (
	"math/rand/v2"
	nethttp "net/http"
	"time"
)

const (
	// DefaultMaxAttempts is the total number of attempts per logical request (3 retries)
	DefaultMaxAttempts = 4

	// DefaultBaseDelay is the backoff base; attempt n waits about DefaultBaseDelay * 2^n
	DefaultBaseDelay = 2 * time.Second

	// DefaultMaxDelay caps a single backoff sleep
	DefaultMaxDelay = 30 * time.Second

	// DefaultJitterFactor spreads delays uniformly over [1-f, 1+f] of the nominal value
	DefaultJitterFactor = 0.75

	// maxBackoffShift keeps 2^attempt from overflowing a Duration
	maxBackoffShift = 30
)

// Idempotency declares whether a call may be replayed safely.
type Idempotency int

const (
	// IdempotencyDefault defers to the policy: GET and DELETE always retry, POST and PUT
	// retry unless the policy is strict.
	IdempotencyDefault Idempotency = iota
	// Idempotent marks a call as safe to replay whatever its method.
	Idempotent
	// NonIdempotent disables retries for the call.
	NonIdempotent
)

// Decision is the outcome of consulting the policy after a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Policy is an exponential backoff policy with jitter. It is a value type and safe for
// concurrent use; per-request state lives in the gateway's retry context.
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	// StrictIdempotency stops POST and PUT from being retried unless the call is
	// explicitly marked Idempotent.
	StrictIdempotency bool

	// rand returns a value in [0, 1); nil uses math/rand/v2
	rand func() float64
}

// DefaultPolicy returns 4 attempts, 2s base delay, 30s cap and 0.75 jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  DefaultMaxAttempts,
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterFactor: DefaultJitterFactor,
	}
}

// NoRetry returns a policy that performs a single attempt.
func NoRetry() Policy {
	p := DefaultPolicy()
	p.MaxAttempts = 1
	return p
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) jitter() float64 {
	switch {
	case p.JitterFactor < 0:
		return 0
	case p.JitterFactor >= 1:
		return 0.999
	default:
		return p.JitterFactor
	}
}

// ShouldRetry decides whether the attempt with 0-based index attempt, which failed with
// err, is followed by another one and how long to wait before it.
func (p Policy) ShouldRetry(attempt int, err error) Decision {
	if attempt < 0 || attempt+1 >= p.maxAttempts() || !IsRetryable(err) {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.Delay(attempt)}
}

// Delay returns BaseDelay * 2^attempt scaled by a random factor in [1-JitterFactor,
// 1+JitterFactor]. When MaxDelay is positive the nominal delay is capped at MaxDelay before
// jitter is applied, and the result never exceeds MaxDelay, so long retry chains keep
// spreading over [MaxDelay*(1-JitterFactor), MaxDelay].
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	nominal := float64(p.BaseDelay) * float64(uint64(1)<<uint(attempt))
	if p.MaxDelay > 0 && nominal > float64(p.MaxDelay) {
		nominal = float64(p.MaxDelay)
	}

	j := p.jitter()
	r := rand.Float64
	if p.rand != nil {
		r = p.rand
	}
	d := time.Duration(nominal * (1 - j + 2*j*r()))

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// AllowsMethod reports whether a call with the given method and idempotency may be retried.
func (p Policy) AllowsMethod(method string, idempotency Idempotency) bool {
	switch idempotency {
	case Idempotent:
		return true
	case NonIdempotent:
		return false
	}
	switch method {
	case nethttp.MethodGet, nethttp.MethodHead, nethttp.MethodDelete, nethttp.MethodOptions:
		return true
	case nethttp.MethodPost, nethttp.MethodPut, nethttp.MethodPatch:
		return !p.StrictIdempotency
	default:
		return false
	}
}

// retryContext is the per-logical-request retry state.
type retryContext struct {
	policy  Policy
	attempt int
}

func newRetryContext(p Policy) *retryContext {
	return &retryContext{policy: p}
}

// next consults the policy for the attempt that just failed and advances the counter
// when a retry is granted.
func (rc *retryContext) next(err error) Decision {
	d := rc.policy.ShouldRetry(rc.attempt, err)
	if d.Retry {
		rc.attempt++
	}
	return d
}

// attempts returns the number of attempts made so far, counting the current one.
func (rc *retryContext) attempts() int {
	return rc.attempt + 1
}

