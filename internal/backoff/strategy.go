package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the delay to wait before retry attempt number
// attempt+1, given the attempt that just failed. Attempt numbers are
// 1-based: Delay(1, ...) is the pause after the first failed attempt.
type Strategy interface {
	Delay(attempt int, base, ceiling time.Duration, multiplier, jitter float64) time.Duration
}

// ExponentialJitterStrategy grows the delay geometrically,
// min(base * multiplier^(attempt-1), ceiling), then adds a uniform
// random bump in [0, jitter*delay]. The bump is clamped at the ceiling
// so successive delays stay non-decreasing.
type ExponentialJitterStrategy struct{}

func (ExponentialJitterStrategy) Delay(attempt int, base, ceiling time.Duration, multiplier, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Exponent capped to keep the float math away from overflow.
	if attempt > 31 {
		attempt = 31
	}

	delay := time.Duration(float64(base) * Pow(multiplier, attempt-1))
	if delay <= 0 || delay > ceiling {
		delay = ceiling
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		bump := time.Duration(float64(delay) * jitter * rand.Float64())
		if delay+bump > ceiling {
			delay = ceiling
		} else {
			delay += bump
		}
	}
	return delay
}

// DecorrelatedJitterStrategy implements the AWS decorrelated jitter
// variant: a random delay in [base, min(ceiling, base*3^(attempt-1))].
// It spreads coordinated clients harder than uniform jitter at the cost
// of non-monotonic individual sequences.
type DecorrelatedJitterStrategy struct{}

func (DecorrelatedJitterStrategy) Delay(attempt int, base, ceiling time.Duration, multiplier, jitter float64) time.Duration {
	if attempt <= 1 {
		return base
	}
	if attempt > 11 {
		attempt = 11
	}

	lower := float64(base)
	upper := lower * Pow(3.0, attempt-1)

	max := float64(ceiling)
	if upper > max || upper < 0 {
		upper = max
	}
	if upper < lower {
		upper = lower
	}

	delay := time.Duration(lower + rand.Float64()*(upper-lower))
	if delay < 0 || delay > ceiling {
		delay = ceiling
	}
	return delay
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

// Pow is integer exponentiation for float64 bases. Exponents are small
// here (bounded by the attempt caps above) so the loop beats math.Pow.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
