package stack

import (
	"math"
	"math/rand"
	"time"
)

// NextRetryDelay returns how long to wait after transmission number
// attempt (0 for the first send) before retransmitting. The result is never
// below base.
func NextRetryDelay(cfg BackoffConfig, base time.Duration, attempt int, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		return jitter(cfg, base, rng)
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(base) * math.Pow(cfg.Multiplier, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if delay < float64(base) {
		delay = float64(base)
	}
	return jitter(cfg, time.Duration(delay), rng)
}

// jitter stretches d by up to 50%; it never shortens it.
func jitter(cfg BackoffConfig, d time.Duration, rng *rand.Rand) time.Duration {
	if !cfg.Jitter {
		return d
	}
	f := 1.25
	if rng != nil {
		f = 1.0 + rng.Float64()*0.5
	}
	return time.Duration(float64(d) * f)
}
