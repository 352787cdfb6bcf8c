package realtime

import "time"

// ReconnectPolicy controls the pause before each transport attempt in the
// fallback chain. The zero value is the documented baseline: immediate
// fallback to the next tier with no backoff. Setting BaseDelay enables
// capped exponential backoff across consecutive failures.
type ReconnectPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Delay returns the wait before attempt n (0-based).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
