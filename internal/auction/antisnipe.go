package auction

import "time"

// Default anti-snipe parameters.
const (
	DefaultSnipeThreshold = 30 * time.Second
	DefaultSnipeExtension = 30 * time.Second
)

// Policy extends a deadline when a winning bid lands too close to it.
type Policy struct {
	Threshold time.Duration
	Extension time.Duration
}

// DefaultPolicy returns the 30s/30s policy.
func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultSnipeThreshold, Extension: DefaultSnipeExtension}
}

// Apply evaluates the policy against the deadline observed at commit time.
// Remaining time is floored to whole seconds, so a bid 30.9s before the
// deadline with a 30s threshold extends it.
func (p Policy) Apply(deadline, now time.Time) (time.Time, bool) {
	remaining := floorSeconds(deadline.Sub(now))
	if remaining <= p.Threshold {
		return deadline.Add(p.Extension), true
	}
	return deadline, false
}

func floorSeconds(d time.Duration) time.Duration {
	floored := d.Truncate(time.Second)
	if d < 0 && floored != d {
		floored -= time.Second
	}
	return floored
}
