package auction

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

func TestPolicyApply(t *testing.T) {
	deadline := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	p := DefaultPolicy()

	tests := []struct {
		name      string
		remaining time.Duration
		extended  bool
	}{
		{"far from deadline", 45 * time.Second, false},
		{"just over threshold", 31 * time.Second, false},
		{"fractional floors into threshold", 30*time.Second + 900*time.Millisecond, true},
		{"at threshold", 30 * time.Second, true},
		{"inside threshold", 15 * time.Second, true},
		{"at deadline", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, extended := p.Apply(deadline, deadline.Add(-tt.remaining))
			check.Equal(t, tt.extended, extended)
			if tt.extended {
				check.True(t, got.Equal(deadline.Add(30*time.Second)))
			} else {
				check.True(t, got.Equal(deadline))
			}
		})
	}
}

func TestPolicyCustomWindow(t *testing.T) {
	deadline := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := Policy{Threshold: 10 * time.Second, Extension: time.Minute}

	got, extended := p.Apply(deadline, deadline.Add(-20*time.Second))
	check.False(t, extended)
	check.True(t, got.Equal(deadline))

	got, extended = p.Apply(deadline, deadline.Add(-5*time.Second))
	check.True(t, extended)
	check.True(t, got.Equal(deadline.Add(time.Minute)))
}

func TestFloorSeconds(t *testing.T) {
	check.Equal(t, 2*time.Second, floorSeconds(2900*time.Millisecond))
	check.Equal(t, time.Duration(0), floorSeconds(0))
	check.Equal(t, -time.Second, floorSeconds(-100*time.Millisecond))
	check.Equal(t, -2*time.Second, floorSeconds(-2*time.Second))
}
