package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/beam-me/core/internal/abn"
)

func TestAuthorizeCeiling(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	p := New(50, time.Hour)
	p.Now = func() time.Time { return fixed }

	cases := []struct {
		name     string
		proposed int
		allow    bool
		budget   int
	}{
		{"at ceiling", 50, true, 50},
		{"above ceiling", 51, false, 0},
		{"small", 3, true, 3},
		{"zero", 0, true, 0},
		{"negative", -1, false, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := p.Authorize("engineering-propulsion-v1", "engineering-flightcontrol-v1", tc.proposed)
			assert.Equal(t, tc.allow, d.Allow)
			assert.Equal(t, tc.budget, d.Budget)
			if tc.allow {
				assert.Equal(t, time.Hour, d.TTL)
				assert.Equal(t, fixed.Add(time.Hour), d.ExpiresAt)
				assert.Equal(t, abn.RequestTypes(), d.AllowedMsgTypes)
			} else {
				assert.Empty(t, d.AllowedMsgTypes)
				assert.True(t, d.ExpiresAt.IsZero())
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	p := New(0, 0)
	assert.Equal(t, DefaultMaxBudget, p.MaxBudget)
	assert.Equal(t, DefaultTTL, p.TTL)
}

func TestZeroValuePolicyUsesWallClock(t *testing.T) {
	p := &Policy{MaxBudget: 5, TTL: time.Minute}
	d := p.Authorize("a", "b", 5)
	assert.True(t, d.Allow)
	assert.WithinDuration(t, time.Now().Add(time.Minute), d.ExpiresAt, 5*time.Second)
}
