package consent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEligible(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		state State
		want  bool
	}{
		{"opted in", OptedIn(at, "signup"), true},
		{"opted out", OptedOut(at, "stop"), false},
		{"default granted", State{Granted: true}, true},
		{"granted but stamped", State{Granted: true, OptedOutAt: &at}, false},
		{"withdrawn without stamp", State{Granted: false}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Eligible(tc.state))
			assert.Equal(t, tc.want, tc.state.Eligible())
		})
	}
}

func TestValidateRejectsMixedShapes(t *testing.T) {
	at := time.Now()
	assert.NoError(t, OptedIn(at, "").Validate())
	assert.NoError(t, OptedOut(at, "").Validate())
	assert.ErrorIs(t, State{Granted: true, OptedOutAt: &at}.Validate(), ErrInconsistentState)
	assert.ErrorIs(t, State{Granted: false}.Validate(), ErrInconsistentState)
}

func TestOptedOutStampsBothTimestamps(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := OptedOut(at, "customer asked")
	assert.Equal(t, at, *s.OptedOutAt)
	assert.Equal(t, at, *s.ChangedAt)
	assert.Equal(t, "customer asked", *s.ChangeReason)
}
